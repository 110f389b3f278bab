// Package models defines the core domain models for splitbot.
//
// # Ledger Models
//
//   - Expense / ExpenseShare: a payment made by one member on behalf of others, split into shares
//     that each debtor confirms or rejects
//   - Settlement: a claimed payment from one member to another, confirmed by the receiver
//   - DebtEdge: the pairwise "from owes to" table that expenses and settlements net into
//
// # Conversation Models
//
//   - Draft: an in-progress multi-step form owned by one member in one group
//   - FileRef: an archived attachment pointing at a draft, expense or settlement
//   - Group / GroupSettings: per-chat configuration and the two exclusive lock slots
//
// # Design Principles
//
//  1. **Fixed point money**: every amount is an Amount (int64 scaled by 10^5), never a float
//  2. **Platform identity**: users and groups are keyed by the chat platform's int64 ids
//  3. **Avoid circular references**: use ID values instead of pointers for relationships
//  4. **Closed unions**: draft payloads and file relations are sum types checked by the compiler
package models
