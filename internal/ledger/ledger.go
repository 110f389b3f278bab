// Package ledger materializes expenses and settlements and keeps the pairwise debt table
// consistent.
//
// Every write that can touch the debt table holds the keyed mutex of each user pair it
// involves for the duration of the store transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/calculator"
	"github.com/mmynk/splitbot/internal/metrics"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// MaxDescriptionLength is the longest accepted expense description, in characters.
const MaxDescriptionLength = 255

// Engine is the stateful ledger.
type Engine struct {
	store   storage.Store
	pairs   *pairLocks
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a ledger engine over store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		pairs:  newPairLocks(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExpenseInput is a validated-by-the-caller request to publish an expense.
type ExpenseInput struct {
	ChatID      int64
	PayerID     int64
	Amount      models.Amount
	Description string
	Categories  []string
	Debtors     []int64
	// DraftID, when set, is consumed in the same transaction: its files move to the expense.
	DraftID string
}

// ExpenseResult is the outcome of CreateExpense.
type ExpenseResult struct {
	Expense *models.Expense
	Split   calculator.SplitResult
	// Netted is true when every share was auto-confirmed and the ledger was updated.
	Netted bool
}

// CreateExpense splits the amount, confirms the shares of auto-confirm debtors inline and
// persists the expense. When every share ends up confirmed the nets are applied at once.
func (e *Engine) CreateExpense(ctx context.Context, in ExpenseInput) (*ExpenseResult, error) {
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return nil, apperr.Validationf("Description is too long (max %d characters).", MaxDescriptionLength)
	}
	if in.Description == "" && len(in.Categories) == 0 {
		return nil, apperr.Validation("Add a description or pick a category.")
	}
	for _, c := range in.Categories {
		if !models.IsCategory(c) {
			return nil, apperr.Validationf("Unknown category %q.", c)
		}
	}

	split, err := calculator.SplitExpense(in.Amount, in.PayerID, in.Debtors, in.Categories)
	if err != nil {
		return nil, splitError(err)
	}

	group, err := e.store.GetGroup(ctx, in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group settings: %w", err)
	}

	now := e.now().Unix()
	expense := &models.Expense{
		ChatID:      in.ChatID,
		PayerID:     in.PayerID,
		Amount:      in.Amount,
		Description: in.Description,
		Categories:  in.Categories,
		CreatedAt:   now,
		Shares:      make([]models.ExpenseShare, len(split.Shares)),
	}
	pairs := make([]pair, 0, len(split.Shares))
	for i, s := range split.Shares {
		share := models.ExpenseShare{DebtorID: s.UserID, Share: s.Share, Status: models.StatusPending}
		if group.Settings.AutoConfirmsExpenses(s.UserID) {
			share.Status = models.StatusConfirmed
			share.StatusAt = now
		}
		expense.Shares[i] = share
		pairs = append(pairs, newPair(s.UserID, in.PayerID))
	}

	unlock := e.pairs.lock(pairs...)
	netted, err := e.store.CreateExpense(ctx, expense, in.DraftID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create expense: %w", err)
	}

	if netted {
		e.metrics.LedgerNets("expense", len(expense.Shares))
	}
	e.logger.Info("Expense created",
		"expense_id", expense.ID,
		"chat_id", expense.ChatID,
		"payer_id", expense.PayerID,
		"amount", expense.Amount.String(),
		"debtors", len(expense.Shares),
		"netted", netted,
	)
	return &ExpenseResult{Expense: expense, Split: split, Netted: netted}, nil
}

func splitError(err error) error {
	switch {
	case errors.Is(err, calculator.ErrNoDebtors):
		return apperr.Validation("Pick at least one person to split with.")
	case errors.Is(err, calculator.ErrNonPositive):
		return apperr.Validation("Amount must be greater than zero.")
	case errors.Is(err, calculator.ErrPayerIsDebtor):
		return apperr.Validation("The payer cannot owe themselves.")
	case errors.Is(err, calculator.ErrDuplicateDebtor):
		return apperr.Validation("A person was selected twice.")
	default:
		return apperr.Internal("split expense", err)
	}
}

// ShareDecision is the outcome of a debtor confirming or rejecting their share.
type ShareDecision struct {
	Expense *models.Expense
	// Netted is true when this confirmation was the last one and the ledger was updated.
	Netted bool
}

// ConfirmShare confirms debtorID's share. The last confirmation applies one
// net(debtor, payer, share) per share.
func (e *Engine) ConfirmShare(ctx context.Context, expenseID string, debtorID int64) (*ShareDecision, error) {
	expense, err := e.loadExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if _, ok := expense.Share(debtorID); !ok {
		return nil, apperr.Validation("This expense is not yours to confirm.")
	}

	pairs := make([]pair, 0, len(expense.Shares))
	for _, s := range expense.Shares {
		pairs = append(pairs, newPair(s.DebtorID, expense.PayerID))
	}

	unlock := e.pairs.lock(pairs...)
	netted, err := e.store.ConfirmShareAndNet(ctx, expenseID, debtorID, e.now().Unix())
	unlock()
	if err != nil {
		return nil, e.transitionError(err, "expense")
	}

	if netted {
		e.metrics.LedgerNets("expense", len(expense.Shares))
		e.logger.Info("Expense fully confirmed", "expense_id", expenseID, "chat_id", expense.ChatID)
	}

	expense, err = e.loadExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	return &ShareDecision{Expense: expense, Netted: netted}, nil
}

// RejectShare rejects debtorID's share and disputes the expense until it is edited.
func (e *Engine) RejectShare(ctx context.Context, expenseID string, debtorID int64) (*ShareDecision, error) {
	expense, err := e.loadExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if _, ok := expense.Share(debtorID); !ok {
		return nil, apperr.Validation("This expense is not yours to reject.")
	}

	if err := e.store.RejectShare(ctx, expenseID, debtorID, e.now().Unix()); err != nil {
		return nil, e.transitionError(err, "expense")
	}
	e.logger.Info("Expense share rejected", "expense_id", expenseID, "debtor_id", debtorID)

	expense, err = e.loadExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	return &ShareDecision{Expense: expense}, nil
}

// DeleteExpense removes an expense of actorID that has not reached the ledger. Files move
// to moveFilesTo when set, otherwise they are dropped with the expense.
func (e *Engine) DeleteExpense(ctx context.Context, expenseID string, actorID int64, moveFilesTo *models.Relation) (*models.Expense, error) {
	expense, err := e.loadExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense.PayerID != actorID {
		return nil, apperr.Validation("Only the payer can change this expense.")
	}
	if expense.AllConfirmed() {
		return nil, apperr.Conflict("This expense is already in the balances and can no longer be changed.", 0)
	}

	if err := e.store.DeleteExpense(ctx, expenseID, moveFilesTo); err != nil {
		return nil, e.transitionError(err, "expense")
	}
	e.logger.Info("Expense deleted", "expense_id", expenseID, "actor_id", actorID)
	return expense, nil
}

// SettlementInput is a request to record a payment.
type SettlementInput struct {
	ChatID  int64
	FromID  int64
	ToID    int64
	Amount  models.Amount
	DraftID string
}

// CreateSettlement records a settlement. A receiver who opted into auto-confirmation has it
// confirmed, and netted, inline.
func (e *Engine) CreateSettlement(ctx context.Context, in SettlementInput) (*models.Settlement, error) {
	if in.Amount <= 0 || in.Amount >= models.MaxAmount {
		return nil, apperr.Validation(models.ErrAmountOutOfRange.Error())
	}
	if in.FromID == in.ToID {
		return nil, apperr.Validation("You cannot pay yourself.")
	}
	if in.ToID == 0 {
		return nil, apperr.Validation("Pick who you paid.")
	}

	group, err := e.store.GetGroup(ctx, in.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group settings: %w", err)
	}

	now := e.now().Unix()
	settlement := &models.Settlement{
		ChatID:     in.ChatID,
		FromUserID: in.FromID,
		ToUserID:   in.ToID,
		Amount:     in.Amount,
		Status:     models.StatusPending,
		CreatedAt:  now,
	}
	if group.Settings.AutoConfirmsSettlements(in.ToID) {
		settlement.Status = models.StatusConfirmed
		settlement.StatusAt = now
	}

	unlock := e.pairs.lock(newPair(in.FromID, in.ToID))
	err = e.store.CreateSettlement(ctx, settlement, in.DraftID)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement: %w", err)
	}

	if settlement.Status == models.StatusConfirmed {
		e.metrics.LedgerNets("settlement", 1)
	}
	e.logger.Info("Settlement created",
		"settlement_id", settlement.ID,
		"chat_id", settlement.ChatID,
		"from", settlement.FromUserID,
		"to", settlement.ToUserID,
		"amount", settlement.Amount.String(),
		"status", settlement.Status,
	)
	return settlement, nil
}

// ConfirmSettlement is called by the receiver and applies net(to, from, amount).
func (e *Engine) ConfirmSettlement(ctx context.Context, settlementID string, actorID int64) (*models.Settlement, error) {
	settlement, err := e.loadSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if settlement.ToUserID != actorID {
		return nil, apperr.Validation("Only the receiver can confirm this payment.")
	}

	unlock := e.pairs.lock(newPair(settlement.FromUserID, settlement.ToUserID))
	err = e.store.ConfirmSettlementAndNet(ctx, settlementID, e.now().Unix())
	unlock()
	if err != nil {
		return nil, e.transitionError(err, "settlement")
	}

	e.metrics.LedgerNets("settlement", 1)
	e.logger.Info("Settlement confirmed", "settlement_id", settlementID, "chat_id", settlement.ChatID)
	return e.loadSettlement(ctx, settlementID)
}

// RejectSettlement is called by the receiver; the ledger is untouched.
func (e *Engine) RejectSettlement(ctx context.Context, settlementID string, actorID int64) (*models.Settlement, error) {
	settlement, err := e.loadSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if settlement.ToUserID != actorID {
		return nil, apperr.Validation("Only the receiver can reject this payment.")
	}

	if err := e.store.RejectSettlement(ctx, settlementID, e.now().Unix()); err != nil {
		return nil, e.transitionError(err, "settlement")
	}
	e.logger.Info("Settlement rejected", "settlement_id", settlementID, "chat_id", settlement.ChatID)
	return e.loadSettlement(ctx, settlementID)
}

// DeleteSettlement removes an unconfirmed settlement of actorID.
func (e *Engine) DeleteSettlement(ctx context.Context, settlementID string, actorID int64, moveFilesTo *models.Relation) (*models.Settlement, error) {
	settlement, err := e.loadSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if settlement.FromUserID != actorID {
		return nil, apperr.Validation("Only the sender can change this payment.")
	}
	if settlement.Status == models.StatusConfirmed {
		return nil, apperr.Conflict("This payment is already in the balances and can no longer be changed.", 0)
	}

	if err := e.store.DeleteSettlement(ctx, settlementID, moveFilesTo); err != nil {
		return nil, e.transitionError(err, "settlement")
	}
	e.logger.Info("Settlement deleted", "settlement_id", settlementID, "actor_id", actorID)
	return settlement, nil
}

// ClearDebt forgives amount of what debtor owes creditor by applying net(creditor, debtor, amount).
func (e *Engine) ClearDebt(ctx context.Context, creditor, debtor int64, amount models.Amount) (models.Amount, error) {
	if creditor == debtor {
		return 0, apperr.Validation("You cannot clear a debt with yourself.")
	}

	unlock := e.pairs.lock(newPair(creditor, debtor))
	defer unlock()

	owed, err := e.store.GetDebt(ctx, debtor, creditor)
	if err != nil {
		return 0, fmt.Errorf("failed to read debt: %w", err)
	}
	if owed <= 0 {
		return 0, apperr.Expired("nothing left to clear")
	}
	if amount < 1 || amount > owed {
		return 0, apperr.Validationf("Amount must be between 0.00001 and %s.", owed.String())
	}

	if err := e.store.ApplyNet(ctx, creditor, debtor, amount, e.now().Unix()); err != nil {
		return 0, fmt.Errorf("failed to clear debt: %w", err)
	}

	e.metrics.LedgerNets("clear_debt", 1)
	e.logger.Info("Debt cleared", "creditor", creditor, "debtor", debtor, "amount", amount.String(), "remaining", (owed - amount).String())
	return owed - amount, nil
}

// Owed returns how much debtor owes creditor.
func (e *Engine) Owed(ctx context.Context, debtor, creditor int64) (models.Amount, error) {
	return e.store.GetDebt(ctx, debtor, creditor)
}

// GroupBalances returns per-member balances and a settle-up plan over the displayed edges.
func (e *Engine) GroupBalances(ctx context.Context, chatID int64) ([]calculator.MemberBalance, []models.DebtEdge, []models.DebtEdge, error) {
	edges, err := e.store.ListGroupDebts(ctx, chatID, models.DisplayThreshold)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list debts: %w", err)
	}
	balances, plan := calculator.CalculateGroupBalances(edges)
	return balances, plan, edges, nil
}

// UserSummary totals what userID owes and is owed within chatID.
func (e *Engine) UserSummary(ctx context.Context, chatID, userID int64) (calculator.UserSummary, error) {
	edges, err := e.store.ListUserDebts(ctx, chatID, userID)
	if err != nil {
		return calculator.UserSummary{}, fmt.Errorf("failed to list debts: %w", err)
	}
	return calculator.SummarizeUser(edges, userID), nil
}

// Creditors returns the displayed edges userID owes within chatID.
func (e *Engine) Creditors(ctx context.Context, chatID, userID int64) ([]models.DebtEdge, error) {
	return e.store.ListCreditors(ctx, chatID, userID, models.DisplayThreshold)
}

func (e *Engine) loadExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	expense, err := e.store.GetExpense(ctx, expenseID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Expired("expense no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load expense: %w", err)
	}
	return expense, nil
}

func (e *Engine) loadSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	settlement, err := e.store.GetSettlement(ctx, settlementID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Expired("settlement no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	return settlement, nil
}

func (e *Engine) transitionError(err error, what string) error {
	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		return apperr.Conflict(fmt.Sprintf("This %s was already decided.", what), 0)
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Expired(what + " no longer exists")
	default:
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
}
