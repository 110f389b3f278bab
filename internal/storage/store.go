// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/splitbot/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrDraftExists is returned when a live draft already exists for (chat, user).
	ErrDraftExists = errors.New("storage: live draft already exists")

	// ErrStaleDraft is returned when a draft changed since it was read.
	ErrStaleDraft = errors.New("storage: draft was modified concurrently")

	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("storage: status transition not allowed")

	// ErrLockChanged is returned when a lock slot no longer has the expected holder.
	ErrLockChanged = errors.New("storage: lock holder changed")
)

// UserStore persists members and memberships.
type UserStore interface {
	// UpsertUser creates the user on first contact and refreshes names afterwards.
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []int64) (map[int64]*models.User, error)

	// AddMember records that userID interacted in chatID. Idempotent.
	AddMember(ctx context.Context, chatID, userID int64) error

	// ListMembers returns the group's members ordered by display name.
	ListMembers(ctx context.Context, chatID int64) ([]*models.User, error)
}

// GroupStore persists group rows and settings.
type GroupStore interface {
	// EnsureGroup creates the group row if missing.
	EnsureGroup(ctx context.Context, chatID int64) error
	GetGroup(ctx context.Context, chatID int64) (*models.Group, error)
	UpdateGroupSettings(ctx context.Context, chatID int64, settings models.GroupSettings) error
	SetGroupTitle(ctx context.Context, chatID int64, title string) error
	SetMenuMessage(ctx context.Context, chatID, messageID int64) error
	TouchGroup(ctx context.Context, chatID int64, at int64) error
	ListGroups(ctx context.Context) ([]*models.Group, error)
}

// LockStore reads and swaps the two lock slots on a group row.
type LockStore interface {
	GetLock(ctx context.Context, chatID int64, slot models.LockSlot) (models.LockHolder, error)

	// SwapLock replaces the slot's holder with next only if it still equals expected.
	// Returns ErrLockChanged otherwise.
	SwapLock(ctx context.Context, chatID int64, slot models.LockSlot, expected, next models.LockHolder) error

	// ListHeldLocks returns every held slot older than lockedBefore.
	ListHeldLocks(ctx context.Context, slot models.LockSlot, lockedBefore int64) (map[int64]models.LockHolder, error)
}

// DraftStore persists in-progress wizards.
type DraftStore interface {
	// CreateDraft inserts a draft. Any existing row for the same (chat, user), live or
	// expired, yields ErrDraftExists; callers discard the old draft first.
	CreateDraft(ctx context.Context, draft *models.Draft) error
	GetDraft(ctx context.Context, draftID string) (*models.Draft, error)

	// FindDraft returns the row for (chat, user) whether or not it expired, or ErrNotFound.
	FindDraft(ctx context.Context, chatID, userID int64) (*models.Draft, error)

	// UpdateDraft writes step, payload, message and timestamps if the row's revision still equals
	// draft.Revision, then increments draft.Revision. Returns ErrStaleDraft when another write won
	// and ErrNotFound when the row is gone.
	UpdateDraft(ctx context.Context, draft *models.Draft) error
	DeleteDraft(ctx context.Context, draftID string) error

	// DeleteExpiredDraft deletes the row only if its revision still equals revision and
	// expires_at <= now, reporting whether it did. Sweeps use it so a draft refreshed after
	// being listed survives.
	DeleteExpiredDraft(ctx context.Context, draftID string, revision, now int64) (bool, error)
	ListExpiredDrafts(ctx context.Context, now int64) ([]*models.Draft, error)
	ListDrafts(ctx context.Context, chatID int64) ([]*models.Draft, error)
}

// LedgerStore persists expenses, settlements and the pairwise debt table.
type LedgerStore interface {
	// CreateExpense inserts the expense with all its shares in one transaction. Shares may
	// arrive already confirmed; when every share is confirmed the nets are applied in the same
	// transaction and netted is true. When draftID is set, the draft's files are repointed to
	// the expense and the draft row is deleted, still in the same transaction.
	CreateExpense(ctx context.Context, expense *models.Expense, draftID string) (netted bool, err error)
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)
	SetExpenseMessage(ctx context.Context, expenseID string, messageID int64) error

	// RejectShare moves a pending share to rejected and flags the expense as disputed.
	// A disputed expense or a non-pending share yields ErrInvalidTransition.
	RejectShare(ctx context.Context, expenseID string, debtorID int64, at int64) error

	// DeleteExpense removes an expense that has not reached the ledger, moving its files to
	// moveFilesTo when non-nil. A fully confirmed expense yields ErrInvalidTransition.
	DeleteExpense(ctx context.Context, expenseID string, moveFilesTo *models.Relation) error

	// CreateSettlement inserts the settlement. A settlement created as confirmed applies
	// net(to, from, amount) in the same transaction. draftID behaves as in CreateExpense.
	CreateSettlement(ctx context.Context, settlement *models.Settlement, draftID string) error
	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)
	SetSettlementMessage(ctx context.Context, settlementID string, messageID int64) error

	// RejectSettlement moves a pending settlement to rejected, else ErrInvalidTransition.
	RejectSettlement(ctx context.Context, settlementID string, at int64) error

	// DeleteSettlement removes a settlement that is not confirmed, moving its files to
	// moveFilesTo when non-nil. A confirmed settlement yields ErrInvalidTransition.
	DeleteSettlement(ctx context.Context, settlementID string, moveFilesTo *models.Relation) error

	// ApplyNet folds amount from -> to into the debt table atomically.
	ApplyNet(ctx context.Context, from, to int64, amount models.Amount, at int64) error

	// ConfirmShareAndNet confirms a pending share and, when it was the last pending share,
	// applies net(debtor, payer, share) for every share, all in one transaction.
	// It reports whether the ledger was updated. A disputed expense or a non-pending share
	// yields ErrInvalidTransition.
	ConfirmShareAndNet(ctx context.Context, expenseID string, debtorID int64, at int64) (bool, error)

	// ConfirmSettlementAndNet confirms a pending settlement and applies net(to, from, amount)
	// in one transaction.
	ConfirmSettlementAndNet(ctx context.Context, settlementID string, at int64) error

	GetDebt(ctx context.Context, from, to int64) (models.Amount, error)
	ListGroupDebts(ctx context.Context, chatID int64, minAmount models.Amount) ([]models.DebtEdge, error)
	ListUserDebts(ctx context.Context, chatID, userID int64) ([]models.DebtEdge, error)

	// ListCreditors returns the edges userID owes within chatID above minAmount.
	ListCreditors(ctx context.Context, chatID, userID int64, minAmount models.Amount) ([]models.DebtEdge, error)

	ListHistory(ctx context.Context, chatID int64, limit, offset int) ([]HistoryEntry, error)
	SpendingByCategory(ctx context.Context, chatID int64) ([]CategoryTotal, error)
}

// FileStore persists attachment references.
type FileStore interface {
	CreateFileRef(ctx context.Context, ref *models.FileRef) error
	ListFileRefs(ctx context.Context, rel models.Relation) ([]*models.FileRef, error)
	DeleteFileRef(ctx context.Context, refID string) error

	// RelinkFiles repoints every file of from to to and returns how many moved.
	RelinkFiles(ctx context.Context, from, to models.Relation) (int, error)
}

// SweepStore answers the background reclamation queries.
type SweepStore interface {
	ListRejectedExpenses(ctx context.Context, rejectedBefore int64) ([]*models.Expense, error)
	ListPendingExpenses(ctx context.Context, createdBefore int64) ([]*models.Expense, error)
	ListRejectedSettlements(ctx context.Context, rejectedBefore int64) ([]*models.Settlement, error)
	ListPendingSettlements(ctx context.Context, createdBefore int64) ([]*models.Settlement, error)
}

// Store defines the full persistence surface of the bot.
// This abstraction allows swapping storage backends without changing the service layer.
type Store interface {
	UserStore
	GroupStore
	LockStore
	DraftStore
	LedgerStore
	FileStore
	SweepStore

	// Close releases any resources held by the store.
	Close() error
}

// HistoryKind distinguishes entries of the group history.
type HistoryKind string

const (
	HistoryExpense    HistoryKind = "expense"
	HistorySettlement HistoryKind = "settlement"
)

// HistoryEntry is one row of the merged expense/settlement history.
type HistoryEntry struct {
	Kind        HistoryKind
	ID          string
	FromUserID  int64 // payer for expenses, sender for settlements
	ToUserID    int64 // zero for expenses
	Amount      models.Amount
	Description string
	Categories  []string
	Status      string
	CreatedAt   int64
}

// CategoryTotal is the settled spending of one category.
type CategoryTotal struct {
	Category string
	Total    models.Amount
}
