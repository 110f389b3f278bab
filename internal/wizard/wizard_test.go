package wizard

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/locks"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
	"github.com/mmynk/splitbot/internal/storage/sqlite"
)

const (
	chat  = int64(-700)
	alice = int64(1)
	bob   = int64(2)
	carol = int64(3)
	ttl   = 15 * time.Minute
)

type fakeArchive struct {
	mu     sync.Mutex
	purged []int64
}

func (a *fakeArchive) Purge(_ context.Context, ids ...int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purged = append(a.purged, ids...)
	return nil
}

type fixture struct {
	wiz     *Engine
	store   *sqlite.SQLiteStore
	locks   *locks.Manager
	archive *fakeArchive
	now     time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "wizard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, chat))
	for id, name := range map[int64]string{alice: "Alice", bob: "Bob", carol: "Carol"} {
		require.NoError(t, store.UpsertUser(ctx, &models.User{ID: id, DisplayName: name}))
		require.NoError(t, store.AddMember(ctx, chat, id))
	}

	f := &fixture{store: store, archive: &fakeArchive{}, now: time.Unix(1_700_000_000, 0)}
	f.locks = locks.NewManager(store, ttl, locks.WithClock(f.clock))
	lg := ledger.New(store, ledger.WithClock(f.clock))
	f.wiz = New(store, lg, f.locks, f.archive, ttl, WithClock(f.clock))
	return f
}

func me(user int64) Target { return Target{ChatID: chat, UserID: user} }

func requireEvent(t *testing.T, want EventKind, res *Result, err error) *Result {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, want, res.Event.Kind, "reason: %s", res.Event.Reason)
	return res
}

func (f *fixture) holder(t *testing.T) int64 {
	t.Helper()
	h, err := f.locks.Holder(context.Background(), chat, models.LockActiveWizard)
	require.NoError(t, err)
	return h.UserID
}

func TestExpenseWizard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
	res = requireEvent(t, EventStarted, res, err)
	assert.Equal(t, models.ExpenseStepAmount, res.View.Step)
	assert.Equal(t, alice, f.holder(t))

	res, err = f.wiz.Advance(ctx, me(alice))
	res = requireEvent(t, EventValidationFailed, res, err)
	assert.Contains(t, res.Event.Reason, "amount")

	res, err = f.wiz.HandleText(ctx, me(alice), "abc")
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.HandleText(ctx, me(alice), "10")
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.ExpenseStepReceipts, res.View.Step)

	res, err = f.wiz.HandleText(ctx, me(alice), "ignored on the receipt step")
	assert.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.wiz.SetNoReceipt(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.ExpenseStepDescription, res.View.Step)

	res, err = f.wiz.Advance(ctx, me(alice))
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.ToggleCategory(ctx, me(alice), "Food")
	requireEvent(t, EventUpdated, res, err)
	res, err = f.wiz.ToggleCategory(ctx, me(alice), models.CategoryDebt)
	res = requireEvent(t, EventUpdated, res, err)
	assert.Equal(t, []string{models.CategoryDebt}, res.View.Expense().Categories, "debt is exclusive")
	res, err = f.wiz.ToggleCategory(ctx, me(alice), "Food")
	res = requireEvent(t, EventUpdated, res, err)
	assert.Equal(t, []string{"Food"}, res.View.Expense().Categories)

	res, err = f.wiz.Advance(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.ExpenseStepDebtors, res.View.Step)
	assert.Len(t, res.View.Members, 2, "the author is not a candidate")

	res, err = f.wiz.ToggleDebtor(ctx, me(alice), alice)
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.ToggleAllDebtors(ctx, me(alice))
	res = requireEvent(t, EventUpdated, res, err)
	assert.ElementsMatch(t, []int64{bob, carol}, res.View.Expense().Debtors)
	assert.Equal(t, Totals{Share: 333_300, Residual: 100, Participants: 3}, res.View.Totals)

	res, err = f.wiz.Confirm(ctx, me(alice))
	requireEvent(t, EventConflict, res, err)

	res, err = f.wiz.Advance(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.ExpenseStepReview, res.View.Step)

	res, err = f.wiz.Advance(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.ExpenseStepReview, res.View.Step, "advance is capped at review")

	res, err = f.wiz.Confirm(ctx, me(alice))
	res = requireEvent(t, EventConfirmed, res, err)
	require.NotNil(t, res.Expense)
	assert.Len(t, res.Expense.Expense.Shares, 2)
	assert.False(t, res.Expense.Netted)

	_, err = f.store.FindDraft(ctx, chat, alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.holder(t))
}

func TestRetreatAndJumpToEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
	require.NoError(t, err)

	res, err := f.wiz.Retreat(ctx, me(alice))
	res = requireEvent(t, EventUpdated, res, err)
	assert.Equal(t, 1, res.View.Step, "retreat has a floor of 1")

	res, err = f.wiz.JumpToEdit(ctx, me(alice), 1)
	requireEvent(t, EventConflict, res, err)

	for _, step := range []func() (*Result, error){
		func() (*Result, error) { return f.wiz.SetAmount(ctx, me(alice), "12") },
		func() (*Result, error) { return f.wiz.SetNoReceipt(ctx, me(alice)) },
		func() (*Result, error) { return f.wiz.SetDescription(ctx, me(alice), "Pizza") },
		func() (*Result, error) { return f.wiz.Advance(ctx, me(alice)) },
		func() (*Result, error) { return f.wiz.ToggleDebtor(ctx, me(alice), bob) },
		func() (*Result, error) { return f.wiz.Advance(ctx, me(alice)) },
	} {
		_, err := step()
		require.NoError(t, err)
	}

	res, err = f.wiz.JumpToEdit(ctx, me(alice), models.ExpenseStepReview)
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.JumpToEdit(ctx, me(alice), models.ExpenseStepAmount)
	res = requireEvent(t, EventUpdated, res, err)
	assert.Equal(t, models.ExpenseStepAmount, res.View.Step)
	assert.Equal(t, "Pizza", res.View.Expense().Description, "jumping keeps the payload")
}

func TestSingleLiveDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
	first = requireEvent(t, EventStarted, first, err)
	require.NoError(t, f.wiz.SetMessage(ctx, first.View.DraftID, 55))

	second, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindSettlement})
	second = requireEvent(t, EventStarted, second, err)
	assert.Equal(t, int64(55), second.MessageID, "the previous form's message is torn down")

	drafts, err := f.store.ListDrafts(ctx, chat)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, second.View.DraftID, drafts[0].ID)

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: bob, Kind: models.KindExpense})
	res = requireEvent(t, EventConflict, res, err)
	assert.Equal(t, alice, res.Event.HolderID)

	// Buttons of someone else's form are refused.
	res, err = f.wiz.Advance(ctx, Target{ChatID: chat, UserID: bob, DraftID: second.View.DraftID})
	res = requireEvent(t, EventConflict, res, err)
	assert.Equal(t, alice, res.Event.HolderID)

	// Buttons of the discarded form report it as gone.
	res, err = f.wiz.Advance(ctx, Target{ChatID: chat, UserID: alice, DraftID: first.View.DraftID})
	requireEvent(t, EventExpired, res, err)
}

func TestConcurrentStartsKeepOneDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	drafts, err := f.store.ListDrafts(ctx, chat)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestExpiredDraftIsReclaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
	res = requireEvent(t, EventStarted, res, err)
	require.NoError(t, f.wiz.SetMessage(ctx, res.View.DraftID, 77))

	f.advance(ttl - time.Second)
	res, err = f.wiz.SetAmount(ctx, me(alice), "5")
	requireEvent(t, EventAdvanced, res, err)

	f.advance(ttl)
	res, err = f.wiz.Advance(ctx, me(alice))
	res = requireEvent(t, EventExpired, res, err)
	assert.Equal(t, int64(77), res.MessageID)

	_, err = f.store.FindDraft(ctx, chat, alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.holder(t))

	res, err = f.wiz.Cancel(ctx, me(alice))
	requireEvent(t, EventExpired, res, err)
}

func TestCancelRollsBackAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
	res = requireEvent(t, EventStarted, res, err)
	draftID := res.View.DraftID

	res, err = f.wiz.AppendAttachments(ctx, me(alice), nil, "")
	requireEvent(t, EventConflict, res, err)

	_, err = f.wiz.SetAmount(ctx, me(alice), "20")
	require.NoError(t, err)

	var files []models.DraftFile
	for _, archived := range []int64{501, 502} {
		ref := &models.FileRef{
			FileID: "file", ArchiveMessageID: archived, UploaderID: alice,
			MIME: "image/png", Relation: models.DraftRelation(draftID),
		}
		require.NoError(t, f.store.CreateFileRef(ctx, ref))
		files = append(files, models.DraftFile{RefID: ref.ID, FileID: ref.FileID, ArchiveMessageID: archived, MIME: ref.MIME})
	}
	res, err = f.wiz.AppendAttachments(ctx, me(alice), files, "Hardware store")
	res = requireEvent(t, EventUpdated, res, err)
	assert.Len(t, res.View.Expense().Files, 2)
	assert.Equal(t, "Hardware store", res.View.Expense().Description)

	res, err = f.wiz.RemoveAttachment(ctx, me(alice), files[0].RefID)
	res = requireEvent(t, EventUpdated, res, err)
	assert.Len(t, res.View.Expense().Files, 1)
	assert.Equal(t, []int64{501}, f.archive.purged)

	res, err = f.wiz.Cancel(ctx, me(alice))
	requireEvent(t, EventCancelled, res, err)

	refs, err := f.store.ListFileRefs(ctx, models.DraftRelation(draftID))
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.ElementsMatch(t, []int64{501, 502}, f.archive.purged)
	assert.Zero(t, f.holder(t))
}

func TestSettlementWizard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ApplyNet(ctx, alice, bob, 3_000_000, 1))

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindSettlement})
	res = requireEvent(t, EventStarted, res, err)
	assert.Equal(t, models.SettlementStepAmount, res.View.Step, "the only creditor is preselected")
	assert.Equal(t, bob, res.View.Settlement().Payee)
	assert.Equal(t, models.Amount(3_000_000), res.View.Owed[bob])

	res, err = f.wiz.UseFullAmount(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.Amount(3_000_000), res.View.Settlement().Amount)

	res, err = f.wiz.Advance(ctx, me(alice))
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.SetNoProof(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.SettlementStepReview, res.View.Step)

	res, err = f.wiz.Confirm(ctx, me(alice))
	res = requireEvent(t, EventConfirmed, res, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, models.StatusPending, res.Settlement.Status)
	assert.Equal(t, bob, res.Settlement.ToUserID)
}

// sweptStore deletes the draft a settlement is created from just before the insert, as a
// sweep running between the form check and the write would.
type sweptStore struct {
	*sqlite.SQLiteStore
}

func (s *sweptStore) CreateSettlement(ctx context.Context, settlement *models.Settlement, draftID string) error {
	if err := s.DeleteDraft(ctx, draftID); err != nil {
		return err
	}
	return s.SQLiteStore.CreateSettlement(ctx, settlement, draftID)
}

func TestConfirmOfRemovedDraftCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ApplyNet(ctx, alice, bob, 3_000_000, 1))

	lg := ledger.New(&sweptStore{SQLiteStore: f.store}, ledger.WithClock(f.clock))
	wiz := New(f.store, lg, f.locks, f.archive, ttl, WithClock(f.clock))

	res, err := wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindSettlement})
	res = requireEvent(t, EventStarted, res, err)
	require.NoError(t, wiz.SetMessage(ctx, res.View.DraftID, 88))
	_, err = wiz.UseFullAmount(ctx, me(alice))
	require.NoError(t, err)
	res, err = wiz.SetNoProof(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	require.Equal(t, models.SettlementStepReview, res.View.Step)

	res, err = wiz.Confirm(ctx, me(alice))
	res = requireEvent(t, EventExpired, res, err)
	assert.Equal(t, int64(88), res.MessageID)

	history, err := f.store.ListHistory(ctx, chat, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	owed, err := lg.Owed(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(3_000_000), owed)
}

func TestSettlementPayeeChoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindSettlement})
	res = requireEvent(t, EventStarted, res, err)
	assert.Equal(t, models.SettlementStepPayee, res.View.Step)

	res, err = f.wiz.SetPayee(ctx, me(alice), alice)
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.SetPayee(ctx, me(alice), carol)
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.SettlementStepAmount, res.View.Step)

	res, err = f.wiz.UseFullAmount(ctx, me(alice))
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.HandleText(ctx, me(alice), "7,5")
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.Amount(750_000), res.View.Settlement().Amount)
}

func TestExcludedCreditorCanBePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ApplyNet(ctx, alice, bob, 1_000_000, 1))
	require.NoError(t, f.store.ApplyNet(ctx, alice, carol, 500_000, 1))
	require.NoError(t, f.store.UpdateGroupSettings(ctx, chat, models.GroupSettings{ExcludedMembers: []int64{carol}}))

	res, err := f.wiz.Start(ctx, StartInput{ChatID: chat, UserID: alice, Kind: models.KindSettlement})
	res = requireEvent(t, EventStarted, res, err)
	assert.Equal(t, models.SettlementStepPayee, res.View.Step)
	assert.Equal(t, models.Amount(500_000), res.View.Owed[carol])

	res, err = f.wiz.SetPayee(ctx, me(alice), carol)
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, carol, res.View.Settlement().Payee)

	res, err = f.wiz.UseFullAmount(ctx, me(alice))
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.Amount(500_000), res.View.Settlement().Amount)
}

func TestEditExpenseMovesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lg := f.wiz.ledger

	created, err := lg.CreateExpense(ctx, ledger.ExpenseInput{
		ChatID: chat, PayerID: alice, Amount: 900_000, Description: "Cinema", Debtors: []int64{bob, carol},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.SetExpenseMessage(ctx, created.Expense.ID, 88))
	ref := &models.FileRef{FileID: "r", ArchiveMessageID: 601, UploaderID: alice, MIME: "application/pdf",
		Relation: models.ExpenseRelation(created.Expense.ID)}
	require.NoError(t, f.store.CreateFileRef(ctx, ref))

	res, err := f.wiz.EditExpense(ctx, chat, bob, created.Expense.ID)
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.EditExpense(ctx, chat, alice, created.Expense.ID)
	res = requireEvent(t, EventStarted, res, err)
	assert.Equal(t, int64(88), res.ReplacedMessageID)
	assert.Equal(t, models.ExpenseStepReview, res.View.Step)
	p := res.View.Expense()
	assert.Equal(t, created.Expense.ID, p.ReplacesID)
	assert.Equal(t, "Cinema", p.Description)
	require.Len(t, p.Files, 1)

	_, err = f.store.GetExpense(ctx, created.Expense.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.wiz.JumpToEdit(ctx, me(alice), models.ExpenseStepDebtors)
	require.NoError(t, err)
	_, err = f.wiz.ToggleDebtor(ctx, me(alice), carol)
	require.NoError(t, err)
	_, err = f.wiz.Advance(ctx, me(alice))
	require.NoError(t, err)

	res, err = f.wiz.Confirm(ctx, me(alice))
	res = requireEvent(t, EventConfirmed, res, err)
	assert.Equal(t, []int64{bob}, res.Expense.Expense.DebtorIDs())

	refs, err := f.store.ListFileRefs(ctx, models.ExpenseRelation(res.Expense.Expense.ID))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ref.ID, refs[0].ID)
	assert.Empty(t, f.archive.purged)
}

func TestEditConfirmedSettlementIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateGroupSettings(ctx, chat, models.GroupSettings{AutoConfirmSettlementUsers: []int64{bob}}))

	stl, err := f.wiz.ledger.CreateSettlement(ctx, ledger.SettlementInput{ChatID: chat, FromID: alice, ToID: bob, Amount: 100_000})
	require.NoError(t, err)

	res, err := f.wiz.EditSettlement(ctx, chat, alice, stl.ID)
	requireEvent(t, EventConflict, res, err)
	assert.Zero(t, f.holder(t))
}

func TestClearDebtWizard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.wiz.StartClearDebt(ctx, chat, alice, bob)
	requireEvent(t, EventValidationFailed, res, err)
	assert.Zero(t, f.holder(t), "a refused start does not keep the lock")

	require.NoError(t, f.store.ApplyNet(ctx, bob, alice, 1_250_000, 1))

	res, err = f.wiz.StartClearDebt(ctx, chat, alice, bob)
	res = requireEvent(t, EventStarted, res, err)
	assert.Equal(t, models.Amount(1_250_000), res.View.ClearDebt().TotalDebt)

	res, err = f.wiz.HandleText(ctx, me(alice), "20")
	requireEvent(t, EventValidationFailed, res, err)

	res, err = f.wiz.HandleText(ctx, me(alice), "2.5")
	res = requireEvent(t, EventAdvanced, res, err)
	assert.Equal(t, models.ClearDebtStepConfirm, res.View.Step)

	res, err = f.wiz.Confirm(ctx, me(alice))
	res = requireEvent(t, EventConfirmed, res, err)
	assert.Equal(t, &Cleared{Creditor: alice, Debtor: bob, Amount: 250_000, Remaining: 1_000_000}, res.Cleared)

	owed, err := f.store.GetDebt(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(1_000_000), owed)
	assert.Zero(t, f.holder(t))
}
