package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/archive"
	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/locks"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/platform/platformtest"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/storage"
	"github.com/mmynk/splitbot/internal/storage/sqlite"
	"github.com/mmynk/splitbot/internal/timers"
	"github.com/mmynk/splitbot/internal/wizard"
)

const (
	chat         = int64(-500)
	filesChannel = int64(-501)
	alice        = int64(1)
	bob          = int64(2)
)

var names = map[int64]string{alice: "Alice", bob: "Bob"}

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

type fixture struct {
	bot       *Bot
	store     *sqlite.SQLiteStore
	ledger    *ledger.Engine
	locks     *locks.Manager
	messenger *platformtest.Fake
	nextMsg   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Timers never fire: notices stay visible for the assertions.
	registry := timers.NewWithAfterFunc(func(time.Duration, func()) timers.Timer { return heldTimer{} })

	f := &fixture{store: store, messenger: platformtest.New(), nextMsg: 100}
	channel := archive.New(f.messenger, filesChannel, nil)
	f.locks = locks.NewManager(store, 15*time.Minute)
	f.ledger = ledger.New(store)
	wiz := wizard.New(store, f.ledger, f.locks, channel, 15*time.Minute)

	f.bot = New(Deps{
		Store:     store,
		Ledger:    f.ledger,
		Wizard:    wiz,
		Locks:     f.locks,
		Archive:   channel,
		Messenger: f.messenger,
		Timers:    registry,
		Render:    render.New("", filesChannel, time.UTC),
	})
	t.Cleanup(func() { f.bot.Stop(context.Background()) })
	return f
}

func (f *fixture) event(kind platform.EventKind, user int64) platform.Event {
	f.nextMsg++
	return platform.Event{
		Kind:        kind,
		ChatID:      chat,
		ChatTitle:   "Flat 4B",
		UserID:      user,
		DisplayName: names[user],
		MessageID:   f.nextMsg,
	}
}

func (f *fixture) say(t *testing.T, user int64, text string) platform.Event {
	t.Helper()
	ev := f.event(platform.EventText, user)
	ev.Text = text
	require.NoError(t, f.bot.Handle(context.Background(), ev))
	return ev
}

// press clicks a button carried by messageID and returns the callback answer.
func (f *fixture) press(t *testing.T, user, messageID int64, data string) string {
	t.Helper()
	ev := f.event(platform.EventCallback, user)
	ev.MessageID = messageID
	ev.CallbackID = "cb"
	ev.Data = data
	require.NoError(t, f.bot.Handle(context.Background(), ev))
	answers := f.messenger.Answers()
	require.NotEmpty(t, answers)
	return answers[len(answers)-1]
}

func (f *fixture) draft(t *testing.T, user int64) *models.Draft {
	t.Helper()
	d, err := f.store.FindDraft(context.Background(), chat, user)
	require.NoError(t, err)
	return d
}

// findText returns the live message of the chat whose text contains s.
func (f *fixture) findText(t *testing.T, s string) platformtest.Sent {
	t.Helper()
	for _, m := range f.messenger.Chat(chat) {
		if strings.Contains(m.Text, s) {
			return m
		}
	}
	t.Fatalf("no message containing %q", s)
	return platformtest.Sent{}
}

// recordExpense drives alice's form to a published 30 expense split with bob.
func (f *fixture) recordExpense(t *testing.T) (expenseID string, cardID int64) {
	t.Helper()
	f.say(t, bob, "hello")
	f.say(t, alice, "/expense")
	d := f.draft(t, alice)
	form := d.MessageID
	require.NotZero(t, form)

	amount := f.say(t, alice, "30")
	assert.True(t, f.messenger.Deleted(chat, amount.MessageID))

	f.press(t, alice, form, render.Callback{NS: render.NSWizard, Action: render.WizNoReceipt, ID: d.ID}.String())
	f.say(t, alice, "Pizza")
	f.press(t, alice, form, render.Callback{NS: render.NSWizard, Action: render.WizNext, ID: d.ID}.String())
	f.press(t, alice, form, render.Callback{NS: render.NSWizard, Action: render.WizDebtor, ID: d.ID, Arg: "2"}.String())
	f.press(t, alice, form, render.Callback{NS: render.NSWizard, Action: render.WizNext, ID: d.ID}.String())

	review, ok := f.messenger.Get(chat, form)
	require.True(t, ok)
	assert.Contains(t, review.Text, "(Review)")

	answer := f.press(t, alice, form, render.Callback{NS: render.NSWizard, Action: render.WizConfirm, ID: d.ID}.String())
	assert.Equal(t, "Expense recorded.", answer)
	assert.True(t, f.messenger.Deleted(chat, form))

	history, err := f.store.ListHistory(context.Background(), chat, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	expense, err := f.store.GetExpense(context.Background(), history[0].ID)
	require.NoError(t, err)
	require.NotZero(t, expense.MessageID)
	return expense.ID, expense.MessageID
}

func TestExpenseFormPublishesCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expenseID, cardID := f.recordExpense(t)
	card, ok := f.messenger.Get(chat, cardID)
	require.True(t, ok)
	assert.Contains(t, card.Text, "🧾 New Expense: 30 from Alice")
	assert.Contains(t, card.Text, "👤 ⚪️ Bob owes 15")

	answer := f.press(t, bob, cardID, render.Callback{NS: render.NSExpense, Action: render.CardConfirm, ID: expenseID}.String())
	assert.Equal(t, "Confirmed. Balances updated.", answer)

	owed, err := f.ledger.Owed(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, "15", owed.String())

	card, _ = f.messenger.Get(chat, cardID)
	assert.Contains(t, card.Text, "✅ Bob")
	assert.Empty(t, card.Keyboard)

	holder, err := f.locks.Holder(ctx, chat, models.LockActiveWizard)
	require.NoError(t, err)
	assert.False(t, holder.Held())
}

func TestRejectedExpenseCanBeDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expenseID, cardID := f.recordExpense(t)

	f.press(t, bob, cardID, render.Callback{NS: render.NSExpense, Action: render.CardReject, ID: expenseID}.String())
	card, _ := f.messenger.Get(chat, cardID)
	assert.Contains(t, card.Text, "Disputed 🔴")

	answer := f.press(t, bob, cardID, render.Callback{NS: render.NSExpense, Action: render.CardDelete, ID: expenseID}.String())
	assert.Equal(t, "Only the payer can change this expense.", answer)

	answer = f.press(t, alice, cardID, render.Callback{NS: render.NSExpense, Action: render.CardDelete, ID: expenseID}.String())
	assert.Equal(t, "Expense deleted.", answer)
	assert.True(t, f.messenger.Deleted(chat, cardID))

	_, err := f.store.GetExpense(ctx, expenseID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSecondAuthorIsToldWhoHoldsTheForm(t *testing.T) {
	f := newFixture(t)
	f.say(t, alice, "/expense")
	f.say(t, bob, "/settle")

	notice := f.findText(t, "Another form is in progress in this group.")
	assert.Contains(t, notice.Text, "Alice has to finish first.")

	_, err := f.store.FindDraft(context.Background(), chat, bob)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStaleWizardButtonIsTornDown(t *testing.T) {
	f := newFixture(t)
	f.say(t, alice, "hello")

	answer := f.press(t, alice, 900, render.Callback{NS: render.NSWizard, Action: render.WizNext, ID: "gone"}.String())
	assert.Equal(t, "This form has expired.", answer)
	assert.True(t, f.messenger.Deleted(chat, 900))
}

func TestCancelRemovesForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(t, alice, "/expense")
	d := f.draft(t, alice)

	answer := f.press(t, alice, d.MessageID, render.Callback{NS: render.NSWizard, Action: render.WizCancel, ID: d.ID}.String())
	assert.Equal(t, "Cancelled.", answer)
	assert.True(t, f.messenger.Deleted(chat, d.MessageID))

	_, err := f.store.FindDraft(ctx, chat, alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	holder, err := f.locks.Holder(ctx, chat, models.LockActiveWizard)
	require.NoError(t, err)
	assert.False(t, holder.Held())
}

func TestAttachmentIsReflectedIntoForm(t *testing.T) {
	f := newFixture(t)
	f.say(t, alice, "/expense")
	f.say(t, alice, "12.5")
	d := f.draft(t, alice)
	require.Equal(t, models.ExpenseStepReceipts, d.Step)

	ev := f.event(platform.EventAttachment, alice)
	ev.FileID = "file-1"
	ev.MIME = "image/jpeg"
	require.NoError(t, f.bot.Handle(context.Background(), ev))

	assert.True(t, f.messenger.Deleted(chat, ev.MessageID))
	form, ok := f.messenger.Get(chat, d.MessageID)
	require.True(t, ok)
	assert.Contains(t, form.Text, "Image 1")
	assert.Len(t, f.messenger.Chat(filesChannel), 1)
}

func TestSettingsEditorHoldsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(t, bob, "hello")
	f.say(t, alice, "/menu")
	menu := f.findText(t, "Debt Manager")

	f.press(t, alice, menu.ID, render.Callback{NS: render.NSSettings, Action: render.SetOpen}.String())
	shown, _ := f.messenger.Get(chat, menu.ID)
	assert.Contains(t, shown.Text, "Currently being edited by Alice.")

	answer := f.press(t, bob, menu.ID, render.Callback{NS: render.NSSettings, Action: render.SetOpen}.String())
	assert.Contains(t, answer, "Settings are being edited by someone else.")
	assert.Contains(t, answer, "Alice has to finish first.")

	toggle := render.Callback{NS: render.NSSettings, Action: render.SetToggle, ID: string(models.ToggleExcluded)}.String()
	assert.Equal(t, "Saved.", f.press(t, alice, menu.ID, toggle))
	group, err := f.store.GetGroup(ctx, chat)
	require.NoError(t, err)
	assert.True(t, group.Settings.IsExcluded(alice))

	f.press(t, alice, menu.ID, render.Callback{NS: render.NSSettings, Action: render.SetDone}.String())
	holder, err := f.locks.Holder(ctx, chat, models.LockSettingsEditor)
	require.NoError(t, err)
	assert.False(t, holder.Held())
	shown, _ = f.messenger.Get(chat, menu.ID)
	assert.Contains(t, shown.Text, "Debt Manager")
}

func TestMenuReplacesPreviousMenu(t *testing.T) {
	f := newFixture(t)
	f.say(t, alice, "/menu")
	first := f.findText(t, "Debt Manager")

	f.say(t, alice, "/menu@splitbot")
	assert.True(t, f.messenger.Deleted(chat, first.ID))
	second := f.findText(t, "Debt Manager — Group: Flat 4B")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPrivateChatIsNotTracked(t *testing.T) {
	f := newFixture(t)
	ev := platform.Event{Kind: platform.EventText, ChatID: 42, UserID: alice, MessageID: 1, Text: "/start"}
	require.NoError(t, f.bot.Handle(context.Background(), ev))

	var found bool
	for _, m := range f.messenger.Chat(42) {
		found = found || m.Text == PrivateChatText
	}
	assert.True(t, found)

	_, err := f.store.GetGroup(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCommandParsing(t *testing.T) {
	tests := map[string]string{
		"/menu":          "menu",
		"/Menu@splitbot": "menu",
		"/expense now":   "expense",
		"12.5":           "",
		"":               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, command(in), in)
	}
}
