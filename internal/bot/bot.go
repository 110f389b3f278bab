// Package bot turns inbound platform events into wizard, ledger and settings operations and
// shows their outcome in the group.
//
// Events are serialized per actor by the Dispatcher. Handle runs one event to completion:
// the actor is registered, the event is routed, and any error is mapped to what the member
// sees. Validation and conflict failures become notices, expired UI is torn down silently,
// platform failures are logged as warnings and everything else is an internal error.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/intake"
	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/locks"
	"github.com/mmynk/splitbot/internal/metrics"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/notice"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/storage"
	"github.com/mmynk/splitbot/internal/timers"
	"github.com/mmynk/splitbot/internal/wizard"
)

// GenericFailure is shown when an event failed for a reason the member cannot fix.
const GenericFailure = "Something went wrong. Please try again."

// Archive keeps and purges copies of attachments in the files channel.
type Archive interface {
	intake.Archiver
}

// Deps are the collaborators of a Bot.
type Deps struct {
	Store     storage.Store
	Ledger    *ledger.Engine
	Wizard    *wizard.Engine
	Locks     *locks.Manager
	Archive   Archive
	Messenger platform.Messenger
	Timers    *timers.Registry
	Render    *render.Renderer
}

// Bot handles inbound events.
type Bot struct {
	store     storage.Store
	ledger    *ledger.Engine
	wizard    *wizard.Engine
	locks     *locks.Manager
	archive   Archive
	messenger platform.Messenger
	timers    *timers.Registry
	render    *render.Renderer

	notices    *notice.Notifier
	intake     *intake.Pipeline
	dispatcher *Dispatcher

	shards    int
	buffer    int
	noticeTTL time.Duration
	quiet     time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Bot.
type Option func(*Bot)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// WithShards sets the number of dispatcher queues and their buffer size.
func WithShards(shards, buffer int) Option {
	return func(b *Bot) {
		b.shards = shards
		b.buffer = buffer
	}
}

// WithNoticeTTL sets how long transient notices stay visible.
func WithNoticeTTL(ttl time.Duration) Option {
	return func(b *Bot) { b.noticeTTL = ttl }
}

// WithMediaGroupQuiet sets the debounce window of media groups.
func WithMediaGroupQuiet(d time.Duration) Option {
	return func(b *Bot) { b.quiet = d }
}

// New creates a Bot and starts its dispatcher.
func New(deps Deps, opts ...Option) *Bot {
	b := &Bot{
		store:     deps.Store,
		ledger:    deps.Ledger,
		wizard:    deps.Wizard,
		locks:     deps.Locks,
		archive:   deps.Archive,
		messenger: deps.Messenger,
		timers:    deps.Timers,
		render:    deps.Render,
		noticeTTL: notice.DefaultTTL,
		quiet:     intake.DefaultQuiet,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.timers == nil {
		b.timers = timers.New()
	}

	b.dispatcher = NewDispatcher(b.shards, b.buffer, b.logger, b.metrics)
	b.notices = notice.New(b.messenger, b.timers, b.noticeTTL, b.logger)
	b.intake = intake.New(intake.Deps{
		Files:     b.store,
		Wizard:    b.wizard,
		Archive:   b.archive,
		Messenger: b.messenger,
		Reflector: b,
		Timers:    b.timers,
		Notices:   b.notices,
	},
		intake.WithExecutor(b.dispatcher.Executor("attachment_batch")),
		intake.WithQuiet(b.quiet),
		intake.WithClock(b.now),
		intake.WithLogger(b.logger),
		intake.WithMetrics(b.metrics),
	)
	return b
}

// Dispatch queues ev behind the actor's earlier events.
func (b *Bot) Dispatch(ctx context.Context, ev platform.Event) error {
	return b.dispatcher.Submit(ctx, ev.UserID, string(ev.Kind), func(ctx context.Context) error {
		return b.Handle(ctx, ev)
	})
}

// Stop stops accepting events, finishes the queued ones and cancels pending timers.
func (b *Bot) Stop(ctx context.Context) error {
	err := b.dispatcher.Stop(ctx)
	b.timers.Stop()
	return err
}

// turn is one event being handled. Callback events collect the answer shown to the presser.
type turn struct {
	platform.Event
	answer string
	alert  bool
}

func (t *turn) callback() bool { return t.Kind == platform.EventCallback }

func (t *turn) target(draftID string) wizard.Target {
	return wizard.Target{ChatID: t.ChatID, UserID: t.UserID, DraftID: draftID}
}

// Handle runs ev to completion. Only internal failures are returned.
func (b *Bot) Handle(ctx context.Context, ev platform.Event) error {
	t := &turn{Event: ev}

	err := b.register(ctx, ev)
	if err == nil {
		switch ev.Kind {
		case platform.EventText:
			err = b.onText(ctx, t)
		case platform.EventAttachment:
			err = b.onAttachment(ctx, t)
		case platform.EventCallback:
			err = b.onCallback(ctx, t)
		default:
			err = fmt.Errorf("unknown event kind %q", ev.Kind)
		}
	}
	if err != nil {
		err = b.fail(ctx, t, err)
	}

	if t.callback() {
		if aerr := b.messenger.AnswerCallback(ctx, t.CallbackID, t.answer, t.alert); aerr != nil {
			b.logger.Warn("Failed to answer callback", "callback_id", t.CallbackID, "error", aerr)
		}
	}
	return err
}

// register records the group, the actor and their membership.
func (b *Bot) register(ctx context.Context, ev platform.Event) error {
	if ev.ChatID > 0 {
		// Private chat: nothing is tracked there.
		return nil
	}
	now := b.now().Unix()
	if err := b.store.EnsureGroup(ctx, ev.ChatID); err != nil {
		return fmt.Errorf("failed to ensure group: %w", err)
	}
	if ev.ChatTitle != "" {
		if err := b.store.SetGroupTitle(ctx, ev.ChatID, ev.ChatTitle); err != nil {
			return fmt.Errorf("failed to set group title: %w", err)
		}
	}
	if err := b.store.TouchGroup(ctx, ev.ChatID, now); err != nil {
		return fmt.Errorf("failed to touch group: %w", err)
	}
	user := &models.User{ID: ev.UserID, Username: ev.Username, DisplayName: ev.DisplayName, RegisteredAt: now}
	if err := b.store.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	if err := b.store.AddMember(ctx, ev.ChatID, ev.UserID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// fail maps err to what the member sees and returns it only when it is internal.
func (b *Bot) fail(ctx context.Context, t *turn, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		b.notify(ctx, t, apperr.Message(err, "Invalid input."))
	case apperr.KindConflict:
		b.blocked(ctx, t, apperr.Message(err, "Someone else is in the way."), apperr.HolderOf(err))
	case apperr.KindExpired:
		b.teardown(ctx, t, 0)
	case apperr.KindExternal:
		b.logger.Warn("Platform call failed", "chat_id", t.ChatID, "user_id", t.UserID, "kind", t.Kind, "error", err)
	default:
		b.notify(ctx, t, GenericFailure)
		return err
	}
	return nil
}

// notify shows text to the actor: as a callback alert when a button was pressed, otherwise
// as a message that deletes itself.
func (b *Bot) notify(ctx context.Context, t *turn, text string) {
	if t.callback() {
		t.answer, t.alert = text, true
		return
	}
	if _, err := b.notices.Send(ctx, t.ChatID, text); err != nil {
		b.logger.Warn("Failed to send notice", "chat_id", t.ChatID, "error", err)
	}
}

// blocked notifies about a conflict, naming the member in the way.
func (b *Bot) blocked(ctx context.Context, t *turn, reason string, holderID int64) {
	if holderID != 0 && holderID != t.UserID {
		if holder, err := b.store.GetUser(ctx, holderID); err == nil {
			reason = fmt.Sprintf("%s\n%s has to finish first.", reason, holder.Name())
		}
	}
	b.notify(ctx, t, reason)
}

// teardown removes UI that no longer does anything: the given message and, for a callback,
// the message carrying the pressed button.
func (b *Bot) teardown(ctx context.Context, t *turn, messageID int64) {
	b.deleteMessage(ctx, t.ChatID, messageID)
	if t.callback() && t.MessageID != messageID {
		b.deleteMessage(ctx, t.ChatID, t.MessageID)
	}
}

func (b *Bot) deleteMessage(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	err := b.messenger.DeleteMessage(ctx, chatID, messageID)
	if err != nil && !errors.Is(err, platform.ErrMessageGone) {
		b.logger.Warn("Failed to delete message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// users resolves ids to users. Unknown ids are left out.
func (b *Bot) users(ctx context.Context, ids ...int64) (map[int64]*models.User, error) {
	users, err := b.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

func (b *Bot) groupTitle(ctx context.Context, chatID int64) (*models.Group, string, error) {
	group, err := b.store.GetGroup(ctx, chatID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load group: %w", err)
	}
	title := group.Title
	if title == "" {
		title = "this group"
	}
	return group, title, nil
}

// send posts a rendered message.
func (b *Bot) send(ctx context.Context, chatID int64, out render.Rendered) (int64, error) {
	id, err := b.messenger.SendMessage(ctx, platform.Message{ChatID: chatID, Text: out.Text, Keyboard: out.Keyboard})
	if err != nil {
		return 0, apperr.External("send message", err)
	}
	return id, nil
}
