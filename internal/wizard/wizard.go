// Package wizard drives the multi-step forms members fill in to record expenses,
// settlements and debt clearances.
//
// A form is a Draft row keyed by (chat, user). The group's active-wizard lock admits one
// form author at a time. Every mutation reads the draft, applies a pure change to a copy of
// its payload and writes it back with a compare-and-swap on the draft revision. Member
// mistakes and lost races come back as Events, never as errors; errors are reserved for
// failures the caller must log.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/metrics"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// casAttempts bounds how often a mutation is re-applied after losing a revision race.
const casAttempts = 3

// EventKind names what happened to a form.
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventAdvanced         EventKind = "advanced"
	EventUpdated          EventKind = "updated"
	EventValidationFailed EventKind = "validation_failed"
	EventConflict         EventKind = "conflict"
	EventConfirmed        EventKind = "confirmed"
	EventCancelled        EventKind = "cancelled"
	EventExpired          EventKind = "expired"
)

// Event is the outcome reported to the renderer.
type Event struct {
	Kind EventKind
	// Reason is member-facing text for validation failures and conflicts.
	Reason string
	// HolderID is the member in the way of a conflict, when known.
	HolderID int64
}

// Cleared describes a confirmed debt clearance.
type Cleared struct {
	Creditor  int64
	Debtor    int64
	Amount    models.Amount
	Remaining models.Amount
}

// Result is what an operation did. View is set while the form is alive.
type Result struct {
	Event Event
	View  *View

	// MessageID is the wizard message of a form that ended and should be torn down. On a
	// start it is the message of the member's previous form, if there was one.
	MessageID int64

	Expense    *ledger.ExpenseResult
	Settlement *models.Settlement
	Cleared    *Cleared

	// ReplacedMessageID is the card of a record reopened for editing.
	ReplacedMessageID int64
}

// Target addresses the form an inbound action is meant for. DraftID comes from button data
// and is empty for typed input and attachments.
type Target struct {
	ChatID  int64
	UserID  int64
	DraftID string
}

// Locker is the slice of the lock manager the wizard needs.
type Locker interface {
	Acquire(ctx context.Context, chatID int64, slot models.LockSlot, userID int64) error
	Renew(ctx context.Context, chatID int64, slot models.LockSlot, userID int64) error
	Release(ctx context.Context, chatID int64, slot models.LockSlot, userID int64) error
}

// Archive purges archived attachment copies.
type Archive interface {
	Purge(ctx context.Context, archiveIDs ...int64) error
}

// Engine runs the forms.
type Engine struct {
	store   storage.Store
	ledger  *ledger.Engine
	locks   Locker
	archive Archive
	ttl     time.Duration
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

// New creates an Engine. Drafts expire ttl after their last mutation.
func New(store storage.Store, lg *ledger.Engine, locks Locker, archive Archive, ttl time.Duration, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		ledger:  lg,
		locks:   locks,
		archive: archive,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TTL returns the draft time-to-live.
func (e *Engine) TTL() time.Duration { return e.ttl }

func (e *Engine) record(kind models.DraftKind, ev EventKind) {
	e.metrics.WizardTransition(string(kind), string(ev))
}

func eventResult(kind EventKind, reason string) *Result {
	return &Result{Event: Event{Kind: kind, Reason: reason}}
}

// outcome turns member-facing failures into events and passes everything else through.
func outcome(err error) (*Result, error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return eventResult(EventValidationFailed, apperr.Message(err, "Invalid input.")), nil
	case apperr.KindConflict:
		r := eventResult(EventConflict, apperr.Message(err, "Someone else is in the way."))
		r.Event.HolderID = apperr.HolderOf(err)
		return r, nil
	case apperr.KindExpired:
		return eventResult(EventExpired, ""), nil
	default:
		return nil, err
	}
}

// Current returns the live draft addressed by t. When the form is gone the returned Result
// says why and the draft is nil; an expired draft is discarded on the way.
func (e *Engine) Current(ctx context.Context, t Target) (*models.Draft, *Result, error) {
	var (
		d   *models.Draft
		err error
	)
	if t.DraftID != "" {
		d, err = e.store.GetDraft(ctx, t.DraftID)
	} else {
		d, err = e.store.FindDraft(ctx, t.ChatID, t.UserID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, eventResult(EventExpired, ""), nil
	}
	if err != nil {
		return nil, nil, err
	}

	if d.ChatID != t.ChatID {
		return nil, eventResult(EventExpired, ""), nil
	}
	if d.UserID != t.UserID {
		r := eventResult(EventConflict, "This form belongs to someone else.")
		r.Event.HolderID = d.UserID
		return nil, r, nil
	}
	if d.Expired(e.now().Unix()) {
		if _, err := e.Expire(ctx, d); err != nil {
			return nil, nil, err
		}
		r := eventResult(EventExpired, "")
		r.MessageID = d.MessageID
		return nil, r, nil
	}
	return d, nil, nil
}

// change is a pure edit of a draft copy. Returning a Result aborts the write and reports it.
type change func(d *models.Draft) *Result

// mutate loads the draft, renews the author's lock, applies fn and writes the result back.
// A lost revision race reloads and re-applies fn.
func (e *Engine) mutate(ctx context.Context, t Target, ev EventKind, fn change) (*Result, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		d, gone, err := e.Current(ctx, t)
		if err != nil || gone != nil {
			return gone, err
		}

		if err := e.locks.Renew(ctx, d.ChatID, models.LockActiveWizard, d.UserID); err != nil {
			return outcome(err)
		}

		next := *d
		next.Payload = models.ClonePayload(d.Payload)
		if r := fn(&next); r != nil {
			return r, nil
		}

		now := e.now()
		next.UpdatedAt = now.Unix()
		next.ExpiresAt = now.Add(e.ttl).Unix()

		err = e.store.UpdateDraft(ctx, &next)
		if errors.Is(err, storage.ErrStaleDraft) {
			continue
		}
		if errors.Is(err, storage.ErrNotFound) {
			return eventResult(EventExpired, ""), nil
		}
		if err != nil {
			return nil, err
		}

		view, err := e.buildView(ctx, &next)
		if err != nil {
			return nil, err
		}
		e.record(next.Kind, ev)
		return &Result{Event: Event{Kind: ev}, View: view}, nil
	}
	return eventResult(EventConflict, "The form changed while you were editing it. Please try again."), nil
}

// staleButton reports an action that does not belong to the form's current step.
func staleButton() *Result {
	return eventResult(EventConflict, "This button is no longer active.")
}

// StartInput selects the form to open.
type StartInput struct {
	ChatID int64
	UserID int64
	Kind   models.DraftKind
}

// Start opens an expense or settlement form. Any previous form of the member is discarded.
func (e *Engine) Start(ctx context.Context, in StartInput) (*Result, error) {
	return e.begin(ctx, in.ChatID, in.UserID, func(ctx context.Context) (*models.Draft, *Result, error) {
		d := &models.Draft{ChatID: in.ChatID, UserID: in.UserID, Kind: in.Kind, Step: 1}
		switch in.Kind {
		case models.KindExpense:
			d.Payload = &models.ExpensePayload{}
		case models.KindSettlement:
			p := &models.SettlementPayload{}
			creditors, err := e.ledger.Creditors(ctx, in.ChatID, in.UserID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load creditors: %w", err)
			}
			if len(creditors) == 1 {
				p.Payee = creditors[0].To
				d.Step = models.SettlementStepAmount
			}
			d.Payload = p
		default:
			return nil, nil, fmt.Errorf("cannot start a %q form directly", in.Kind)
		}
		return d, nil, nil
	})
}

// StartClearDebt opens the form in which creditor forgives part of what debtor owes.
func (e *Engine) StartClearDebt(ctx context.Context, chatID, creditor, debtor int64) (*Result, error) {
	return e.begin(ctx, chatID, creditor, func(ctx context.Context) (*models.Draft, *Result, error) {
		owed, err := e.ledger.Owed(ctx, debtor, creditor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read debt: %w", err)
		}
		if owed <= 0 {
			return nil, eventResult(EventValidationFailed, "This person does not owe you anything."), nil
		}
		return &models.Draft{
			ChatID:  chatID,
			UserID:  creditor,
			Kind:    models.KindClearDebt,
			Step:    models.ClearDebtStepAmount,
			Payload: &models.ClearDebtPayload{Debtor: debtor, TotalDebt: owed},
		}, nil, nil
	})
}

// seedFunc builds the new draft once the lock is held. A non-nil Result aborts the start.
type seedFunc func(ctx context.Context) (*models.Draft, *Result, error)

// begin takes the active-wizard lock, discards the member's previous draft and creates the
// one built by seed. The lock is released again when nothing was created.
func (e *Engine) begin(ctx context.Context, chatID, userID int64, seed seedFunc) (*Result, error) {
	if err := e.locks.Acquire(ctx, chatID, models.LockActiveWizard, userID); err != nil {
		return outcome(err)
	}
	created := false
	defer func() {
		if created {
			return
		}
		if rerr := e.locks.Release(ctx, chatID, models.LockActiveWizard, userID); rerr != nil {
			e.logger.Error("Failed to release wizard lock", "chat_id", chatID, "user_id", userID, "error", rerr)
		}
	}()

	var replaced int64
	prev, err := e.store.FindDraft(ctx, chatID, userID)
	switch {
	case err == nil:
		if err := e.rollback(ctx, prev, func() (bool, error) {
			return true, e.store.DeleteDraft(ctx, prev.ID)
		}); err != nil {
			return nil, err
		}
		replaced = prev.MessageID
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	d, abort, err := seed(ctx)
	if err != nil || abort != nil {
		if abort != nil {
			abort.MessageID = replaced
		}
		return abort, err
	}

	now := e.now()
	d.CreatedAt = now.Unix()
	d.UpdatedAt = now.Unix()
	d.ExpiresAt = now.Add(e.ttl).Unix()
	err = e.store.CreateDraft(ctx, d)
	if errors.Is(err, storage.ErrDraftExists) {
		// A concurrent start for the same member won; their form keeps the lock.
		created = true
		return eventResult(EventConflict, "You already have a form open."), nil
	}
	if err != nil {
		return nil, err
	}
	created = true

	view, err := e.buildView(ctx, d)
	if err != nil {
		return nil, err
	}
	e.record(d.Kind, EventStarted)
	e.logger.Debug("Wizard started", "draft_id", d.ID, "chat_id", chatID, "user_id", userID, "kind", d.Kind)
	return &Result{Event: Event{Kind: EventStarted}, View: view, MessageID: replaced}, nil
}

// SetMessage records the message the form is reflected into.
func (e *Engine) SetMessage(ctx context.Context, draftID string, messageID int64) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		d, err := e.store.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		d.MessageID = messageID
		err = e.store.UpdateDraft(ctx, d)
		if !errors.Is(err, storage.ErrStaleDraft) {
			return err
		}
	}
	return storage.ErrStaleDraft
}

// Advance moves to the next step once the current one is complete.
func (e *Engine) Advance(ctx context.Context, t Target) (*Result, error) {
	return e.mutate(ctx, t, EventAdvanced, func(d *models.Draft) *Result {
		if reason := stepReason(d); reason != "" {
			return eventResult(EventValidationFailed, reason)
		}
		d.Step = min(d.Step+1, models.ReviewStep(d.Kind))
		return nil
	})
}

// Retreat moves one step back. It never fails validation.
func (e *Engine) Retreat(ctx context.Context, t Target) (*Result, error) {
	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		d.Step = max(d.Step-1, 1)
		return nil
	})
}

// JumpToEdit goes from the review step straight back to an earlier step, keeping the payload.
func (e *Engine) JumpToEdit(ctx context.Context, t Target, step int) (*Result, error) {
	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		review := models.ReviewStep(d.Kind)
		if d.Step != review {
			return staleButton()
		}
		if step < 1 || step >= review {
			return eventResult(EventValidationFailed, "There is no such step.")
		}
		d.Step = step
		return nil
	})
}

// Confirm materializes the form from its review step, then deletes the draft and releases
// the lock. Files follow the new record.
func (e *Engine) Confirm(ctx context.Context, t Target) (*Result, error) {
	d, gone, err := e.Current(ctx, t)
	if err != nil || gone != nil {
		return gone, err
	}
	if d.Step != models.ReviewStep(d.Kind) {
		return staleButton(), nil
	}
	if reason := readyReason(d); reason != "" {
		return eventResult(EventValidationFailed, reason), nil
	}
	if err := e.locks.Renew(ctx, d.ChatID, models.LockActiveWizard, d.UserID); err != nil {
		return outcome(err)
	}

	res := &Result{Event: Event{Kind: EventConfirmed}, MessageID: d.MessageID}
	switch p := d.Payload.(type) {
	case *models.ExpensePayload:
		created, err := e.ledger.CreateExpense(ctx, ledger.ExpenseInput{
			ChatID:      d.ChatID,
			PayerID:     d.UserID,
			Amount:      p.Amount,
			Description: p.Description,
			Categories:  p.Categories,
			Debtors:     p.Debtors,
			DraftID:     d.ID,
		})
		if err != nil {
			return consumeFailed(d, err)
		}
		res.Expense = created
	case *models.SettlementPayload:
		created, err := e.ledger.CreateSettlement(ctx, ledger.SettlementInput{
			ChatID:  d.ChatID,
			FromID:  d.UserID,
			ToID:    p.Payee,
			Amount:  p.Amount,
			DraftID: d.ID,
		})
		if err != nil {
			return consumeFailed(d, err)
		}
		res.Settlement = created
	case *models.ClearDebtPayload:
		remaining, err := e.ledger.ClearDebt(ctx, d.UserID, p.Debtor, p.AmountToClear)
		if apperr.Is(err, apperr.KindExpired) {
			if err := e.Discard(ctx, d); err != nil {
				return nil, err
			}
			return &Result{Event: Event{Kind: EventExpired}, MessageID: d.MessageID}, nil
		}
		if err != nil {
			return outcome(err)
		}
		if err := e.store.DeleteDraft(ctx, d.ID); err != nil {
			return nil, err
		}
		res.Cleared = &Cleared{Creditor: d.UserID, Debtor: p.Debtor, Amount: p.AmountToClear, Remaining: remaining}
	}

	if err := e.locks.Release(ctx, d.ChatID, models.LockActiveWizard, d.UserID); err != nil {
		e.logger.Error("Failed to release wizard lock", "chat_id", d.ChatID, "user_id", d.UserID, "error", err)
	}
	e.record(d.Kind, EventConfirmed)
	e.logger.Info("Wizard confirmed", "draft_id", d.ID, "chat_id", d.ChatID, "user_id", d.UserID, "kind", d.Kind)
	return res, nil
}

// consumeFailed maps a failed materialization. A draft removed after it was read, by the
// sweep for instance, creates nothing and reads as an expired form.
func consumeFailed(d *models.Draft, err error) (*Result, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return &Result{Event: Event{Kind: EventExpired}, MessageID: d.MessageID}, nil
	}
	return outcome(err)
}

// Cancel abandons the form through the rollback path.
func (e *Engine) Cancel(ctx context.Context, t Target) (*Result, error) {
	d, gone, err := e.Current(ctx, t)
	if err != nil || gone != nil {
		return gone, err
	}
	if err := e.Discard(ctx, d); err != nil {
		return nil, err
	}
	e.record(d.Kind, EventCancelled)
	return &Result{Event: Event{Kind: EventCancelled}, MessageID: d.MessageID}, nil
}

// Discard is the single rollback path for a draft: its file references and archived copies,
// the draft row and the author's lock all go. Purge failures are logged, not returned.
func (e *Engine) Discard(ctx context.Context, d *models.Draft) error {
	if err := e.rollback(ctx, d, func() (bool, error) {
		return true, e.store.DeleteDraft(ctx, d.ID)
	}); err != nil {
		return err
	}
	return e.releaseLock(ctx, d)
}

// Expire discards d only if its row is unchanged since d was read and past its expiry.
// It reports false and touches nothing when the draft was refreshed or is already gone.
func (e *Engine) Expire(ctx context.Context, d *models.Draft) (bool, error) {
	removed := false
	err := e.rollback(ctx, d, func() (bool, error) {
		var err error
		removed, err = e.store.DeleteExpiredDraft(ctx, d.ID, d.Revision, e.now().Unix())
		return removed, err
	})
	if err != nil || !removed {
		return false, err
	}
	e.record(d.Kind, EventExpired)
	return true, e.releaseLock(ctx, d)
}

func (e *Engine) releaseLock(ctx context.Context, d *models.Draft) error {
	if err := e.locks.Release(ctx, d.ChatID, models.LockActiveWizard, d.UserID); err != nil {
		return fmt.Errorf("failed to release wizard lock: %w", err)
	}
	return nil
}

// rollback deletes the draft row through remove, then its file references and archived
// copies. Nothing else is touched when remove reports that no row went. References an
// attachment batch adds after the row is gone are undone by that batch.
func (e *Engine) rollback(ctx context.Context, d *models.Draft, remove func() (bool, error)) error {
	removed, err := remove()
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	refs, err := e.store.ListFileRefs(ctx, models.DraftRelation(d.ID))
	if err != nil {
		return fmt.Errorf("failed to list draft files: %w", err)
	}

	seen := make(map[int64]bool)
	var archived []int64
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			archived = append(archived, id)
		}
	}
	for _, ref := range refs {
		add(ref.ArchiveMessageID)
		if err := e.store.DeleteFileRef(ctx, ref.ID); err != nil {
			return fmt.Errorf("failed to delete file ref: %w", err)
		}
	}
	for _, f := range d.Payload.Attachments() {
		add(f.ArchiveMessageID)
	}

	if len(archived) > 0 {
		if err := e.archive.Purge(ctx, archived...); err != nil {
			e.logger.Warn("Failed to purge archived attachments", "draft_id", d.ID, "error", err)
		}
	}
	e.logger.Debug("Draft discarded", "draft_id", d.ID, "chat_id", d.ChatID, "user_id", d.UserID, "files", len(archived))
	return nil
}
