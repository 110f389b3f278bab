// Package locks manages the two exclusive holder slots kept on every group row.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// maxSwapAttempts bounds how often Acquire re-reads a slot that changed under it.
const maxSwapAttempts = 3

// Decision is the outcome of evaluating an acquisition request against the current holder.
type Decision int

const (
	// Grant: the slot is free.
	Grant Decision = iota
	// Keep: the requester already holds the slot.
	Keep
	// Override: another member holds the slot but the hold is stale.
	Override
	// Reject: another member holds the slot and the hold is fresh.
	Reject
)

// Decide evaluates a request by requester at now. A hold is stale only when
// now - LockedAt is strictly greater than ttl.
func Decide(current models.LockHolder, requester int64, now time.Time, ttl time.Duration) Decision {
	switch {
	case !current.Held():
		return Grant
	case current.UserID == requester:
		return Keep
	case now.Unix()-current.LockedAt > int64(ttl/time.Second):
		return Override
	default:
		return Reject
	}
}

// HeldError reports that another member holds the slot.
type HeldError struct {
	Slot   models.LockSlot
	Holder models.LockHolder
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s is held by user %d", e.Slot, e.Holder.UserID)
}

func (e *HeldError) ErrorKind() apperr.Kind { return apperr.KindConflict }
func (e *HeldError) HolderUserID() int64    { return e.Holder.UserID }

func (e *HeldError) UserMessage() string {
	if e.Slot == models.LockSettingsEditor {
		return "Settings are being edited by someone else."
	}
	return "Another form is in progress in this group."
}

// Manager grants and releases lock slots through compare-and-swap writes.
type Manager struct {
	store  storage.LockStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager whose holds go stale after ttl.
func NewManager(store storage.LockStore, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants slot to userID, overriding a stale holder. A fresh hold by someone
// else yields a *HeldError.
func (m *Manager) Acquire(ctx context.Context, chatID int64, slot models.LockSlot, userID int64) error {
	return m.acquire(ctx, chatID, slot, userID, false)
}

// Renew is Acquire that also moves the holder's timestamp to now, so an active holder's
// hold ages from its last activity instead of from the first grant.
func (m *Manager) Renew(ctx context.Context, chatID int64, slot models.LockSlot, userID int64) error {
	return m.acquire(ctx, chatID, slot, userID, true)
}

func (m *Manager) acquire(ctx context.Context, chatID int64, slot models.LockSlot, userID int64, renew bool) error {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, err := m.store.GetLock(ctx, chatID, slot)
		if err != nil {
			return fmt.Errorf("failed to read lock: %w", err)
		}

		now := m.now()
		switch Decide(current, userID, now, m.ttl) {
		case Keep:
			if !renew || current.LockedAt == now.Unix() {
				return nil
			}
		case Reject:
			return &HeldError{Slot: slot, Holder: current}
		case Override:
			m.logger.Info("Overriding stale lock",
				"chat_id", chatID,
				"slot", slot,
				"holder", current.UserID,
				"locked_at", current.LockedAt,
				"requester", userID,
			)
		}

		err = m.store.SwapLock(ctx, chatID, slot, current, models.LockHolder{UserID: userID, LockedAt: now.Unix()})
		if errors.Is(err, storage.ErrLockChanged) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to write lock: %w", err)
		}
		return nil
	}

	holder, err := m.store.GetLock(ctx, chatID, slot)
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	return &HeldError{Slot: slot, Holder: holder}
}

// Release frees slot if userID holds it. Releasing a slot held by someone else is a no-op.
func (m *Manager) Release(ctx context.Context, chatID int64, slot models.LockSlot, userID int64) error {
	current, err := m.store.GetLock(ctx, chatID, slot)
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if current.UserID != userID {
		return nil
	}
	err = m.store.SwapLock(ctx, chatID, slot, current, models.LockHolder{})
	if err != nil && !errors.Is(err, storage.ErrLockChanged) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ForceRelease frees slot whoever holds it.
func (m *Manager) ForceRelease(ctx context.Context, chatID int64, slot models.LockSlot) error {
	current, err := m.store.GetLock(ctx, chatID, slot)
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if !current.Held() {
		return nil
	}
	err = m.store.SwapLock(ctx, chatID, slot, current, models.LockHolder{})
	if err != nil && !errors.Is(err, storage.ErrLockChanged) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Holder returns the current holder of slot.
func (m *Manager) Holder(ctx context.Context, chatID int64, slot models.LockSlot) (models.LockHolder, error) {
	return m.store.GetLock(ctx, chatID, slot)
}

// ReleaseStale frees every hold older than the TTL in both slots and returns how many it freed.
func (m *Manager) ReleaseStale(ctx context.Context) (int, error) {
	cutoff := m.now().Unix() - int64(m.ttl/time.Second)
	released := 0
	for _, slot := range []models.LockSlot{models.LockActiveWizard, models.LockSettingsEditor} {
		held, err := m.store.ListHeldLocks(ctx, slot, cutoff)
		if err != nil {
			return released, fmt.Errorf("failed to list stale locks: %w", err)
		}
		for chatID, holder := range held {
			err := m.store.SwapLock(ctx, chatID, slot, holder, models.LockHolder{})
			if errors.Is(err, storage.ErrLockChanged) {
				continue
			}
			if err != nil {
				return released, fmt.Errorf("failed to release stale lock: %w", err)
			}
			m.logger.Debug("Released stale lock", "chat_id", chatID, "slot", slot, "holder", holder.UserID)
			released++
		}
	}
	return released, nil
}
