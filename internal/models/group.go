package models

import "slices"

// LockSlot names one of the two exclusive holder slots on a group row.
type LockSlot string

const (
	// LockActiveWizard guards who may run a form in the group.
	LockActiveWizard LockSlot = "active_wizard"

	// LockSettingsEditor guards who may edit group settings.
	LockSettingsEditor LockSlot = "settings_editor"
)

// LockHolder is the current holder of a lock slot. A zero UserID means the slot is free.
type LockHolder struct {
	UserID   int64
	LockedAt int64
}

// Held reports whether someone holds the slot.
func (h LockHolder) Held() bool {
	return h.UserID != 0
}

// Group is a chat in which the bot tracks expenses.
type Group struct {
	// ChatID is the platform's chat id.
	ChatID int64

	// Title is the chat title as last resolved from the platform.
	Title string

	// Settings is the per-group configuration edited through the settings flow.
	Settings GroupSettings

	// ActiveWizard is the holder of the "active form" slot.
	ActiveWizard LockHolder

	// SettingsEditor is the holder of the "settings edit" slot.
	SettingsEditor LockHolder

	// MenuMessageID is the id of the last menu message posted in the chat, if any.
	MenuMessageID int64

	// LastActivityAt is the Unix timestamp of the last inbound event.
	LastActivityAt int64
}

// GroupSettings holds opt-in lists stored as JSON on the group row.
type GroupSettings struct {
	// AutoConfirmExpenseUsers have their expense shares confirmed at creation.
	AutoConfirmExpenseUsers []int64 `json:"auto_confirm_expense_users,omitempty"`

	// AutoConfirmSettlementUsers have settlements paid to them confirmed at creation.
	AutoConfirmSettlementUsers []int64 `json:"auto_confirm_settlement_users,omitempty"`

	// ExcludedMembers are left out of member listings and split selection.
	ExcludedMembers []int64 `json:"excluded_members,omitempty"`
}

// AutoConfirmsExpenses reports whether userID opted into automatic expense confirmation.
func (s GroupSettings) AutoConfirmsExpenses(userID int64) bool {
	return slices.Contains(s.AutoConfirmExpenseUsers, userID)
}

// AutoConfirmsSettlements reports whether userID opted into automatic settlement confirmation.
func (s GroupSettings) AutoConfirmsSettlements(userID int64) bool {
	return slices.Contains(s.AutoConfirmSettlementUsers, userID)
}

// IsExcluded reports whether userID is excluded from splits.
func (s GroupSettings) IsExcluded(userID int64) bool {
	return slices.Contains(s.ExcludedMembers, userID)
}

// SettingsToggle names a per-user boolean in GroupSettings.
type SettingsToggle string

const (
	ToggleAutoConfirmExpense    SettingsToggle = "auto_expense"
	ToggleAutoConfirmSettlement SettingsToggle = "auto_settlement"
	ToggleExcluded              SettingsToggle = "excluded"
)

// Toggle flips userID's membership in the list named by t and returns the new state.
func (s *GroupSettings) Toggle(t SettingsToggle, userID int64) (bool, bool) {
	var list *[]int64
	switch t {
	case ToggleAutoConfirmExpense:
		list = &s.AutoConfirmExpenseUsers
	case ToggleAutoConfirmSettlement:
		list = &s.AutoConfirmSettlementUsers
	case ToggleExcluded:
		list = &s.ExcludedMembers
	default:
		return false, false
	}

	if i := slices.Index(*list, userID); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
		return false, true
	}
	*list = append(*list, userID)
	return true, true
}
