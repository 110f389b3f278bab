// Package service is the operator-facing admin API and the inbound event endpoint of the
// gateway sidecar, served over Connect with plain JSON messages.
package service

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/platform"
)

const (
	AuthServiceName   = "splitbot.admin.v1.AuthService"
	LedgerServiceName = "splitbot.admin.v1.LedgerService"
	BotServiceName    = "splitbot.bot.v1.BotService"
)

const (
	LoginProcedure          = "/" + AuthServiceName + "/Login"
	GetBalancesProcedure    = "/" + LedgerServiceName + "/GetBalances"
	ListHistoryProcedure    = "/" + LedgerServiceName + "/ListHistory"
	GetUserSummaryProcedure = "/" + LedgerServiceName + "/GetUserSummary"
	ListDraftsProcedure     = "/" + LedgerServiceName + "/ListDrafts"
	ListGroupsProcedure     = "/" + LedgerServiceName + "/ListGroups"
	DispatchProcedure       = "/" + BotServiceName + "/Dispatch"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type GetBalancesRequest struct {
	ChatID int64 `json:"chat_id"`
}

// Debt is one directed edge: From owes To Amount.
type Debt struct {
	From     int64  `json:"from"`
	FromName string `json:"from_name,omitempty"`
	To       int64  `json:"to"`
	ToName   string `json:"to_name,omitempty"`
	Amount   string `json:"amount"`
}

type MemberBalance struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Net    string `json:"net"`
	Owes   string `json:"owes"`
	IsOwed string `json:"is_owed"`
}

type GetBalancesResponse struct {
	Debts    []Debt          `json:"debts"`
	Plan     []Debt          `json:"plan"`
	Balances []MemberBalance `json:"balances"`
}

type ListHistoryRequest struct {
	ChatID int64 `json:"chat_id"`
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
}

type HistoryEntry struct {
	Kind        string   `json:"kind"`
	ID          string   `json:"id"`
	From        int64    `json:"from"`
	To          int64    `json:"to,omitempty"`
	Amount      string   `json:"amount"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Status      string   `json:"status"`
	CreatedAt   int64    `json:"created_at"`
}

type ListHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

type GetUserSummaryRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

type GetUserSummaryResponse struct {
	Owes   string `json:"owes"`
	IsOwed string `json:"is_owed"`
	Net    string `json:"net"`
	Debts  []Debt `json:"debts"`
}

type ListDraftsRequest struct {
	ChatID int64 `json:"chat_id"`
}

type Draft struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Kind      string `json:"kind"`
	Step      int    `json:"step"`
	MessageID int64  `json:"message_id,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
	Expired   bool   `json:"expired"`
}

type ListDraftsResponse struct {
	Drafts []Draft `json:"drafts"`
}

type ListGroupsRequest struct{}

// Group is a tracked chat. Lock holders are zero when the slot is free.
type Group struct {
	ChatID         int64  `json:"chat_id"`
	Title          string `json:"title,omitempty"`
	ActiveWizard   int64  `json:"active_wizard,omitempty"`
	SettingsEditor int64  `json:"settings_editor,omitempty"`
	LastActivityAt int64  `json:"last_activity_at,omitempty"`
}

type ListGroupsResponse struct {
	Groups []Group `json:"groups"`
}

type DispatchRequest struct {
	Event platform.Event `json:"event"`
}

// Empty is the response of procedures that return nothing.
type Empty struct{}

// connectError maps the error taxonomy onto Connect codes.
func connectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return connect.NewError(connect.CodeInvalidArgument, errors.New(apperr.Message(err, "invalid request")))
	case apperr.KindConflict:
		return connect.NewError(connect.CodeAborted, errors.New(apperr.Message(err, "conflict")))
	case apperr.KindExpired:
		return connect.NewError(connect.CodeNotFound, err)
	case apperr.KindExternal:
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
