package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/middleware"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var errMissingChat = errors.New("chat_id is required")

// LedgerService gives operators a read-only view of group ledgers.
type LedgerService struct {
	store  storage.Store
	ledger *ledger.Engine
	now    func() int64
	logger *slog.Logger
}

// NewLedgerService creates a new LedgerService over the given store and engine.
func NewLedgerService(store storage.Store, lg *ledger.Engine, now func() int64, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{store: store, ledger: lg, now: now, logger: logger}
}

// names resolves display names for ids. Missing users are left out.
func (s *LedgerService) names(ctx context.Context, ids []int64) (map[int64]string, error) {
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	names := make(map[int64]string, len(users))
	for id, u := range users {
		names[id] = u.Name()
	}
	return names, nil
}

func (s *LedgerService) debts(ctx context.Context, edges ...[]models.DebtEdge) ([][]Debt, error) {
	var ids []int64
	for _, list := range edges {
		for _, e := range list {
			ids = append(ids, e.From, e.To)
		}
	}
	names, err := s.names(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([][]Debt, len(edges))
	for i, list := range edges {
		out[i] = make([]Debt, 0, len(list))
		for _, e := range list {
			out[i] = append(out[i], Debt{
				From: e.From, FromName: names[e.From],
				To: e.To, ToName: names[e.To],
				Amount: e.Amount.String(),
			})
		}
	}
	return out, nil
}

// GetBalances returns a group's debts, per-member balances and a settle-up plan.
func (s *LedgerService) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	if req.Msg.ChatID == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingChat)
	}
	s.logger.Info("Balances requested", "chat_id", req.Msg.ChatID, "operator", middleware.GetOperator(ctx))

	balances, plan, edges, err := s.ledger.GroupBalances(ctx, req.Msg.ChatID)
	if err != nil {
		return nil, connectError(err)
	}
	lists, err := s.debts(ctx, edges, plan)
	if err != nil {
		return nil, connectError(err)
	}

	ids := make([]int64, len(balances))
	for i, b := range balances {
		ids[i] = b.UserID
	}
	names, err := s.names(ctx, ids)
	if err != nil {
		return nil, connectError(err)
	}

	resp := &GetBalancesResponse{Debts: lists[0], Plan: lists[1], Balances: make([]MemberBalance, 0, len(balances))}
	for _, b := range balances {
		resp.Balances = append(resp.Balances, MemberBalance{
			UserID: b.UserID,
			Name:   names[b.UserID],
			Net:    b.NetBalance.String(),
			Owes:   b.TotalOwed.String(),
			IsOwed: b.TotalOwedToMember.String(),
		})
	}

	return connect.NewResponse(resp), nil
}

// ListHistory returns one page of a group's expenses and settlements, newest first.
func (s *LedgerService) ListHistory(ctx context.Context, req *connect.Request[ListHistoryRequest]) (*connect.Response[ListHistoryResponse], error) {
	if req.Msg.ChatID == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingChat)
	}
	limit := req.Msg.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	if req.Msg.Offset < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("offset must not be negative"))
	}

	entries, err := s.store.ListHistory(ctx, req.Msg.ChatID, limit, req.Msg.Offset)
	if err != nil {
		return nil, connectError(fmt.Errorf("failed to list history: %w", err))
	}

	resp := &ListHistoryResponse{Entries: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, HistoryEntry{
			Kind:        string(e.Kind),
			ID:          e.ID,
			From:        e.FromUserID,
			To:          e.ToUserID,
			Amount:      e.Amount.String(),
			Description: e.Description,
			Categories:  e.Categories,
			Status:      e.Status,
			CreatedAt:   e.CreatedAt,
		})
	}
	return connect.NewResponse(resp), nil
}

// GetUserSummary totals what one member owes and is owed.
func (s *LedgerService) GetUserSummary(ctx context.Context, req *connect.Request[GetUserSummaryRequest]) (*connect.Response[GetUserSummaryResponse], error) {
	if req.Msg.ChatID == 0 || req.Msg.UserID == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("chat_id and user_id are required"))
	}

	summary, err := s.ledger.UserSummary(ctx, req.Msg.ChatID, req.Msg.UserID)
	if err != nil {
		return nil, connectError(err)
	}
	lists, err := s.debts(ctx, summary.Debts)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&GetUserSummaryResponse{
		Owes:   summary.TotalOwed.String(),
		IsOwed: summary.TotalOwedToMember.String(),
		Net:    (summary.TotalOwedToMember - summary.TotalOwed).String(),
		Debts:  lists[0],
	}), nil
}

// ListDrafts returns the forms open in a group, expired ones included until swept.
func (s *LedgerService) ListDrafts(ctx context.Context, req *connect.Request[ListDraftsRequest]) (*connect.Response[ListDraftsResponse], error) {
	if req.Msg.ChatID == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingChat)
	}

	drafts, err := s.store.ListDrafts(ctx, req.Msg.ChatID)
	if err != nil {
		return nil, connectError(fmt.Errorf("failed to list drafts: %w", err))
	}

	now := s.now()
	resp := &ListDraftsResponse{Drafts: make([]Draft, 0, len(drafts))}
	for _, d := range drafts {
		resp.Drafts = append(resp.Drafts, Draft{
			ID:        d.ID,
			UserID:    d.UserID,
			Kind:      string(d.Kind),
			Step:      d.Step,
			MessageID: d.MessageID,
			ExpiresAt: d.ExpiresAt,
			Expired:   d.Expired(now),
		})
	}
	return connect.NewResponse(resp), nil
}

// ListGroups returns every tracked group with its lock holders.
func (s *LedgerService) ListGroups(ctx context.Context, _ *connect.Request[ListGroupsRequest]) (*connect.Response[ListGroupsResponse], error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, connectError(fmt.Errorf("failed to list groups: %w", err))
	}

	resp := &ListGroupsResponse{Groups: make([]Group, 0, len(groups))}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, Group{
			ChatID:         g.ChatID,
			Title:          g.Title,
			ActiveWizard:   g.ActiveWizard.UserID,
			SettingsEditor: g.SettingsEditor.UserID,
			LastActivityAt: g.LastActivityAt,
		})
	}
	return connect.NewResponse(resp), nil
}
