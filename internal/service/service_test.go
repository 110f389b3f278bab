package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/auth"
	"github.com/mmynk/splitbot/internal/bot"
	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/locks"
	"github.com/mmynk/splitbot/internal/middleware"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/storage/sqlite"
	"github.com/mmynk/splitbot/internal/wizard"
)

const (
	chat         = int64(-700)
	alice        = int64(1)
	bob          = int64(2)
	gatewayToken = "sidecar-token"
	password     = "correct horse"
)

type noPurge struct{}

func (noPurge) Purge(context.Context, ...int64) error { return nil }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []platform.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev platform.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, ev)
	return nil
}

type fixture struct {
	url        string
	store      *sqlite.SQLiteStore
	ledger     *ledger.Engine
	wizard     *wizard.Engine
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, chat))
	for id, name := range map[int64]string{alice: "Alice", bob: "Bob"} {
		require.NoError(t, store.UpsertUser(ctx, &models.User{ID: id, DisplayName: name}))
		require.NoError(t, store.AddMember(ctx, chat, id))
	}

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	jwtManager := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	logger := slog.New(slog.DiscardHandler)

	lg := ledger.New(store)
	lk := locks.NewManager(store, 15*time.Minute)
	wz := wizard.New(store, lg, lk, noPurge{}, 15*time.Minute)
	f := &fixture{store: store, ledger: lg, wizard: wz, dispatcher: &recordingDispatcher{}}

	logging := middleware.LoggingInterceptor(logger)
	mux := http.NewServeMux()
	mux.Handle(NewAuthServiceHandler(
		NewAuthService(auth.NewPasswordAuthenticator(map[string]string{"root": hash}), jwtManager, logger),
		connect.WithInterceptors(logging),
	))
	mux.Handle(NewLedgerServiceHandler(
		NewLedgerService(store, lg, func() int64 { return time.Now().Unix() }, logger),
		connect.WithInterceptors(middleware.RequireAuth(jwtManager), logging),
	))
	mux.Handle(NewBotServiceHandler(
		NewBotService(f.dispatcher, logger),
		connect.WithInterceptors(middleware.RequireToken(gatewayToken), logging),
	))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f.url = srv.URL
	return f
}

func (f *fixture) login(t *testing.T) *LedgerServiceClient {
	t.Helper()
	resp, err := NewAuthServiceClient(http.DefaultClient, f.url).Login(context.Background(), &LoginRequest{Username: "root", Password: password})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	return NewLedgerServiceClient(http.DefaultClient, f.url, WithBearer(resp.Token))
}

func (f *fixture) expense(t *testing.T, amount string, confirm bool) string {
	t.Helper()
	a, err := models.ParseAmount(amount)
	require.NoError(t, err)
	ctx := context.Background()
	res, err := f.ledger.CreateExpense(ctx, ledger.ExpenseInput{
		ChatID: chat, PayerID: alice, Amount: a, Description: "Groceries", Debtors: []int64{bob},
	})
	require.NoError(t, err)
	if confirm {
		_, err = f.ledger.ConfirmShare(ctx, res.Expense.ID, bob)
		require.NoError(t, err)
	}
	return res.Expense.ID
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	client := NewAuthServiceClient(http.DefaultClient, f.url)
	ctx := context.Background()

	resp, err := client.Login(ctx, &LoginRequest{Username: "root", Password: password})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Greater(t, resp.ExpiresAt, time.Now().Unix())

	_, err = client.Login(ctx, &LoginRequest{Username: "root", Password: "battery staple"})
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = client.Login(ctx, &LoginRequest{Username: "root"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestLedgerServiceRequiresToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := NewLedgerServiceClient(http.DefaultClient, f.url).GetBalances(ctx, &GetBalancesRequest{ChatID: chat})
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = NewLedgerServiceClient(http.DefaultClient, f.url, WithBearer("forged")).GetBalances(ctx, &GetBalancesRequest{ChatID: chat})
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestGetBalances(t *testing.T) {
	f := newFixture(t)
	f.expense(t, "30", true)
	f.expense(t, "8", false)
	client := f.login(t)
	ctx := context.Background()

	resp, err := client.GetBalances(ctx, &GetBalancesRequest{ChatID: chat})
	require.NoError(t, err)

	// Alice's half stays with her; only the confirmed share reached the ledger.
	require.Len(t, resp.Debts, 1)
	assert.Equal(t, Debt{From: bob, FromName: "Bob", To: alice, ToName: "Alice", Amount: "15"}, resp.Debts[0])
	require.Len(t, resp.Plan, 1)
	assert.Equal(t, "15", resp.Plan[0].Amount)

	byUser := map[int64]MemberBalance{}
	for _, b := range resp.Balances {
		byUser[b.UserID] = b
	}
	assert.Equal(t, "15", byUser[alice].Net)
	assert.Equal(t, "Alice", byUser[alice].Name)
	assert.Equal(t, "-15", byUser[bob].Net)
	assert.Equal(t, "15", byUser[bob].Owes)

	_, err = client.GetBalances(ctx, &GetBalancesRequest{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestGetUserSummary(t *testing.T) {
	f := newFixture(t)
	f.expense(t, "12.5", true)
	client := f.login(t)

	resp, err := client.GetUserSummary(context.Background(), &GetUserSummaryRequest{ChatID: chat, UserID: bob})
	require.NoError(t, err)
	assert.Equal(t, "6.25", resp.Owes)
	assert.Equal(t, "0", resp.IsOwed)
	assert.Equal(t, "-6.25", resp.Net)
	require.Len(t, resp.Debts, 1)
	assert.Equal(t, alice, resp.Debts[0].To)

	_, err = client.GetUserSummary(context.Background(), &GetUserSummaryRequest{ChatID: chat})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestListHistory(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.expense(t, "4", false)
	}
	client := f.login(t)
	ctx := context.Background()

	resp, err := client.ListHistory(ctx, &ListHistoryRequest{ChatID: chat})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "expense", resp.Entries[0].Kind)
	assert.Equal(t, alice, resp.Entries[0].From)
	assert.Equal(t, "Groceries", resp.Entries[0].Description)

	page, err := client.ListHistory(ctx, &ListHistoryRequest{ChatID: chat, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)

	_, err = client.ListHistory(ctx, &ListHistoryRequest{ChatID: chat, Offset: -1})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestListDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wizard.Start(ctx, wizard.StartInput{ChatID: chat, UserID: alice, Kind: models.KindExpense})
	require.NoError(t, err)

	resp, err := f.login(t).ListDrafts(ctx, &ListDraftsRequest{ChatID: chat})
	require.NoError(t, err)
	require.Len(t, resp.Drafts, 1)
	assert.Equal(t, alice, resp.Drafts[0].UserID)
	assert.Equal(t, string(models.KindExpense), resp.Drafts[0].Kind)
	assert.Equal(t, 1, resp.Drafts[0].Step)
	assert.False(t, resp.Drafts[0].Expired)
}

func TestListGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wizard.Start(ctx, wizard.StartInput{ChatID: chat, UserID: bob, Kind: models.KindExpense})
	require.NoError(t, err)

	resp, err := f.login(t).ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, chat, resp.Groups[0].ChatID)
	assert.Equal(t, bob, resp.Groups[0].ActiveWizard)
	assert.Zero(t, resp.Groups[0].SettingsEditor)
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := platform.Event{Kind: platform.EventText, ChatID: chat, UserID: alice, Text: "/menu"}

	err := NewBotServiceClient(http.DefaultClient, f.url).Dispatch(ctx, &DispatchRequest{Event: ev})
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	client := NewBotServiceClient(http.DefaultClient, f.url, WithBearer(gatewayToken))
	require.NoError(t, client.Dispatch(ctx, &DispatchRequest{Event: ev}))
	require.Len(t, f.dispatcher.events, 1)
	assert.Equal(t, ev, f.dispatcher.events[0])

	err = client.Dispatch(ctx, &DispatchRequest{Event: platform.Event{Kind: "sticker", ChatID: chat, UserID: alice}})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	err = client.Dispatch(ctx, &DispatchRequest{Event: platform.Event{Kind: platform.EventCallback, ChatID: chat, UserID: alice}})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	f.dispatcher.err = bot.ErrDispatcherClosed
	err = client.Dispatch(ctx, &DispatchRequest{Event: ev})
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
}

func TestConnectErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{"already connect", connect.NewError(connect.CodeNotFound, assert.AnError), connect.CodeNotFound},
		{"validation", apperr.Validation("bad amount"), connect.CodeInvalidArgument},
		{"conflict", apperr.Conflict("busy", alice), connect.CodeAborted},
		{"expired", apperr.Expired("gone"), connect.CodeNotFound},
		{"external", apperr.External("send", assert.AnError), connect.CodeUnavailable},
		{"plain", assert.AnError, connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connect.CodeOf(connectError(tt.err)))
		})
	}
}
