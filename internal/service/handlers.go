package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitbot/pkg/jsoncodec"
)

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(jsoncodec.Codec{})}, opts...)
}

// NewAuthServiceHandler serves svc and returns the path to mount it on.
func NewAuthServiceHandler(svc *AuthService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(LoginProcedure, connect.NewUnaryHandler(LoginProcedure, svc.Login, opts...))
	return "/" + AuthServiceName + "/", mux
}

// NewLedgerServiceHandler serves svc and returns the path to mount it on.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(GetBalancesProcedure, connect.NewUnaryHandler(GetBalancesProcedure, svc.GetBalances, opts...))
	mux.Handle(ListHistoryProcedure, connect.NewUnaryHandler(ListHistoryProcedure, svc.ListHistory, opts...))
	mux.Handle(GetUserSummaryProcedure, connect.NewUnaryHandler(GetUserSummaryProcedure, svc.GetUserSummary, opts...))
	mux.Handle(ListDraftsProcedure, connect.NewUnaryHandler(ListDraftsProcedure, svc.ListDrafts, opts...))
	mux.Handle(ListGroupsProcedure, connect.NewUnaryHandler(ListGroupsProcedure, svc.ListGroups, opts...))
	return "/" + LedgerServiceName + "/", mux
}

// NewBotServiceHandler serves svc and returns the path to mount it on.
func NewBotServiceHandler(svc *BotService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	mux := http.NewServeMux()
	mux.Handle(DispatchProcedure, connect.NewUnaryHandler(DispatchProcedure, svc.Dispatch, opts...))
	return "/" + BotServiceName + "/", mux
}

// WithBearer sends token as a bearer token on every client call.
func WithBearer(token string) connect.ClientOption {
	return connect.WithInterceptors(connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient && token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}))
}

func clientOptions(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(jsoncodec.Codec{})}, opts...)
}

// AuthServiceClient calls the AuthService.
type AuthServiceClient struct {
	login *connect.Client[LoginRequest, LoginResponse]
}

func NewAuthServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AuthServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &AuthServiceClient{
		login: connect.NewClient[LoginRequest, LoginResponse](httpClient, baseURL+LoginProcedure, opts...),
	}
}

func (c *AuthServiceClient) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	resp, err := c.login.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// LedgerServiceClient calls the LedgerService. Pass WithBearer with a login token.
type LedgerServiceClient struct {
	balances *connect.Client[GetBalancesRequest, GetBalancesResponse]
	history  *connect.Client[ListHistoryRequest, ListHistoryResponse]
	summary  *connect.Client[GetUserSummaryRequest, GetUserSummaryResponse]
	drafts   *connect.Client[ListDraftsRequest, ListDraftsResponse]
	groups   *connect.Client[ListGroupsRequest, ListGroupsResponse]
}

func NewLedgerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &LedgerServiceClient{
		balances: connect.NewClient[GetBalancesRequest, GetBalancesResponse](httpClient, baseURL+GetBalancesProcedure, opts...),
		history:  connect.NewClient[ListHistoryRequest, ListHistoryResponse](httpClient, baseURL+ListHistoryProcedure, opts...),
		summary:  connect.NewClient[GetUserSummaryRequest, GetUserSummaryResponse](httpClient, baseURL+GetUserSummaryProcedure, opts...),
		drafts:   connect.NewClient[ListDraftsRequest, ListDraftsResponse](httpClient, baseURL+ListDraftsProcedure, opts...),
		groups:   connect.NewClient[ListGroupsRequest, ListGroupsResponse](httpClient, baseURL+ListGroupsProcedure, opts...),
	}
}

func (c *LedgerServiceClient) GetBalances(ctx context.Context, req *GetBalancesRequest) (*GetBalancesResponse, error) {
	resp, err := c.balances.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *LedgerServiceClient) ListHistory(ctx context.Context, req *ListHistoryRequest) (*ListHistoryResponse, error) {
	resp, err := c.history.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *LedgerServiceClient) GetUserSummary(ctx context.Context, req *GetUserSummaryRequest) (*GetUserSummaryResponse, error) {
	resp, err := c.summary.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *LedgerServiceClient) ListDrafts(ctx context.Context, req *ListDraftsRequest) (*ListDraftsResponse, error) {
	resp, err := c.drafts.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *LedgerServiceClient) ListGroups(ctx context.Context) (*ListGroupsResponse, error) {
	resp, err := c.groups.CallUnary(ctx, connect.NewRequest(&ListGroupsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// BotServiceClient delivers events, as the gateway sidecar does.
type BotServiceClient struct {
	dispatch *connect.Client[DispatchRequest, Empty]
}

func NewBotServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *BotServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &BotServiceClient{
		dispatch: connect.NewClient[DispatchRequest, Empty](httpClient, baseURL+DispatchProcedure, opts...),
	}
}

func (c *BotServiceClient) Dispatch(ctx context.Context, req *DispatchRequest) error {
	_, err := c.dispatch.CallUnary(ctx, connect.NewRequest(req))
	return err
}
