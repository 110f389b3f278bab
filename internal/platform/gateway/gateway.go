// Package gateway talks to the chat platform through a gateway sidecar over Connect.
//
// The sidecar owns the platform session and exposes one unary procedure per Messenger
// method. Messages are plain JSON. A vanished message is reported with CodeNotFound, which
// the client maps back to platform.ErrMessageGone.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/pkg/jsoncodec"
)

// ServiceName is the fully-qualified name of the gateway service.
const ServiceName = "splitbot.gateway.v1.GatewayService"

const (
	SendMessageProcedure    = "/" + ServiceName + "/SendMessage"
	EditMessageProcedure    = "/" + ServiceName + "/EditMessage"
	DeleteMessageProcedure  = "/" + ServiceName + "/DeleteMessage"
	AnswerCallbackProcedure = "/" + ServiceName + "/AnswerCallback"
	ForwardMessageProcedure = "/" + ServiceName + "/ForwardMessage"
	ChatTitleProcedure      = "/" + ServiceName + "/ChatTitle"
	ChatMembersProcedure    = "/" + ServiceName + "/ChatMembers"
)

type SendMessageRequest struct {
	Message platform.Message `json:"message"`
}

type SendMessageResponse struct {
	MessageID int64 `json:"message_id"`
}

type EditMessageRequest struct {
	ChatID    int64             `json:"chat_id"`
	MessageID int64             `json:"message_id"`
	Text      string            `json:"text"`
	Keyboard  platform.Keyboard `json:"keyboard,omitempty"`
}

type DeleteMessageRequest struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type AnswerCallbackRequest struct {
	CallbackID string `json:"callback_id"`
	Text       string `json:"text,omitempty"`
	Alert      bool   `json:"alert,omitempty"`
}

type ForwardMessageRequest struct {
	ToChatID   int64 `json:"to_chat_id"`
	FromChatID int64 `json:"from_chat_id"`
	MessageID  int64 `json:"message_id"`
}

type ForwardMessageResponse struct {
	MessageID int64 `json:"message_id"`
}

type ChatRequest struct {
	ChatID int64 `json:"chat_id"`
}

type ChatTitleResponse struct {
	Title string `json:"title"`
}

type ChatMembersResponse struct {
	Members []platform.Member `json:"members"`
}

// Empty is the response of procedures that return nothing.
type Empty struct{}

// Client implements platform.Messenger against a gateway sidecar.
type Client struct {
	send    *connect.Client[SendMessageRequest, SendMessageResponse]
	edit    *connect.Client[EditMessageRequest, Empty]
	del     *connect.Client[DeleteMessageRequest, Empty]
	answer  *connect.Client[AnswerCallbackRequest, Empty]
	forward *connect.Client[ForwardMessageRequest, ForwardMessageResponse]
	title   *connect.Client[ChatRequest, ChatTitleResponse]
	members *connect.Client[ChatRequest, ChatMembersResponse]
}

var _ platform.Messenger = (*Client)(nil)

// NewClient creates a client for the sidecar at baseURL. A non-empty token is sent as a
// bearer token on every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsoncodec.Codec{})}, opts...)
	if token != "" {
		opts = append(opts, connect.WithInterceptors(bearer(token)))
	}
	return &Client{
		send:    connect.NewClient[SendMessageRequest, SendMessageResponse](httpClient, baseURL+SendMessageProcedure, opts...),
		edit:    connect.NewClient[EditMessageRequest, Empty](httpClient, baseURL+EditMessageProcedure, opts...),
		del:     connect.NewClient[DeleteMessageRequest, Empty](httpClient, baseURL+DeleteMessageProcedure, opts...),
		answer:  connect.NewClient[AnswerCallbackRequest, Empty](httpClient, baseURL+AnswerCallbackProcedure, opts...),
		forward: connect.NewClient[ForwardMessageRequest, ForwardMessageResponse](httpClient, baseURL+ForwardMessageProcedure, opts...),
		title:   connect.NewClient[ChatRequest, ChatTitleResponse](httpClient, baseURL+ChatTitleProcedure, opts...),
		members: connect.NewClient[ChatRequest, ChatMembersResponse](httpClient, baseURL+ChatMembersProcedure, opts...),
	}
}

func bearer(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}

// clientError maps a failed call onto the platform and error taxonomy.
func clientError(op string, err error) error {
	if connect.CodeOf(err) == connect.CodeNotFound {
		return fmt.Errorf("%s: %w", op, platform.ErrMessageGone)
	}
	return apperr.External(op, err)
}

func (c *Client) SendMessage(ctx context.Context, msg platform.Message) (int64, error) {
	res, err := c.send.CallUnary(ctx, connect.NewRequest(&SendMessageRequest{Message: msg}))
	if err != nil {
		return 0, clientError("send message", err)
	}
	return res.Msg.MessageID, nil
}

func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string, kb platform.Keyboard) error {
	_, err := c.edit.CallUnary(ctx, connect.NewRequest(&EditMessageRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		Keyboard:  kb,
	}))
	if err != nil {
		return clientError("edit message", err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.del.CallUnary(ctx, connect.NewRequest(&DeleteMessageRequest{ChatID: chatID, MessageID: messageID}))
	if err != nil {
		return clientError("delete message", err)
	}
	return nil
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	_, err := c.answer.CallUnary(ctx, connect.NewRequest(&AnswerCallbackRequest{
		CallbackID: callbackID,
		Text:       text,
		Alert:      alert,
	}))
	if err != nil {
		return clientError("answer callback", err)
	}
	return nil
}

func (c *Client) ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (int64, error) {
	res, err := c.forward.CallUnary(ctx, connect.NewRequest(&ForwardMessageRequest{
		ToChatID:   toChatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
	}))
	if err != nil {
		return 0, clientError("forward message", err)
	}
	return res.Msg.MessageID, nil
}

func (c *Client) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	res, err := c.title.CallUnary(ctx, connect.NewRequest(&ChatRequest{ChatID: chatID}))
	if err != nil {
		return "", clientError("chat title", err)
	}
	return res.Msg.Title, nil
}

func (c *Client) ChatMembers(ctx context.Context, chatID int64) ([]platform.Member, error) {
	res, err := c.members.CallUnary(ctx, connect.NewRequest(&ChatRequest{ChatID: chatID}))
	if err != nil {
		return nil, clientError("chat members", err)
	}
	return res.Msg.Members, nil
}

// NewHandler serves a Messenger under the gateway procedures. It backs test doubles of the
// sidecar and Go sidecars alike.
func NewHandler(m platform.Messenger, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsoncodec.Codec{})}, opts...)
	mux := http.NewServeMux()

	mux.Handle(SendMessageProcedure, connect.NewUnaryHandler(SendMessageProcedure,
		func(ctx context.Context, req *connect.Request[SendMessageRequest]) (*connect.Response[SendMessageResponse], error) {
			id, err := m.SendMessage(ctx, req.Msg.Message)
			if err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&SendMessageResponse{MessageID: id}), nil
		}, opts...))

	mux.Handle(EditMessageProcedure, connect.NewUnaryHandler(EditMessageProcedure,
		func(ctx context.Context, req *connect.Request[EditMessageRequest]) (*connect.Response[Empty], error) {
			if err := m.EditMessage(ctx, req.Msg.ChatID, req.Msg.MessageID, req.Msg.Text, req.Msg.Keyboard); err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&Empty{}), nil
		}, opts...))

	mux.Handle(DeleteMessageProcedure, connect.NewUnaryHandler(DeleteMessageProcedure,
		func(ctx context.Context, req *connect.Request[DeleteMessageRequest]) (*connect.Response[Empty], error) {
			if err := m.DeleteMessage(ctx, req.Msg.ChatID, req.Msg.MessageID); err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&Empty{}), nil
		}, opts...))

	mux.Handle(AnswerCallbackProcedure, connect.NewUnaryHandler(AnswerCallbackProcedure,
		func(ctx context.Context, req *connect.Request[AnswerCallbackRequest]) (*connect.Response[Empty], error) {
			if err := m.AnswerCallback(ctx, req.Msg.CallbackID, req.Msg.Text, req.Msg.Alert); err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&Empty{}), nil
		}, opts...))

	mux.Handle(ForwardMessageProcedure, connect.NewUnaryHandler(ForwardMessageProcedure,
		func(ctx context.Context, req *connect.Request[ForwardMessageRequest]) (*connect.Response[ForwardMessageResponse], error) {
			id, err := m.ForwardMessage(ctx, req.Msg.ToChatID, req.Msg.FromChatID, req.Msg.MessageID)
			if err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&ForwardMessageResponse{MessageID: id}), nil
		}, opts...))

	mux.Handle(ChatTitleProcedure, connect.NewUnaryHandler(ChatTitleProcedure,
		func(ctx context.Context, req *connect.Request[ChatRequest]) (*connect.Response[ChatTitleResponse], error) {
			title, err := m.ChatTitle(ctx, req.Msg.ChatID)
			if err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&ChatTitleResponse{Title: title}), nil
		}, opts...))

	mux.Handle(ChatMembersProcedure, connect.NewUnaryHandler(ChatMembersProcedure,
		func(ctx context.Context, req *connect.Request[ChatRequest]) (*connect.Response[ChatMembersResponse], error) {
			members, err := m.ChatMembers(ctx, req.Msg.ChatID)
			if err != nil {
				return nil, handlerError(err)
			}
			return connect.NewResponse(&ChatMembersResponse{Members: members}), nil
		}, opts...))

	return "/" + ServiceName + "/", mux
}

func handlerError(err error) error {
	if errors.Is(err, platform.ErrMessageGone) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeUnavailable, err)
}
