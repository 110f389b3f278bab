package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitbot/internal/bot"
	"github.com/mmynk/splitbot/internal/platform"
)

// Dispatcher queues inbound events for handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev platform.Event) error
}

// BotService receives the events the gateway sidecar delivers.
type BotService struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewBotService creates a BotService that hands events to d.
func NewBotService(d Dispatcher, logger *slog.Logger) *BotService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotService{dispatcher: d, logger: logger}
}

// Dispatch validates one event and queues it. It returns once the event is queued, not
// when it has been handled.
func (s *BotService) Dispatch(ctx context.Context, req *connect.Request[DispatchRequest]) (*connect.Response[Empty], error) {
	ev := req.Msg.Event
	if err := validateEvent(ev); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, bot.ErrDispatcherClosed) {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, connect.NewError(connect.CodeDeadlineExceeded, ctxErr)
		}
		s.logger.Error("Failed to queue event", "kind", ev.Kind, "chat_id", ev.ChatID, "error", err)
		return nil, connectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func validateEvent(ev platform.Event) error {
	switch ev.Kind {
	case platform.EventText, platform.EventAttachment:
	case platform.EventCallback:
		if ev.CallbackID == "" {
			return errors.New("callback event without callback_id")
		}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if ev.ChatID == 0 || ev.UserID == 0 {
		return errors.New("chat_id and user_id are required")
	}
	return nil
}
