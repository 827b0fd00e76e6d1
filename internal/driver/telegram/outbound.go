package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ex-snipe/pkg/otogi"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

const defaultOutboundTimeout = 3 * time.Second

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	sink       otogi.EventSink
}

// OutboundOption configures a SinkDispatcher.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout bounds each RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger enables debug logs for delivered operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithSinkRef names the sink reported in OutboundError values.
func WithSinkRef(ref otogi.EventSink) OutboundOption {
	return func(cfg *outboundConfig) {
		if ref.Platform == "" {
			ref.Platform = DriverPlatform
		}
		cfg.sink = ref
	}
}

// SinkDispatcher delivers outbound requests over the account's gotd session.
// It can only address conversations present in its PeerCache.
type SinkDispatcher struct {
	cfg   outboundConfig
	peers *PeerCache
	rpc   outboundRPC
}

var _ otogi.SinkDispatcher = (*SinkDispatcher)(nil)

func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcher(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcher(rpc outboundRPC, peers *PeerCache, options ...OutboundOption) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		logger:     slog.New(slog.DiscardHandler),
		sink:       otogi.EventSink{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{cfg: cfg, peers: peers, rpc: rpc}, nil
}

// SendMessage posts text as the logged-in account. A user account cannot
// post under another name, so a request with a Persona fails with an
// unsupported-kind error and the caller is expected to fall back.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	const operation = otogi.OutboundOperationSendMessage
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if request.Persona != nil {
		return nil, d.outboundError(operation, otogi.OutboundErrorKindUnsupported,
			fmt.Errorf("%w: persona messages", otogi.ErrOutboundUnsupported))
	}

	var sentID int
	err := d.call(ctx, operation, request.Target, func(rpcCtx context.Context, peer tg.InputPeerClass) error {
		var err error
		sentID, err = d.rpc.SendText(rpcCtx, peer, request)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.logDelivered(ctx, operation, request.Target,
		"message_id", sentID,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &otogi.OutboundMessage{ID: strconv.Itoa(sentID), Target: request.Target}, nil
}

// DeleteMessage removes a message. Without Revoke it is removed only for
// the account itself, which channels do not allow.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request otogi.DeleteMessageRequest) error {
	const operation = otogi.OutboundOperationDeleteMessage
	if err := request.Validate(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	err = d.call(ctx, operation, request.Target, func(rpcCtx context.Context, peer tg.InputPeerClass) error {
		return d.rpc.DeleteMessage(rpcCtx, peer, messageID, request.Revoke)
	})
	if err != nil {
		return err
	}

	d.logDelivered(ctx, operation, request.Target,
		"message_id", request.MessageID,
		"revoke", request.Revoke,
	)

	return nil
}

// SetReaction replaces the account's reaction on a message. Removing clears
// every reaction the account placed there.
func (d *SinkDispatcher) SetReaction(ctx context.Context, request otogi.SetReactionRequest) error {
	const operation = otogi.OutboundOperationSetReaction
	if err := request.Validate(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	var reactions []tg.ReactionClass
	if request.Action == otogi.ReactionActionAdd {
		reaction, err := parseReaction(request.Emoji)
		if err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
		reactions = append(reactions, reaction)
	}

	err = d.call(ctx, operation, request.Target, func(rpcCtx context.Context, peer tg.InputPeerClass) error {
		return d.rpc.SetReaction(rpcCtx, peer, messageID, reactions)
	})
	if err != nil {
		return err
	}

	d.logDelivered(ctx, operation, request.Target,
		"message_id", request.MessageID,
		"action", request.Action,
		"emoji", request.Emoji,
	)

	return nil
}

// call resolves the target peer and runs fn under the RPC timeout. Every
// failure it returns is an *otogi.OutboundError.
func (d *SinkDispatcher) call(
	ctx context.Context,
	operation otogi.OutboundOperation,
	target otogi.OutboundTarget,
	fn func(context.Context, tg.InputPeerClass) error,
) error {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != DriverPlatform {
		return d.outboundError(operation, otogi.OutboundErrorKindUnsupported,
			fmt.Errorf("%w: platform %s", otogi.ErrOutboundUnsupported, target.Sink.Platform))
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return d.outboundError(operation, otogi.OutboundErrorKindNotFound, err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	if err := fn(rpcCtx, peer); err != nil {
		return classifyOutboundError(operation, d.cfg.sink, err)
	}

	return nil
}

func (d *SinkDispatcher) outboundError(
	operation otogi.OutboundOperation,
	kind otogi.OutboundErrorKind,
	cause error,
) *otogi.OutboundError {
	return &otogi.OutboundError{Operation: operation, Kind: kind, Sink: d.cfg.sink, Cause: cause}
}

func (d *SinkDispatcher) logDelivered(
	ctx context.Context,
	operation otogi.OutboundOperation,
	target otogi.OutboundTarget,
	attrs ...any,
) {
	d.cfg.logger.DebugContext(ctx, "telegram outbound delivered",
		append([]any{
			"operation", operation,
			"sink", d.cfg.sink.ID,
			"conversation", target.Conversation.ID,
			"conversation_type", target.Conversation.Type,
		}, attrs...)...,
	)
}

func parseMessageID(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: message id %q is not a telegram message id", otogi.ErrInvalidOutboundRequest, raw)
	}

	return id, nil
}
