package telegram

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

var (
	testGroup   = otogi.Conversation{ID: "42", Type: otogi.ConversationTypeGroup}
	testChannel = otogi.Conversation{ID: "43", Type: otogi.ConversationTypeChannel}
)

func newTestDispatcher(t *testing.T, rpc *stubOutboundRPC) *SinkDispatcher {
	t.Helper()

	cache := NewPeerCache()
	cache.Remember(ChatRef{ID: testGroup.ID, Type: testGroup.Type}, &tg.InputPeerChat{ChatID: 42})
	cache.Remember(ChatRef{ID: testChannel.ID, Type: testChannel.Type}, &tg.InputPeerChannel{ChannelID: 43, AccessHash: 7})

	dispatcher, err := newOutboundDispatcher(rpc, cache, WithSinkRef(otogi.EventSink{ID: "tg-main"}))
	if err != nil {
		t.Fatalf("newOutboundDispatcher: %v", err)
	}

	return dispatcher
}

func TestSinkDispatcherSendMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		request  otogi.SendMessageRequest
		rpcErr   error
		wantKind otogi.OutboundErrorKind
		wantErr  error
		wantSent int
	}{
		{
			name:     "plain text",
			request:  otogi.SendMessageRequest{Target: otogi.OutboundTarget{Conversation: testGroup}, Text: "pong"},
			wantSent: 1,
		},
		{
			name: "entities and flags are forwarded",
			request: otogi.SendMessageRequest{
				Target:             otogi.OutboundTarget{Conversation: testGroup},
				Text:               "click me",
				Entities:           []otogi.TextEntity{{Type: otogi.TextEntityTypeTextURL, Length: 8, URL: "https://example.com"}},
				ReplyToMessageID:   "12",
				DisableLinkPreview: true,
				DisableMentions:    true,
			},
			wantSent: 1,
		},
		{
			name:    "empty text is rejected before the rpc",
			request: otogi.SendMessageRequest{Target: otogi.OutboundTarget{Conversation: testGroup}},
			wantErr: otogi.ErrInvalidOutboundRequest,
		},
		{
			name: "persona is unsupported",
			request: otogi.SendMessageRequest{
				Target:  otogi.OutboundTarget{Conversation: testGroup},
				Text:    "sniped",
				Persona: &otogi.OutboundPersona{DisplayName: "alice"},
			},
			wantKind: otogi.OutboundErrorKindUnsupported,
			wantErr:  otogi.ErrOutboundUnsupported,
		},
		{
			name: "foreign platform is unsupported",
			request: otogi.SendMessageRequest{
				Target: otogi.OutboundTarget{Conversation: testGroup, Sink: &otogi.EventSink{Platform: "discord", ID: "dc"}},
				Text:   "pong",
			},
			wantKind: otogi.OutboundErrorKindUnsupported,
		},
		{
			name: "unseen conversation is not found",
			request: otogi.SendMessageRequest{
				Target: otogi.OutboundTarget{Conversation: otogi.Conversation{ID: "999", Type: otogi.ConversationTypePrivate}},
				Text:   "pong",
			},
			wantKind: otogi.OutboundErrorKindNotFound,
			wantErr:  errPeerUnknown,
		},
		{
			name:     "rpc failure is classified",
			request:  otogi.SendMessageRequest{Target: otogi.OutboundTarget{Conversation: testGroup}, Text: "pong"},
			rpcErr:   tgerr.New(403, "CHAT_WRITE_FORBIDDEN"),
			wantKind: otogi.OutboundErrorKindForbidden,
			wantSent: 1,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			rpc := &stubOutboundRPC{sendID: 901, err: testCase.rpcErr}
			message, err := newTestDispatcher(t, rpc).SendMessage(context.Background(), testCase.request)
			if rpc.sendCalls != testCase.wantSent {
				t.Fatalf("send calls = %d, want %d", rpc.sendCalls, testCase.wantSent)
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("error = %v, want %v", err, testCase.wantErr)
			}
			if testCase.wantKind != "" {
				assertOutboundError(t, err, otogi.OutboundOperationSendMessage, testCase.wantKind)
				return
			}
			if testCase.wantErr != nil {
				return
			}
			if err != nil {
				t.Fatalf("SendMessage: %v", err)
			}
			if message.ID != "901" || message.Target.Conversation != testGroup {
				t.Fatalf("message = %+v, want 901 in group 42", message)
			}
			if rpc.lastSend.Text != testCase.request.Text || len(rpc.lastSend.Entities) != len(testCase.request.Entities) {
				t.Fatalf("forwarded request = %+v, want %+v", rpc.lastSend, testCase.request)
			}
		})
	}
}

func TestSinkDispatcherDeleteMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		request   otogi.DeleteMessageRequest
		rpcErr    error
		wantKind  otogi.OutboundErrorKind
		wantCalls int
	}{
		{
			name:      "revoke in channel",
			request:   otogi.DeleteMessageRequest{Target: otogi.OutboundTarget{Conversation: testChannel}, MessageID: "5", Revoke: true},
			wantCalls: 1,
		},
		{
			name:      "own-copy delete in channel is unsupported",
			request:   otogi.DeleteMessageRequest{Target: otogi.OutboundTarget{Conversation: testChannel}, MessageID: "5"},
			wantKind:  otogi.OutboundErrorKindUnsupported,
			wantCalls: 1,
		},
		{
			name:      "vanished message is not found",
			request:   otogi.DeleteMessageRequest{Target: otogi.OutboundTarget{Conversation: testGroup}, MessageID: "5", Revoke: true},
			rpcErr:    tgerr.New(400, "MESSAGE_ID_INVALID"),
			wantKind:  otogi.OutboundErrorKindNotFound,
			wantCalls: 1,
		},
		{
			name:    "non-numeric id never reaches the rpc",
			request: otogi.DeleteMessageRequest{Target: otogi.OutboundTarget{Conversation: testGroup}, MessageID: "abc"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			rpc := &stubOutboundRPC{err: testCase.rpcErr}
			err := newTestDispatcher(t, rpc).DeleteMessage(context.Background(), testCase.request)
			if rpc.deleteCalls != testCase.wantCalls {
				t.Fatalf("delete calls = %d, want %d", rpc.deleteCalls, testCase.wantCalls)
			}
			switch {
			case testCase.wantKind != "":
				assertOutboundError(t, err, otogi.OutboundOperationDeleteMessage, testCase.wantKind)
			case testCase.wantCalls == 0:
				if !errors.Is(err, otogi.ErrInvalidOutboundRequest) {
					t.Fatalf("error = %v, want ErrInvalidOutboundRequest", err)
				}
			case err != nil:
				t.Fatalf("DeleteMessage: %v", err)
			}
		})
	}
}

func TestSinkDispatcherSetReaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		emoji   string
		action  otogi.ReactionAction
		want    []tg.ReactionClass
		wantErr bool
	}{
		{name: "emoji", emoji: "👌", action: otogi.ReactionActionAdd, want: []tg.ReactionClass{&tg.ReactionEmoji{Emoticon: "👌"}}},
		{name: "custom emoji", emoji: "custom:123", action: otogi.ReactionActionAdd, want: []tg.ReactionClass{&tg.ReactionCustomEmoji{DocumentID: 123}}},
		{name: "remove clears", action: otogi.ReactionActionRemove},
		{name: "bad custom id", emoji: "custom:x", action: otogi.ReactionActionAdd, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			rpc := &stubOutboundRPC{}
			err := newTestDispatcher(t, rpc).SetReaction(context.Background(), otogi.SetReactionRequest{
				Target:    otogi.OutboundTarget{Conversation: testGroup},
				MessageID: "10",
				Emoji:     testCase.emoji,
				Action:    testCase.action,
			})
			if testCase.wantErr {
				if !errors.Is(err, otogi.ErrInvalidOutboundRequest) || rpc.reactionCalls != 0 {
					t.Fatalf("error = %v after %d calls, want invalid request and no call", err, rpc.reactionCalls)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetReaction: %v", err)
			}
			if !reflect.DeepEqual(rpc.reactions, testCase.want) {
				t.Fatalf("reactions = %#v, want %#v", rpc.reactions, testCase.want)
			}
		})
	}
}

func TestClassifyOutboundError(t *testing.T) {
	t.Parallel()

	sink := otogi.EventSink{Platform: DriverPlatform, ID: "tg-main"}
	tests := []struct {
		name           string
		err            error
		wantKind       otogi.OutboundErrorKind
		wantRetryAfter time.Duration
	}{
		{name: "flood wait", err: tgerr.New(420, "FLOOD_WAIT_3"), wantKind: otogi.OutboundErrorKindRateLimited, wantRetryAfter: 3 * time.Second},
		{name: "too many requests", err: tgerr.New(429, "TOO_MANY_REQUESTS"), wantKind: otogi.OutboundErrorKindRateLimited},
		{name: "forbidden", err: tgerr.New(403, "MESSAGE_DELETE_FORBIDDEN"), wantKind: otogi.OutboundErrorKindForbidden},
		{name: "missing message", err: tgerr.New(400, "MESSAGE_ID_INVALID"), wantKind: otogi.OutboundErrorKindNotFound},
		{name: "other bad request", err: tgerr.New(400, "MESSAGE_TOO_LONG"), wantKind: otogi.OutboundErrorKindPermanent},
		{name: "datacenter migration", err: tgerr.New(303, "NETWORK_MIGRATE_2"), wantKind: otogi.OutboundErrorKindTemporary},
		{name: "server error", err: tgerr.New(500, "RPC_CALL_FAIL"), wantKind: otogi.OutboundErrorKindTemporary},
		{name: "wrapped rpc error", err: fmt.Errorf("send: %w", tgerr.New(403, "CHAT_WRITE_FORBIDDEN")), wantKind: otogi.OutboundErrorKindForbidden},
		{name: "unsupported", err: fmt.Errorf("%w: thing", otogi.ErrOutboundUnsupported), wantKind: otogi.OutboundErrorKindUnsupported},
		{name: "transport", err: errors.New("connection reset"), wantKind: otogi.OutboundErrorKindUnknown},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := classifyOutboundError(otogi.OutboundOperationSendMessage, sink, testCase.err)
			outboundErr := assertOutboundError(t, err, otogi.OutboundOperationSendMessage, testCase.wantKind)
			if outboundErr.RetryAfter != testCase.wantRetryAfter {
				t.Fatalf("retry after = %s, want %s", outboundErr.RetryAfter, testCase.wantRetryAfter)
			}
			if !errors.Is(err, testCase.err) {
				t.Fatalf("error %v does not wrap its cause", err)
			}
		})
	}

	invalid := fmt.Errorf("%w: bad id", otogi.ErrInvalidOutboundRequest)
	if err := classifyOutboundError(otogi.OutboundOperationSendMessage, sink, invalid); err != invalid {
		t.Fatalf("invalid request error = %v, want passthrough", err)
	}
	if err := classifyOutboundError(otogi.OutboundOperationSendMessage, sink, nil); err != nil {
		t.Fatalf("nil error classified as %v", err)
	}
}

func assertOutboundError(
	t *testing.T,
	err error,
	operation otogi.OutboundOperation,
	kind otogi.OutboundErrorKind,
) *otogi.OutboundError {
	t.Helper()

	var outboundErr *otogi.OutboundError
	if !errors.As(err, &outboundErr) {
		t.Fatalf("error = %v, want *otogi.OutboundError", err)
	}
	if outboundErr.Kind != kind || outboundErr.Operation != operation {
		t.Fatalf("outbound error = %s/%s, want %s/%s", outboundErr.Operation, outboundErr.Kind, operation, kind)
	}
	if outboundErr.Sink.ID != "tg-main" || outboundErr.Sink.Platform != DriverPlatform {
		t.Fatalf("sink = %+v, want telegram/tg-main", outboundErr.Sink)
	}

	return outboundErr
}

type stubOutboundRPC struct {
	sendID int
	err    error

	lastSend      otogi.SendMessageRequest
	sendCalls     int
	deleteCalls   int
	reactionCalls int
	reactions     []tg.ReactionClass
}

func (s *stubOutboundRPC) SendText(_ context.Context, _ tg.InputPeerClass, request otogi.SendMessageRequest) (int, error) {
	s.sendCalls++
	s.lastSend = request
	if s.err != nil {
		return 0, s.err
	}

	return s.sendID, nil
}

func (s *stubOutboundRPC) DeleteMessage(_ context.Context, peer tg.InputPeerClass, _ int, revoke bool) error {
	s.deleteCalls++
	if _, channel := peer.(*tg.InputPeerChannel); channel && !revoke {
		return fmt.Errorf("%w: own-copy channel delete", otogi.ErrOutboundUnsupported)
	}

	return s.err
}

func (s *stubOutboundRPC) SetReaction(_ context.Context, _ tg.InputPeerClass, _ int, reactions []tg.ReactionClass) error {
	s.reactionCalls++
	s.reactions = reactions

	return s.err
}
