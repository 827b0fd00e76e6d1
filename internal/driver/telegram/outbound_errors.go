package telegram

import (
	"errors"
	"slices"
	"strings"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tgerr"
)

// notFoundErrorTypes are 400-class errors that mean the target message or
// chat no longer exists.
var notFoundErrorTypes = []string{
	"MESSAGE_ID_INVALID",
	"MESSAGE_IDS_EMPTY",
	"PEER_ID_INVALID",
	"CHANNEL_INVALID",
	"CHAT_ID_INVALID",
}

// classifyOutboundError wraps an RPC failure in an *otogi.OutboundError.
// Request errors found while building the call pass through unchanged.
func classifyOutboundError(operation otogi.OutboundOperation, sink otogi.EventSink, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, otogi.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &otogi.OutboundError{
		Operation: operation,
		Kind:      otogi.OutboundErrorKindUnknown,
		Sink:      sink,
		Cause:     err,
	}
	if errors.Is(err, otogi.ErrOutboundUnsupported) {
		outboundErr.Kind = otogi.OutboundErrorKindUnsupported
		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}
	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyRPCError(rpcErr)
	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = otogi.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
	}

	return outboundErr
}

func classifyRPCError(rpcErr *tgerr.Error) otogi.OutboundErrorKind {
	errorType := strings.ToUpper(rpcErr.Type)
	switch {
	case rpcErr.Code == 420, rpcErr.Code == 429, strings.Contains(errorType, "FLOOD"):
		return otogi.OutboundErrorKindRateLimited
	case rpcErr.Code == 403:
		return otogi.OutboundErrorKindForbidden
	case rpcErr.Code == 404:
		return otogi.OutboundErrorKindNotFound
	case rpcErr.Code == 400 && slices.Contains(notFoundErrorTypes, errorType):
		return otogi.OutboundErrorKindNotFound
	case rpcErr.Code == 303, rpcErr.Code >= 500:
		return otogi.OutboundErrorKindTemporary
	case rpcErr.Code >= 400:
		return otogi.OutboundErrorKindPermanent
	default:
		return otogi.OutboundErrorKindUnknown
	}
}
