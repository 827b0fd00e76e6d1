package otogi

import (
	"errors"
	"fmt"
	"time"
)

// OutboundOperation names the SinkDispatcher method that failed.
type OutboundOperation string

const (
	OutboundOperationSendMessage   OutboundOperation = "send_message"
	OutboundOperationDeleteMessage OutboundOperation = "delete_message"
	OutboundOperationSetReaction   OutboundOperation = "set_reaction"
)

// OutboundErrorKind tells callers what to do about a failed operation.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited: retry after RetryAfter.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindForbidden: the bot lacks rights in the conversation.
	OutboundErrorKindForbidden OutboundErrorKind = "forbidden"
	// OutboundErrorKindNotFound: the message or conversation is gone.
	OutboundErrorKindNotFound OutboundErrorKind = "not_found"
	// OutboundErrorKindUnsupported: the platform cannot do this at all.
	OutboundErrorKindUnsupported OutboundErrorKind = "unsupported"
	OutboundErrorKindTemporary   OutboundErrorKind = "temporary"
	OutboundErrorKindPermanent   OutboundErrorKind = "permanent"
	OutboundErrorKindUnknown     OutboundErrorKind = "unknown"
)

// OutboundError is a classified driver failure. Drivers return it from every
// SinkDispatcher method once a request has passed validation.
type OutboundError struct {
	Operation OutboundOperation
	Kind      OutboundErrorKind
	Sink      EventSink
	// RetryAfter is set for rate limits when the platform says how long.
	RetryAfter time.Duration
	// Code and Type are the platform's own status code and error token.
	Code  int
	Type  string
	Cause error
}

func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	message := fmt.Sprintf("%s via %s/%s: %s", e.Operation, e.Sink.Platform, e.Sink.ID, e.Kind)
	switch {
	case e.Code != 0 && e.Type != "":
		message += fmt.Sprintf(" (%d %s)", e.Code, e.Type)
	case e.Code != 0:
		message += fmt.Sprintf(" (%d)", e.Code)
	case e.Type != "":
		message += " (" + e.Type + ")"
	}
	if e.RetryAfter > 0 {
		message += ", retry after " + e.RetryAfter.String()
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}

	return message
}

func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// Is makes every unsupported-kind error match ErrOutboundUnsupported, even
// when the driver did not wrap the sentinel itself.
func (e *OutboundError) Is(target error) bool {
	return e != nil && target == ErrOutboundUnsupported && e.Kind == OutboundErrorKindUnsupported
}

// OutboundErrorKindOf classifies err. It returns "" for nil, the carried
// kind for an *OutboundError, unsupported for bare ErrOutboundUnsupported
// and unknown for anything else.
func OutboundErrorKindOf(err error) OutboundErrorKind {
	if err == nil {
		return ""
	}

	var outboundErr *OutboundError
	switch {
	case errors.As(err, &outboundErr) && outboundErr.Kind != "":
		return outboundErr.Kind
	case errors.Is(err, ErrOutboundUnsupported):
		return OutboundErrorKindUnsupported
	default:
		return OutboundErrorKindUnknown
	}
}

// AsOutboundRateLimit reports whether err is a rate limit and, when known,
// how long to wait.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	var outboundErr *OutboundError
	if !errors.As(err, &outboundErr) || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
