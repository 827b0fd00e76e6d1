package driver

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ex-snipe/pkg/otogi"
)

type sinkRoute struct {
	ref        otogi.EventSink
	dispatcher otogi.SinkDispatcher
}

// CompositeSinkDispatcher routes each outbound request to the dispatcher of
// the sink it targets. With a single sink configured, untargeted requests
// go there. Sent messages come back addressed to the concrete sink.
type CompositeSinkDispatcher struct {
	// routes is sorted by sink ID.
	routes []sinkRoute
}

var _ otogi.SinkDispatcher = (*CompositeSinkDispatcher)(nil)

func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	routes := make([]sinkRoute, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		ref := otogi.EventSink{Platform: runtime.Source.Platform, ID: runtime.Source.ID}
		if ref.ID == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: runtime without sink id")
		}
		routes = append(routes, sinkRoute{ref: ref, dispatcher: runtime.SinkDispatcher})
	}

	slices.SortFunc(routes, func(a, b sinkRoute) int { return strings.Compare(a.ref.ID, b.ref.ID) })
	for index := 1; index < len(routes); index++ {
		if routes[index].ref.ID == routes[index-1].ref.ID {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate sink id %s", routes[index].ref.ID)
		}
	}

	return &CompositeSinkDispatcher{routes: routes}, nil
}

func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	route, err := d.route(otogi.OutboundOperationSendMessage, request.Target)
	if err != nil {
		return nil, err
	}

	message, err := route.dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send via %s: %w", route.ref.ID, err)
	}
	if message != nil {
		sink := route.ref
		message.Target.Sink = &sink
	}

	return message, nil
}

func (d *CompositeSinkDispatcher) DeleteMessage(ctx context.Context, request otogi.DeleteMessageRequest) error {
	route, err := d.route(otogi.OutboundOperationDeleteMessage, request.Target)
	if err != nil {
		return err
	}
	if err := route.dispatcher.DeleteMessage(ctx, request); err != nil {
		return fmt.Errorf("delete via %s: %w", route.ref.ID, err)
	}

	return nil
}

func (d *CompositeSinkDispatcher) SetReaction(ctx context.Context, request otogi.SetReactionRequest) error {
	route, err := d.route(otogi.OutboundOperationSetReaction, request.Target)
	if err != nil {
		return err
	}
	if err := route.dispatcher.SetReaction(ctx, request); err != nil {
		return fmt.Errorf("react via %s: %w", route.ref.ID, err)
	}

	return nil
}

// Sinks lists the routable sinks in ID order.
func (d *CompositeSinkDispatcher) Sinks() []otogi.EventSink {
	if d == nil {
		return nil
	}

	sinks := make([]otogi.EventSink, 0, len(d.routes))
	for _, route := range d.routes {
		sinks = append(sinks, route.ref)
	}

	return sinks
}

// route picks the target sink. Every failure is an unsupported-kind
// OutboundError, so callers fall back the same way as for a platform that
// lacks the operation.
func (d *CompositeSinkDispatcher) route(
	operation otogi.OutboundOperation,
	target otogi.OutboundTarget,
) (sinkRoute, error) {
	unroutable := func(ref otogi.EventSink, format string, args ...any) (sinkRoute, error) {
		return sinkRoute{}, &otogi.OutboundError{
			Operation: operation,
			Kind:      otogi.OutboundErrorKindUnsupported,
			Sink:      ref,
			Cause:     fmt.Errorf("%w: "+format, append([]any{otogi.ErrOutboundUnsupported}, args...)...),
		}
	}

	if d == nil || len(d.routes) == 0 {
		return unroutable(otogi.EventSink{}, "no sinks configured")
	}
	if target.Sink == nil {
		if len(d.routes) == 1 {
			return d.routes[0], nil
		}
		return unroutable(otogi.EventSink{}, "target names no sink and %d are configured", len(d.routes))
	}

	ref := *target.Sink
	var matches []sinkRoute
	for _, route := range d.routes {
		if ref.ID != "" && route.ref.ID != ref.ID {
			continue
		}
		if ref.Platform != "" && route.ref.Platform != ref.Platform {
			continue
		}
		matches = append(matches, route)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return unroutable(ref, "no sink matches %s/%s", ref.Platform, ref.ID)
	default:
		return unroutable(ref, "%d sinks match platform %s", len(matches), ref.Platform)
	}
}
