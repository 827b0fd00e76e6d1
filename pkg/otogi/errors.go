package otogi

import "errors"

// Event and subscription errors.
var (
	// ErrInvalidEvent marks an event whose envelope or payload is incoherent.
	ErrInvalidEvent = errors.New("otogi: invalid event")
	// ErrInvalidSubscription marks a subscription outside the declared interest.
	ErrInvalidSubscription = errors.New("otogi: invalid subscription")
	// ErrSubscriptionClosed is returned when publishing into a closed subscription.
	ErrSubscriptionClosed = errors.New("otogi: subscription closed")
	// ErrEventDropped reports an event discarded by a full drop_* queue.
	ErrEventDropped = errors.New("otogi: event dropped due to backpressure")
)

// Registration errors.
var (
	ErrServiceAlreadyRegistered = errors.New("otogi: service already registered")
	ErrServiceNotFound          = errors.New("otogi: service not found")
	// ErrServiceTypeMismatch is returned by ResolveAs when the bound value
	// does not implement the requested type.
	ErrServiceTypeMismatch     = errors.New("otogi: service type mismatch")
	ErrModuleAlreadyRegistered = errors.New("otogi: module already registered")
	ErrDriverAlreadyRegistered = errors.New("otogi: driver already registered")
)

// Outbound errors.
var (
	// ErrInvalidOutboundRequest marks a request rejected before dispatch.
	ErrInvalidOutboundRequest = errors.New("otogi: invalid outbound request")
	// ErrOutboundUnsupported marks a request the destination cannot honor,
	// such as a persona send on a platform without webhooks.
	ErrOutboundUnsupported = errors.New("otogi: outbound operation unsupported")
)
