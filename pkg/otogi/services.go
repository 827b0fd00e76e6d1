package otogi

import (
	"errors"
	"fmt"
	"reflect"
)

// ServiceRegistry is the name-keyed container through which the kernel,
// drivers and modules share singletons such as the sink dispatcher, the
// memory cache and the logger.
type ServiceRegistry interface {
	// Register binds service to name. A name can be bound only once.
	Register(name string, service any) error
	// Resolve returns the service bound to name or ErrServiceNotFound.
	Resolve(name string) (any, error)
}

// ResolveAs resolves name and asserts the bound value to T.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T
	if registry == nil {
		return zero, fmt.Errorf("resolve service %s: nil registry", name)
	}

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf(
			"resolve service %s: %w: bound %T, want %s",
			name,
			ErrServiceTypeMismatch,
			service,
			reflect.TypeFor[T](),
		)
	}

	return typed, nil
}

// ResolveOptional is ResolveAs for services the caller can run without. An
// unbound name yields found == false and a nil error; a bound value of the
// wrong type is still an error.
func ResolveOptional[T any](registry ServiceRegistry, name string) (service T, found bool, err error) {
	service, err = ResolveAs[T](registry, name)
	switch {
	case err == nil:
		return service, true, nil
	case errors.Is(err, ErrServiceNotFound):
		var zero T
		return zero, false, nil
	default:
		return service, false, err
	}
}
