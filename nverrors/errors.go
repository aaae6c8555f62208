// Package nverrors defines the typed error taxonomy surfaced by the node
// runtime to its callers.
package nverrors

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerUnavailable is returned when no broker candidate responds to
	// a liveness check.
	ErrBrokerUnavailable = errors.New("nv: broker unavailable")

	// ErrDuplicateNodeName is returned when a live presence record with the
	// requested name already exists past the collision-detection grace
	// window.
	ErrDuplicateNodeName = errors.New("nv: duplicate node name")

	// ErrHostNotFound is the legacy name for broker autodetect exhaustion.
	ErrHostNotFound = errors.New("nv: broker host not found")

	// ErrServiceNotFound is returned when a service name is absent from
	// every live node's presence record.
	ErrServiceNotFound = errors.New("nv: service not found")

	// ErrServiceTimeout is returned when a service call's deadline elapses
	// with no reply.
	ErrServiceTimeout = errors.New("nv: service call timed out")

	// ErrServiceError is returned when the remote handler raised.
	ErrServiceError = errors.New("nv: service returned an error")

	// ErrParameterNotFound is returned by strict parameter lookups.
	ErrParameterNotFound = errors.New("nv: parameter not found")

	// ErrTransformExists and ErrTransformAliasInvalid are reserved for the
	// transform-tree module, which this runtime does not implement.
	ErrTransformExists       = errors.New("nv: transform exists")
	ErrTransformAliasInvalid = errors.New("nv: transform alias invalid")
)

// DuplicateNodeNameError carries the contested name alongside
// ErrDuplicateNodeName so callers using errors.As can recover it.
type DuplicateNodeNameError struct {
	Name string
}

func (e *DuplicateNodeNameError) Error() string {
	return fmt.Sprintf("nv: node name %q already registered", e.Name)
}

func (e *DuplicateNodeNameError) Unwrap() error { return ErrDuplicateNodeName }

// ServiceError carries the remote handler's stringified error alongside
// ErrServiceError.
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("nv: service %q failed: %s", e.Service, e.Message)
}

func (e *ServiceError) Unwrap() error { return ErrServiceError }

// ParameterNotFoundError carries the parameter name alongside
// ErrParameterNotFound.
type ParameterNotFoundError struct {
	Node string
	Name string
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("nv: parameter %q not found on node %q", e.Name, e.Node)
}

func (e *ParameterNotFoundError) Unwrap() error { return ErrParameterNotFound }
