package xdpbind

import "errors"

var (
	// ErrAlreadyExists is returned for a duplicate interface set, mode slot or client registration.
	ErrAlreadyExists = errors.New("object already exists")
	// ErrNotSupported is returned for malformed capabilities or when no driver API version is mutually supported.
	ErrNotSupported = errors.New("not supported")
	// ErrNoMemory is returned when the binding arena is exhausted.
	ErrNoMemory = errors.New("insufficient resources")
	// ErrDeletePending is returned for operations against a binding in rundown.
	ErrDeletePending = errors.New("delete pending")
)

var errNoProviderFactory = errors.New("discovery is enabled but no provider factory was supplied")
