package xdpbind

import "github.com/google/uuid"

// Provider opens connections to the component implementing fast packet I/O for one interface and mode.
// The detach callback may be invoked from any goroutine at any time after OpenProvider returns successfully,
// including before ProviderBinding.Close is called, and must be invoked exactly once per connection.
type Provider interface {
	OpenProvider(ifIndex uint32, instanceID uuid.UUID, detach func()) (ProviderBinding, error)
}

// ProviderBinding is one open provider connection.
type ProviderBinding interface {
	// GetInterfaceDispatch returns the dispatch table for version v, or an error if the provider rejects it.
	GetInterfaceDispatch(v Version) (InterfaceDispatch, error)
	// Close requests the connection be torn down. Completion is signaled through the detach callback.
	Close()
	// Cleanup releases the connection after detach has been acknowledged.
	Cleanup()
}

// InterfaceQueue is the provider's opaque handle for a created queue.
type InterfaceQueue any

type QueueInfo struct {
	QueueID uint32
}

// QueueConfig describes a queue being created. Options is opaque to the binding core.
type QueueConfig struct {
	Target  QueueInfo
	Options any
}

// QueueActivateConfig is passed to the provider when a created queue goes live.
type QueueActivateConfig struct {
	Owner   any
	Options any
}

// InterfaceDispatch is the negotiated provider entry point table.
type InterfaceDispatch interface {
	CreateRxQueue(cfg QueueConfig) (InterfaceQueue, error)
	ActivateRxQueue(q InterfaceQueue, cfg QueueActivateConfig)
	DeleteRxQueue(q InterfaceQueue)

	CreateTxQueue(cfg QueueConfig) (InterfaceQueue, error)
	ActivateTxQueue(q InterfaceQueue, cfg QueueActivateConfig)
	DeleteTxQueue(q InterfaceQueue)
}

// InterfaceOpener is optionally implemented by an InterfaceDispatch to be told the negotiated configuration.
type InterfaceOpener interface {
	OpenInterface(cfg InterfaceConfig) error
}

// InterfaceCloser is optionally implemented by an InterfaceDispatch, it is called before the connection closes.
type InterfaceCloser interface {
	CloseInterface()
}

// InterfaceConfig is the read only view a provider gets of its binding.
type InterfaceConfig interface {
	DriverAPIVersion() Version
}

type interfaceConfig struct {
	version Version
}

func (c interfaceConfig) DriverAPIVersion() Version {
	return c.version
}
