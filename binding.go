package xdpbind

import (
	"fmt"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"
)

// triggerState tracks one of the two independent rundown triggers. The first fire wins.
type triggerState uint8

const (
	triggerNotStarted triggerState = iota
	triggerFired
)

func (t triggerState) String() string {
	if t == triggerFired {
		return "fired"
	}
	return "not started"
}

// setRef is the binding's back reference to its interface set. It has no way to extend the set's lifetime and
// is cleared when the binding is removed from its slot.
type setRef struct {
	set *InterfaceSet
}

func (r setRef) get() *InterfaceSet {
	return r.set
}

// Binding is one (NIC, mode) pair. The provider reference count, dispatch, session, clients and the rundown
// triggers are only touched from the binding's work queue, use Submit or Run to reach them.
type Binding struct {
	refCount atomic.Int64

	handle         BindingHandle
	ifIndex        uint32
	caps           Capabilities
	minVersion     Version
	provider       Provider
	removeComplete func()

	r     *Registry
	queue *workQueue
	l     *logrus.Logger

	// Guarded by the registry lock
	set setRef

	providerRef      int
	dispatch         InterfaceDispatch
	driverAPIVersion Version
	session          *attachSession
	clients          *btree.BTreeG[*ClientEntry]
	setRemoval       triggerState
	providerDetach   triggerState
}

func newBinding(r *Registry, set *InterfaceSet, caps Capabilities, provider Provider, removeComplete func()) *Binding {
	b := &Binding{
		ifIndex:        set.ifIndex,
		caps:           caps,
		minVersion:     r.minVersion,
		provider:       provider,
		removeComplete: removeComplete,
		r:              r,
		queue:          newWorkQueue(r.l, r.numaAffinity),
		l:              r.l,
		set:            setRef{set: set},
		clients:        newClientTree(),
	}

	// Creation reference, dropped by interfaceDelete
	b.refCount.Store(1)
	return b
}

func (b *Binding) logger() *logrus.Entry {
	return b.l.WithField("ifIndex", b.ifIndex).WithField("mode", b.caps.Mode)
}

func (b *Binding) IfIndex() uint32 {
	return b.ifIndex
}

func (b *Binding) Mode() Mode {
	return b.caps.Mode
}

// Capabilities returns the validated capabilities the binding was created with. Callers must not modify them.
func (b *Binding) Capabilities() *Capabilities {
	return &b.caps
}

// Handle returns the weak handle of this binding, see Registry.Lookup.
func (b *Binding) Handle() BindingHandle {
	return b.handle
}

// DriverAPIVersion returns the negotiated version while the provider connection is open, zero otherwise.
func (b *Binding) DriverAPIVersion() Version {
	var v Version
	b.Run(func() { v = b.driverAPIVersion })
	return v
}

// Reference takes a lifetime reference. It is safe from any goroutine including latency sensitive paths.
func (b *Binding) Reference() {
	if b.refCount.Add(1) <= 1 {
		panic(fmt.Sprintf("xdpbind: reference of freed binding %d/%s", b.ifIndex, b.caps.Mode))
	}
}

// Dereference drops a lifetime reference, the last one frees the binding.
func (b *Binding) Dereference() {
	n := b.refCount.Add(-1)
	if n == 0 {
		b.free()
	} else if n < 0 {
		panic(fmt.Sprintf("xdpbind: binding %d/%s dereferenced below zero", b.ifIndex, b.caps.Mode))
	}
}

func (b *Binding) free() {
	if b.providerRef != 0 {
		panic("xdpbind: binding freed with outstanding provider references")
	}
	if b.clients.Len() != 0 {
		panic("xdpbind: binding freed with registered clients")
	}

	// Non blocking, this may be running on the queue's own worker
	b.queue.stop()
	b.r.metrics.bindingsFreed.Inc(1)

	if b.l.Level >= logrus.DebugLevel {
		b.logger().Debug("Binding freed")
	}

	b.r.arena.release(b.handle)
}

func (b *Binding) rundown() bool {
	return b.setRemoval == triggerFired || b.providerDetach == triggerFired
}

// ReferenceProvider takes a provider reference, opening the provider connection if this is the first one.
// It blocks and must not be called from one of this binding's work items.
func (b *Binding) ReferenceProvider() error {
	var err error
	b.Run(func() { err = b.referenceProvider() })
	return err
}

// DereferenceProvider drops a provider reference, closing the provider connection on the last one.
// It blocks and must not be called from one of this binding's work items.
func (b *Binding) DereferenceProvider() {
	b.Run(b.dereferenceProvider)
}

func (b *Binding) referenceProvider() error {
	if b.rundown() {
		b.logger().Info("Provider reference failed: rundown")
		return fmt.Errorf("provider reference: %w", ErrDeletePending)
	}

	if b.dispatch == nil {
		if b.providerRef != 0 {
			panic("xdpbind: provider references held without a dispatch table")
		}

		if err := b.openInterface(); err != nil {
			b.logger().WithError(err).Info("Provider reference failed: open interface")
			return err
		}
	}

	b.providerRef++
	return nil
}

func (b *Binding) dereferenceProvider() {
	if b.providerRef <= 0 {
		panic("xdpbind: provider dereferenced below zero")
	}

	b.providerRef--
	if b.providerRef == 0 {
		b.closeInterface()
	}
}

// closeInterface tears down whatever part of the provider connection exists. If set removal has fired the
// provider's remove completion runs, at most once per binding.
func (b *Binding) closeInterface() {
	if b.dispatch != nil {
		if closer, ok := b.dispatch.(InterfaceCloser); ok {
			closer.CloseInterface()
		}
		b.dispatch = nil
		b.driverAPIVersion = Version{}
	}

	if b.session != nil {
		b.closeSession()

		// A later reference may attach a fresh session
		b.providerDetach = triggerNotStarted

		if b.l.Level >= logrus.DebugLevel {
			b.logger().Debug("Interface closed")
		}
	}

	if b.setRemoval == triggerFired && b.removeComplete != nil {
		complete := b.removeComplete
		b.removeComplete = nil
		complete()

		if b.l.Level >= logrus.DebugLevel {
			b.logger().Debug("Interface deregistration completed")
		}
	}
}

// startRundown closes the provider connection if nothing holds it open and evicts every client.
func (b *Binding) startRundown() {
	b.r.metrics.rundowns.Inc(1)
	b.logger().
		WithField("setRemoval", b.setRemoval).
		WithField("providerDetach", b.providerDetach).
		Info("Binding rundown")

	if b.providerRef == 0 {
		b.closeInterface()
	}

	for {
		entry, ok := b.clients.DeleteMin()
		if !ok {
			break
		}

		if !entry.binding.CompareAndSwap(b, nil) {
			// Claimed by DeregisterClient, whose queued unlink drops the reference
			continue
		}

		b.r.metrics.clientsEvicted.Inc(1)
		if entry.client.BindingDetached != nil {
			entry.client.BindingDetached(entry)
		}

		b.Dereference()
	}
}

// interfaceDelete is queued by RemoveBindings.
func (b *Binding) interfaceDelete() {
	if b.setRemoval == triggerFired {
		panic("xdpbind: binding removed twice")
	}
	b.setRemoval = triggerFired
	b.startRundown()

	// Release the creation reference
	b.Dereference()
}
