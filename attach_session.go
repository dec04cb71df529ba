package xdpbind

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// attachSession is one open provider connection. It starts with two references, one dropped by the close path
// and one by the detach notification path. Both drops happen on the binding's work queue.
type attachSession struct {
	refCount int
	handle   ProviderBinding

	// binding never extends the binding's lifetime, the detach side reference is accounted for separately.
	binding *Binding

	detached   chan struct{}
	detachOnce sync.Once
}

// notifyDetach is handed to the provider as its detach callback. It can run on any goroutine.
func (s *attachSession) notifyDetach() {
	s.detachOnce.Do(func() {
		b := s.binding
		if b.l.Level >= logrus.DebugLevel {
			b.logger().Debug("Provider detach notification")
		}

		close(s.detached)
		b.Submit(func() { b.sessionDelete(s) })

		// Release the reference taken for the detach path in openInterface
		b.Dereference()
	})
}

func (s *attachSession) dereference() {
	s.refCount--
	if s.refCount == 0 && s.handle != nil {
		panic("xdpbind: attach session freed with an open provider handle")
	}
}

// sessionDelete is queued once per session by the detach notification.
// It only starts rundown when the close path has not already torn the session down.
func (b *Binding) sessionDelete(s *attachSession) {
	if s.handle != nil {
		if b.providerDetach == triggerFired {
			panic("xdpbind: provider detach fired twice for one session")
		}
		b.providerDetach = triggerFired
		b.startRundown()
	}

	s.dereference()
}

// openInterface opens the provider connection and negotiates the driver API version.
// Every partially built piece is unwound on failure.
func (b *Binding) openInterface() error {
	s := &attachSession{
		refCount: 2,
		binding:  b,
		detached: make(chan struct{}),
	}

	// Held by the detach notification path
	b.Reference()
	b.session = s

	handle, err := b.provider.OpenProvider(b.ifIndex, b.caps.InstanceID, s.notifyDetach)
	if err != nil {
		b.session = nil
		b.Dereference()
		return fmt.Errorf("failed to open provider: %w", err)
	}
	s.handle = handle
	b.r.metrics.providerOpened.Inc(1)

	dispatch, version, err := b.requestDispatch(handle)
	if err != nil {
		b.closeInterface()
		return err
	}

	if opener, ok := dispatch.(InterfaceOpener); ok {
		if err := opener.OpenInterface(interfaceConfig{version: version}); err != nil {
			b.closeInterface()
			return fmt.Errorf("provider failed to open interface: %w", err)
		}
	}

	b.dispatch = dispatch
	b.driverAPIVersion = version
	return nil
}

// requestDispatch walks the provider's versions in its preference order. A provider rejecting one version
// falls through to the next compatible one.
func (b *Binding) requestDispatch(handle ProviderBinding) (InterfaceDispatch, Version, error) {
	for _, v := range compatibleVersions(b.caps.DriverAPIVersions, b.minVersion) {
		dispatch, err := handle.GetInterfaceDispatch(v)
		if err != nil {
			b.logger().WithError(err).WithField("version", v).Warn("Failed to get interface dispatch table")
			continue
		}

		b.logger().WithField("version", v).Info("Received interface dispatch table")
		return dispatch, v, nil
	}

	b.logger().WithField("minimumVersion", b.minVersion).Warn("No compatible interface was found")
	return nil, Version{}, fmt.Errorf("no compatible driver API version: %w", ErrNotSupported)
}

// closeSession requests the provider close the connection and waits for it to acknowledge through the detach
// notification, which may already have fired.
func (b *Binding) closeSession() {
	s := b.session
	if b.providerRef != 0 {
		panic("xdpbind: provider connection closed with outstanding provider references")
	}

	s.handle.Close()
	<-s.detached
	s.handle.Cleanup()
	s.handle = nil

	b.session = nil
	b.r.metrics.providerClosed.Inc(1)
	s.dereference()
}
