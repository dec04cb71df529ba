package xdpbind

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"github.com/slackhq/xdpbind/test"
	"github.com/stretchr/testify/require"
)

const (
	testWait = 2 * time.Second
	testTick = time.Millisecond
)

// fakeProvider is a scripted provider that counts every call made into it.
type fakeProvider struct {
	sync.Mutex

	openErr          error
	openInterfaceErr error
	reject           map[Version]bool

	// asyncDetach acknowledges Close from another goroutine
	asyncDetach bool

	opens           int
	closes          int
	cleanups        int
	openInterfaces  int
	closeInterfaces int
	requested       []Version
	rxQueues        int
	txQueues        int
	conns           []*fakeConn
}

type fakeConn struct {
	p          *fakeProvider
	ifIndex    uint32
	instanceID uuid.UUID
	detach     func()
	detachOnce sync.Once
}

type fakeDispatch struct {
	p       *fakeProvider
	version Version
}

func (p *fakeProvider) OpenProvider(ifIndex uint32, instanceID uuid.UUID, detach func()) (ProviderBinding, error) {
	p.Lock()
	defer p.Unlock()

	if p.openErr != nil {
		return nil, p.openErr
	}

	p.opens++
	c := &fakeConn{p: p, ifIndex: ifIndex, instanceID: instanceID, detach: detach}
	p.conns = append(p.conns, c)
	return c, nil
}

func (p *fakeProvider) lastConn() *fakeConn {
	p.Lock()
	defer p.Unlock()
	return p.conns[len(p.conns)-1]
}

func (p *fakeProvider) counts() (opens, closes, cleanups int) {
	p.Lock()
	defer p.Unlock()
	return p.opens, p.closes, p.cleanups
}

// fireDetach is the provider detaching on its own, it may also be reached from Close.
func (c *fakeConn) fireDetach() {
	c.detachOnce.Do(c.detach)
}

func (c *fakeConn) GetInterfaceDispatch(v Version) (InterfaceDispatch, error) {
	c.p.Lock()
	defer c.p.Unlock()

	c.p.requested = append(c.p.requested, v)
	if c.p.reject[v] {
		return nil, errors.New("version rejected")
	}
	return &fakeDispatch{p: c.p, version: v}, nil
}

func (c *fakeConn) Close() {
	c.p.Lock()
	c.p.closes++
	async := c.p.asyncDetach
	c.p.Unlock()

	if async {
		go c.fireDetach()
	} else {
		c.fireDetach()
	}
}

func (c *fakeConn) Cleanup() {
	c.p.Lock()
	defer c.p.Unlock()
	c.p.cleanups++
}

func (d *fakeDispatch) OpenInterface(cfg InterfaceConfig) error {
	d.p.Lock()
	defer d.p.Unlock()

	d.p.openInterfaces++
	if cfg.DriverAPIVersion() != d.version {
		return errors.New("config version mismatch")
	}
	return d.p.openInterfaceErr
}

func (d *fakeDispatch) CloseInterface() {
	d.p.Lock()
	defer d.p.Unlock()
	d.p.closeInterfaces++
}

func (d *fakeDispatch) CreateRxQueue(cfg QueueConfig) (InterfaceQueue, error) {
	d.p.Lock()
	defer d.p.Unlock()
	d.p.rxQueues++
	return cfg.Target.QueueID, nil
}

func (d *fakeDispatch) ActivateRxQueue(InterfaceQueue, QueueActivateConfig) {}

func (d *fakeDispatch) DeleteRxQueue(InterfaceQueue) {
	d.p.Lock()
	defer d.p.Unlock()
	d.p.rxQueues--
}

func (d *fakeDispatch) CreateTxQueue(cfg QueueConfig) (InterfaceQueue, error) {
	d.p.Lock()
	defer d.p.Unlock()
	if cfg.Options != nil {
		return nil, errors.New("tx options not supported")
	}
	d.p.txQueues++
	return cfg.Target.QueueID, nil
}

func (d *fakeDispatch) ActivateTxQueue(InterfaceQueue, QueueActivateConfig) {}

func (d *fakeDispatch) DeleteTxQueue(InterfaceQueue) {
	d.p.Lock()
	defer d.p.Unlock()
	d.p.txQueues--
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*Registry, metrics.Registry) {
	t.Helper()

	mr := metrics.NewRegistry()
	cfg.Metrics = mr
	if cfg.MinDriverAPIVersion == (Version{}) {
		cfg.MinDriverAPIVersion = DefaultMinimumDriverAPIVersion
	}
	return NewRegistry(test.NewLogger(), cfg), mr
}

func count(mr metrics.Registry, name string) int64 {
	return mr.Get(name).(metrics.Counter).Count()
}

// addTestBinding creates a set for ifIndex if needed and adds one binding to it.
func addTestBinding(t *testing.T, r *Registry, ifIndex uint32, mode Mode, hooks []HookID, p Provider, removeComplete func(), versions ...Version) *Binding {
	t.Helper()

	set, ok := r.Set(ifIndex)
	if !ok {
		var err error
		set, err = r.CreateSet(ifIndex, nil)
		require.NoError(t, err)
	}

	if len(versions) == 0 {
		versions = []Version{{Major: 1}}
	}

	handles, err := r.AddBindings(set, []AddInterface{{
		Capabilities:   NewInterfaceCapabilities(mode, hooks, uuid.New(), versions...),
		Provider:       p,
		RemoveComplete: removeComplete,
	}})
	require.NoError(t, err)
	require.Len(t, handles, 1)

	b, ok := r.Lookup(handles[0])
	require.True(t, ok)
	return b
}

// barrier waits for every item queued on b so far. The caller must hold a reference.
func barrier(b *Binding) {
	b.Run(func() {})
}
