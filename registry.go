package xdpbind

import (
	"fmt"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/config"
	"github.com/slackhq/xdpbind/util"
)

const DefaultMaxBindings = 4096

type RegistryConfig struct {
	// MaxBindings bounds the number of live bindings, zero is unbounded.
	MaxBindings         int
	MinDriverAPIVersion Version
	NUMAAffinity        bool

	// Metrics defaults to metrics.DefaultRegistry
	Metrics metrics.Registry
}

type registryMetrics struct {
	bindingsCreated   metrics.Counter
	bindingsFreed     metrics.Counter
	providerOpened    metrics.Counter
	providerClosed    metrics.Counter
	rundowns          metrics.Counter
	clientsRegistered metrics.Counter
	clientsEvicted    metrics.Counter
	sets              metrics.Gauge
	bindings          metrics.Gauge
}

func newRegistryMetrics(r metrics.Registry) registryMetrics {
	return registryMetrics{
		bindingsCreated:   metrics.GetOrRegisterCounter("bindings.created", r),
		bindingsFreed:     metrics.GetOrRegisterCounter("bindings.freed", r),
		providerOpened:    metrics.GetOrRegisterCounter("bindings.provider.opened", r),
		providerClosed:    metrics.GetOrRegisterCounter("bindings.provider.closed", r),
		rundowns:          metrics.GetOrRegisterCounter("bindings.rundown", r),
		clientsRegistered: metrics.GetOrRegisterCounter("clients.registered", r),
		clientsEvicted:    metrics.GetOrRegisterCounter("clients.evicted", r),
		sets:              metrics.GetOrRegisterGauge("registry.sets", r),
		bindings:          metrics.GetOrRegisterGauge("registry.bindings", r),
	}
}

// Registry maps NIC index to interface set. The lock only guards that mapping and the set slots.
type Registry struct {
	sync.RWMutex
	sets map[uint32]*InterfaceSet

	arena        *bindingArena
	minVersion   Version
	numaAffinity bool
	metrics      registryMetrics
	l            *logrus.Logger
}

func NewRegistry(l *logrus.Logger, cfg RegistryConfig) *Registry {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultRegistry
	}

	return &Registry{
		sets:         make(map[uint32]*InterfaceSet),
		arena:        newBindingArena(cfg.MaxBindings),
		minVersion:   cfg.MinDriverAPIVersion,
		numaAffinity: cfg.NUMAAffinity,
		metrics:      newRegistryMetrics(cfg.Metrics),
		l:            l,
	}
}

// NewRegistryFromConfig reads the registry and workqueue sections.
func NewRegistryFromConfig(l *logrus.Logger, c *config.C) (*Registry, error) {
	raw := c.GetString("registry.min_driver_api_version", DefaultMinimumDriverAPIVersion.String())
	minVersion, err := ParseVersion(raw)
	if err != nil {
		return nil, util.NewContextualError("Invalid registry.min_driver_api_version", m{"value": raw}, err)
	}

	maxBindings := c.GetInt("registry.max_bindings", DefaultMaxBindings)
	if maxBindings < 0 {
		return nil, util.NewContextualError("Invalid registry.max_bindings", m{"value": maxBindings}, nil)
	}

	return NewRegistry(l, RegistryConfig{
		MaxBindings:         maxBindings,
		MinDriverAPIVersion: minVersion,
		NUMAAffinity:        c.GetBool("workqueue.numa_affinity", true),
	}), nil
}

// CreateSet registers a NIC, ctx is handed back by InterfaceSet.Context.
func (r *Registry) CreateSet(ifIndex uint32, ctx any) (*InterfaceSet, error) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.sets[ifIndex]; ok {
		return nil, fmt.Errorf("interface set %d: %w", ifIndex, ErrAlreadyExists)
	}

	set := &InterfaceSet{ifIndex: ifIndex, ctx: ctx}
	r.sets[ifIndex] = set

	if r.l.Level >= logrus.DebugLevel {
		r.l.WithField("ifIndex", ifIndex).Debug("Interface set registered")
	}
	return set, nil
}

// DeleteSet unregisters a NIC. Every binding must have been removed first.
func (r *Registry) DeleteSet(set *InterfaceSet) {
	r.Lock()
	defer r.Unlock()

	if !set.empty() {
		panic(fmt.Sprintf("xdpbind: interface set %d deleted with bindings still present", set.ifIndex))
	}

	if r.sets[set.ifIndex] == set {
		delete(r.sets, set.ifIndex)
	}
}

// AddBindings creates one binding per entry. It is all or nothing, on any failure every binding added by this
// call is unwound before returning.
func (r *Registry) AddBindings(set *InterfaceSet, add []AddInterface) ([]BindingHandle, error) {
	r.Lock()
	defer r.Unlock()

	added := make([]*Binding, 0, len(add))
	unwind := func() {
		for _, b := range added {
			set.slots[b.caps.Mode] = nil
			b.set = setRef{}
			b.Dereference()
		}
	}

	for i := range add {
		ai := &add[i]
		caps, err := validateCapabilities(&ai.Capabilities)
		if err != nil {
			r.l.WithError(err).WithField("ifIndex", set.ifIndex).WithField("mode", ai.Capabilities.Mode).
				Error("Invalid capabilities")
			unwind()
			return nil, err
		}

		if set.slots[caps.Mode] != nil {
			unwind()
			return nil, fmt.Errorf("interface %d mode %s: %w", set.ifIndex, caps.Mode, ErrAlreadyExists)
		}

		b := newBinding(r, set, caps, ai.Provider, ai.RemoveComplete)
		b.handle, err = r.arena.alloc(b)
		if err != nil {
			unwind()
			return nil, err
		}
		r.metrics.bindingsCreated.Inc(1)

		set.slots[caps.Mode] = b
		added = append(added, b)

		if r.l.Level >= logrus.DebugLevel {
			b.logger().WithField("handle", b.handle).Debug("Binding registered")
		}
	}

	handles := make([]BindingHandle, len(added))
	for i, b := range added {
		handles[i] = b.handle
	}
	return handles, nil
}

// RemoveBindings clears each binding's slot and queues its deletion. It does not wait for the deletion.
func (r *Registry) RemoveBindings(handles []BindingHandle) {
	r.Lock()
	defer r.Unlock()

	for _, h := range handles {
		b, ok := r.arena.get(h)
		if !ok {
			panic(fmt.Sprintf("xdpbind: removal of stale binding handle %s", h))
		}

		set := b.set.get()
		if set == nil || set.slots[b.caps.Mode] != b {
			panic(fmt.Sprintf("xdpbind: binding %d/%s removed twice", b.ifIndex, b.caps.Mode))
		}

		if r.l.Level >= logrus.DebugLevel {
			b.logger().Debug("Deregistering binding")
		}

		set.slots[b.caps.Mode] = nil
		b.set = setRef{}
		b.Submit(b.interfaceDelete)
	}
}

// FindAndReferenceBinding returns the best binding on ifIndex that advertises every hook, with a reference the
// caller must drop. When mode is nil the last qualifying slot wins, which prefers native over generic.
func (r *Registry) FindAndReferenceBinding(ifIndex uint32, hooks []HookID, mode *Mode) *Binding {
	r.RLock()
	defer r.RUnlock()

	set, ok := r.sets[ifIndex]
	if !ok {
		return nil
	}

	var best *Binding
	for m := ModeGeneric; m < modeCount; m++ {
		candidate := set.slots[m]
		if candidate == nil {
			continue
		}
		if mode != nil && *mode != m {
			continue
		}
		if !candidate.SupportsHooks(hooks) {
			continue
		}
		best = candidate
	}

	if best != nil {
		best.Reference()
	}
	return best
}

// Lookup resolves a weak handle. It never adds a reference, the caller must already hold one for the result
// to stay valid.
func (r *Registry) Lookup(h BindingHandle) (*Binding, bool) {
	return r.arena.get(h)
}

// Set returns the interface set for ifIndex.
func (r *Registry) Set(ifIndex uint32) (*InterfaceSet, bool) {
	r.RLock()
	defer r.RUnlock()
	set, ok := r.sets[ifIndex]
	return set, ok
}

// Stop is called at shutdown, after every set has been deleted.
func (r *Registry) Stop() {
	r.Lock()
	defer r.Unlock()

	if len(r.sets) != 0 {
		r.l.WithField("sets", len(r.sets)).Error("Interface sets still registered at shutdown")
	}
}

func (r *Registry) EmitStats() {
	r.RLock()
	setLen := len(r.sets)
	r.RUnlock()

	r.metrics.sets.Update(int64(setLen))
	r.metrics.bindings.Update(int64(r.arena.len()))
}

// BindingInfo is a point in time view of one binding.
type BindingInfo struct {
	IfIndex          uint32        `json:"ifIndex"`
	Mode             Mode          `json:"mode"`
	Handle           BindingHandle `json:"-"`
	RefCount         int64         `json:"refCount"`
	ProviderRefCount int           `json:"providerRefCount"`
	Clients          int           `json:"clients"`
	Rundown          bool          `json:"rundown"`
	DriverAPIVersion Version       `json:"driverApiVersion"`
}

// ListBindings snapshots every binding currently in a set slot. It blocks on each binding's work queue.
func (r *Registry) ListBindings() []BindingInfo {
	r.RLock()
	var bindings []*Binding
	for _, set := range r.sets {
		for _, b := range set.slots {
			if b != nil {
				b.Reference()
				bindings = append(bindings, b)
			}
		}
	}
	r.RUnlock()

	out := make([]BindingInfo, 0, len(bindings))
	for _, b := range bindings {
		b.Run(func() {
			out = append(out, BindingInfo{
				IfIndex:          b.ifIndex,
				Mode:             b.caps.Mode,
				Handle:           b.handle,
				// Less the references held by this call and its work item
				RefCount:         b.refCount.Load() - 2,
				ProviderRefCount: b.providerRef,
				Clients:          b.clients.Len(),
				Rundown:          b.rundown(),
				DriverAPIVersion: b.driverAPIVersion,
			})
		})
		b.Dereference()
	}

	return out
}
