package xdpbind

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/config"
)

// ProviderFactory builds the provider for one discovered NIC and mode.
type ProviderFactory func(ifName string, ifIndex uint32, mode Mode) (Provider, error)

// DefaultHooks is advertised by every discovered binding, native bindings can also inject on transmit.
var DefaultHooks = []HookID{
	{Layer: HookL2, Direction: HookRx, SubLayer: HookInspect},
}

var nativeHooks = []HookID{
	{Layer: HookL2, Direction: HookRx, SubLayer: HookInspect},
	{Layer: HookL2, Direction: HookTx, SubLayer: HookInject},
}

type discoveredLink struct {
	name    string
	set     *InterfaceSet
	handles []BindingHandle
	removed sync.WaitGroup
}

// discovery keeps one interface set per NIC in step with the links the system reports.
type discovery struct {
	sync.Mutex
	links map[uint32]*discoveredLink

	r       *Registry
	factory ProviderFactory
	only    map[string]struct{}
	native  bool
	l       *logrus.Logger
}

func newDiscoveryFromConfig(l *logrus.Logger, c *config.C, r *Registry, factory ProviderFactory) (*discovery, error) {
	if !c.GetBool("discovery.enabled", false) {
		return nil, nil
	}

	if factory == nil {
		return nil, errNoProviderFactory
	}

	d := &discovery{
		links:   make(map[uint32]*discoveredLink),
		r:       r,
		factory: factory,
		native:  c.GetBool("discovery.native", false),
		l:       l,
	}

	if names := c.GetStringSlice("discovery.interfaces", nil); len(names) > 0 {
		d.only = make(map[string]struct{}, len(names))
		for _, n := range names {
			d.only[n] = struct{}{}
		}
	}

	return d, nil
}

func (d *discovery) wanted(name string, loopback bool) bool {
	if d.only != nil {
		_, ok := d.only[name]
		return ok
	}
	return !loopback
}

func (d *discovery) addLink(name string, ifIndex uint32, loopback bool) {
	if !d.wanted(name, loopback) {
		return
	}

	d.Lock()
	defer d.Unlock()

	if _, ok := d.links[ifIndex]; ok {
		return
	}

	entry := d.l.WithField("ifIndex", ifIndex).WithField("ifName", name)

	set, err := d.r.CreateSet(ifIndex, name)
	if err != nil {
		entry.WithError(err).Error("Failed to create interface set")
		return
	}

	dl := &discoveredLink{name: name, set: set}

	modes := []Mode{ModeGeneric}
	if d.native {
		modes = append(modes, ModeNative)
	}

	add := make([]AddInterface, 0, len(modes))
	for _, mode := range modes {
		p, err := d.factory(name, ifIndex, mode)
		if err != nil {
			entry.WithError(err).WithField("mode", mode).Error("Failed to build provider")
			continue
		}

		hooks := DefaultHooks
		if mode == ModeNative {
			hooks = nativeHooks
		}

		dl.removed.Add(1)
		add = append(add, AddInterface{
			Capabilities:   NewInterfaceCapabilities(mode, hooks, uuid.New(), d.r.minVersion),
			Provider:       p,
			RemoveComplete: dl.removed.Done,
		})
	}

	if len(add) == 0 {
		entry.Error("No provider for any mode, interface skipped")
		d.r.DeleteSet(set)
		return
	}

	dl.handles, err = d.r.AddBindings(set, add)
	if err != nil {
		entry.WithError(err).Error("Failed to add bindings")
		d.r.DeleteSet(set)
		return
	}

	d.links[ifIndex] = dl
	entry.WithField("bindings", len(dl.handles)).Info("Interface discovered")
}

func (d *discovery) removeLink(ifIndex uint32) {
	d.Lock()
	dl, ok := d.links[ifIndex]
	if ok {
		delete(d.links, ifIndex)
	}
	d.Unlock()

	if ok {
		d.release(ifIndex, dl)
	}
}

// removeAll removes every discovered set and waits for each binding's removal to complete.
func (d *discovery) removeAll() {
	d.Lock()
	links := d.links
	d.links = make(map[uint32]*discoveredLink)
	d.Unlock()

	for ifIndex, dl := range links {
		d.release(ifIndex, dl)
	}
}

func (d *discovery) release(ifIndex uint32, dl *discoveredLink) {
	d.r.RemoveBindings(dl.handles)
	d.r.DeleteSet(dl.set)

	// Completion needs every consumer to drop its provider references
	dl.removed.Wait()
	d.l.WithField("ifIndex", ifIndex).WithField("ifName", dl.name).Info("Interface removed")
}
