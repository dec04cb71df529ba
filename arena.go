package xdpbind

import (
	"fmt"
	"sync"
)

// BindingHandle is a weak, generation checked reference to a binding. Holding one never keeps the binding alive,
// resolve it with Registry.Lookup and expect it to fail once the binding has been freed.
type BindingHandle struct {
	slot uint32
	gen  uint32
}

func (h BindingHandle) IsZero() bool {
	return h.gen == 0
}

func (h BindingHandle) String() string {
	return fmt.Sprintf("%d:%d", h.slot, h.gen)
}

type arenaSlot struct {
	gen uint32
	b   *Binding
}

// bindingArena owns the slot for every live binding. Releasing a slot bumps its generation so stale handles miss.
type bindingArena struct {
	sync.Mutex
	slots []arenaSlot
	free  []uint32
	live  int
	max   int
}

func newBindingArena(max int) *bindingArena {
	return &bindingArena{max: max}
}

func (a *bindingArena) alloc(b *Binding) (BindingHandle, error) {
	a.Lock()
	defer a.Unlock()

	if a.max > 0 && a.live >= a.max {
		return BindingHandle{}, fmt.Errorf("binding arena full at %d: %w", a.max, ErrNoMemory)
	}

	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		slot = uint32(len(a.slots) - 1)
	}

	s := &a.slots[slot]
	s.gen++
	if s.gen == 0 {
		// Generation zero is reserved for the zero handle
		s.gen = 1
	}
	s.b = b
	a.live++

	return BindingHandle{slot: slot, gen: s.gen}, nil
}

// release panics on a stale handle, which would mean a binding was freed twice.
func (a *bindingArena) release(h BindingHandle) {
	a.Lock()
	defer a.Unlock()

	if int(h.slot) >= len(a.slots) || a.slots[h.slot].gen != h.gen || a.slots[h.slot].b == nil {
		panic(fmt.Sprintf("xdpbind: release of stale binding handle %s", h))
	}

	a.slots[h.slot].b = nil
	a.free = append(a.free, h.slot)
	a.live--
}

func (a *bindingArena) get(h BindingHandle) (*Binding, bool) {
	a.Lock()
	defer a.Unlock()

	if int(h.slot) >= len(a.slots) {
		return nil, false
	}

	s := a.slots[h.slot]
	if s.gen != h.gen || s.b == nil {
		return nil, false
	}
	return s.b, true
}

func (a *bindingArena) len() int {
	a.Lock()
	defer a.Unlock()
	return a.live
}
