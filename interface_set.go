package xdpbind

// InterfaceSet holds at most one binding per mode for one NIC. Slots are guarded by the registry lock.
type InterfaceSet struct {
	ifIndex uint32
	ctx     any
	slots   [modeCount]*Binding
}

func (s *InterfaceSet) IfIndex() uint32 {
	return s.ifIndex
}

// Context returns the value the provider supplied to CreateSet.
func (s *InterfaceSet) Context() any {
	return s.ctx
}

func (s *InterfaceSet) empty() bool {
	for _, b := range s.slots {
		if b != nil {
			return false
		}
	}
	return true
}

// AddInterface describes one binding a provider is adding to a set. RemoveComplete, if set, runs on the
// binding's work queue once the binding has been removed and its provider connection is fully closed.
type AddInterface struct {
	Capabilities   InterfaceCapabilities
	Provider       Provider
	RemoveComplete func()
}
