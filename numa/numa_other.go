//go:build !linux

package numa

// CurrentNode always reports node 0 where the platform does not expose NUMA topology.
func CurrentNode() Node {
	return 0
}

// Pin is a no-op where thread affinity is not supported.
func Pin(Node) (func(), error) {
	return func() {}, nil
}
