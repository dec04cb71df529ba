package numa

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	nodeCPUsOnce sync.Once
	nodeCPUs     map[Node]unix.CPUSet
)

// CurrentNode returns the NUMA node of the CPU the calling thread is running on.
func CurrentNode() Node {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return 0
	}
	return Node(node)
}

// Pin restricts the calling thread to the CPUs of node n and returns a function restoring the previous affinity.
// The caller must hold runtime.LockOSThread for as long as the pin is in effect.
// An unknown node leaves the affinity untouched.
func Pin(n Node) (func(), error) {
	set, ok := cpusOf(n)
	if !ok {
		return func() {}, nil
	}

	var old unix.CPUSet
	if err := unix.SchedGetaffinity(0, &old); err != nil {
		return func() {}, fmt.Errorf("sched_getaffinity: %w", err)
	}

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return func() {}, fmt.Errorf("sched_setaffinity node %d: %w", n, err)
	}

	return func() {
		_ = unix.SchedSetaffinity(0, &old)
	}, nil
}

func cpusOf(n Node) (unix.CPUSet, bool) {
	nodeCPUsOnce.Do(loadNodeCPUs)
	set, ok := nodeCPUs[n]
	return set, ok
}

func loadNodeCPUs() {
	nodeCPUs = make(map[Node]unix.CPUSet)
	for n := Node(0); ; n++ {
		b, err := os.ReadFile(fmt.Sprintf("/sys/devices/system/node/node%d/cpulist", n))
		if err != nil {
			return
		}

		cpus, err := parseCPUList(string(b))
		if err != nil || len(cpus) == 0 {
			continue
		}

		var set unix.CPUSet
		for _, c := range cpus {
			set.Set(c)
		}
		nodeCPUs[n] = set
	}
}
