// Package numa records and applies the NUMA execution locality of work items.
package numa

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a NUMA node number. Node 0 always exists.
type Node int

// parseCPUList parses the kernel cpulist format, e.g. "0-3,8,10-11".
func parseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
		}

		last := first
		if isRange {
			last, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
			}
		}

		if last < first {
			return nil, fmt.Errorf("invalid cpu range %q", part)
		}

		for c := first; c <= last; c++ {
			cpus = append(cpus, c)
		}
	}

	return cpus, nil
}
