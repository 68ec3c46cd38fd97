// Package numa discovers NUMA topology for NUMA-local memory placement. It
// replaces simulated node discovery with real queries: node count comes from
// sysfs, current node comes from the scheduler via getcpu(2).
package numa

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const sysNodePath = "/sys/devices/system/node"

var (
	once      sync.Once
	nodeCount int
)

// NodeCount returns the number of NUMA nodes configured on this machine.
// It is computed once per process and cached; unreadable or absent sysfs
// (non-Linux, containers without /sys mounted, permission denial) yields 1,
// i.e. "everything is node 0".
func NodeCount() int {
	once.Do(func() {
		nodeCount = discoverNodeCount()
		if nodeCount < 1 {
			nodeCount = 1
		}
	})
	return nodeCount
}

func discoverNodeCount() int {
	entries, err := os.ReadDir(sysNodePath)
	if err != nil {
		return 1
	}

	var ids []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		idStr := strings.TrimPrefix(name, "node")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 1
	}
	sort.Ints(ids)
	return ids[len(ids)-1] + 1
}

// ResetForTest clears the cached node count so tests can re-run discovery.
// The sysfs path is fixed; it cannot be pointed at a faked root. Not for
// production use.
func ResetForTest() {
	once = sync.Once{}
	nodeCount = 0
}

// ClampNode folds an out-of-range node index into [0, NodeCount()).
func ClampNode(node int) int {
	n := NodeCount()
	if node < 0 {
		return 0
	}
	if node >= n {
		return node % n
	}
	return node
}
