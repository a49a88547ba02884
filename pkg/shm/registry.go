package shm

import (
	"sort"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// handleCount is the number of open Region handles of one name in this
// process. It is only modified under the map's shard lock.
type handleCount struct {
	n atomic.Int64
}

var openRegions = cmap.New[*handleCount]()

func trackRegion(name string) {
	openRegions.Upsert(name, nil, func(exist bool, c *handleCount, _ *handleCount) *handleCount {
		if !exist {
			c = &handleCount{}
		}
		c.n.Add(1)
		return c
	})
}

func untrackRegion(name string) {
	openRegions.RemoveCb(name, func(_ string, c *handleCount, exists bool) bool {
		return exists && c.n.Add(-1) <= 0
	})
}

// OpenRegionNames returns the names of regions this process holds at least
// one open handle to, sorted.
func OpenRegionNames() []string {
	names := openRegions.Keys()
	sort.Strings(names)
	return names
}

// OpenHandleCount returns how many open handles this process holds to the
// region called name. Other processes are not counted.
func OpenHandleCount(name string) int {
	c, ok := openRegions.Get(name)
	if !ok {
		return 0
	}
	return int(c.n.Load())
}
