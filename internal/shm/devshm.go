//go:build linux || darwin

package shm

import (
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// canCreateOnDevShm reports whether size bytes fit in /dev/shm. Paths
// outside /dev/shm always report true.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, devShmDir+"/") {
		return true
	}
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		log.Warnf("could not read %s usage: %v", devShmDir, err)
		return true
	}
	return stat.Free >= size
}
