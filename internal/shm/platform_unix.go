//go:build linux || darwin

package shm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/srediag/shmring/internal/logging"
)

const devShmDir = "/dev/shm"

var (
	log    = logging.New("region", nil)
	tmpSeq atomic.Uint64

	shmDir = sync.OnceValue(func() string {
		if info, err := os.Stat(devShmDir); err == nil && info.IsDir() {
			return devShmDir
		}
		return os.TempDir()
	})
)

type platformHandle struct {
	fd   int
	path string
	dev  uint64
	ino  uint64
}

// RegionPath returns the file backing the region called name.
func RegionPath(name string) string {
	return filepath.Join(shmDir(), namePrefix+name)
}

// Snapshot copies the current contents of the region called name without
// mapping it or taking a reference on it.
func Snapshot(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return os.ReadFile(RegionPath(name))
}

// MapRegion attaches to the region called opts.Name, creating it with
// opts.Size bytes when it does not exist yet.
//
// Every handle holds a shared flock on the backing file. A new region is
// built in a private file and published with link(2), so an attacher never
// observes a region before Init has completed.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrResourceCreation, opts.Size)
	}
	path := RegionPath(opts.Name)

	ctx, cancel := context.WithTimeout(ctx, opts.attachTimeout())
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 0

	var region *MappedRegion
	op := func() error {
		r, err := openOrCreate(path, opts)
		if err == nil {
			region = r
			return nil
		}
		if errors.Is(err, errRegionBusy) {
			log.Debugf("region %s busy, retrying", path)
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, errRegionBusy) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s: %w", ErrResourceCreation, path, err)
		}
		return nil, err
	}
	return region, nil
}

func openOrCreate(path string, opts MapOptions) (*MappedRegion, error) {
	region, err := attach(path, opts.Name)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return region, err
	}
	if opts.Size == 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceCreation, path, fs.ErrNotExist)
	}
	return create(path, opts)
}

func attach(path, name string) (*MappedRegion, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrResourceCreation, path, err)
	}

	// Only a file nobody references can be locked exclusively: its last
	// user went away without closing it.
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err == nil {
		if sameFile(fd, path) {
			if err := unix.Unlink(path); err == nil {
				log.Warnf("removed orphaned region %s", path)
			}
		}
		_ = unix.Close(fd)
		return nil, errRegionBusy
	} else if !errors.Is(err, unix.EWOULDBLOCK) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: flock %s: %w", ErrResourceCreation, path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_SH|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			// The last handle is closing and about to unlink.
			return nil, errRegionBusy
		}
		return nil, fmt.Errorf("%w: flock %s: %w", ErrResourceCreation, path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: fstat %s: %w", ErrResourceCreation, path, err)
	}
	if !sameFile(fd, path) {
		_ = unix.Close(fd)
		return nil, errRegionBusy
	}
	if st.Size <= 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is empty", ErrResourceCreation, path)
	}

	mem, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrResourceMapping, path, err)
	}
	log.Infof("attached region %s size:%d", path, st.Size)
	return &MappedRegion{
		Data: mem,
		Name: name,
		handle: platformHandle{
			fd:   fd,
			path: path,
			dev:  uint64(st.Dev),
			ino:  uint64(st.Ino),
		},
	}, nil
}

func create(path string, opts MapOptions) (*MappedRegion, error) {
	if !canCreateOnDevShm(uint64(opts.Size), path) {
		return nil, fmt.Errorf("%w: %s: not enough space for %d bytes", ErrResourceCreation, path, opts.Size)
	}

	tmp := filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s.%d.%d", filepath.Base(path), os.Getpid(), tmpSeq.Add(1)))
	fd, err := unix.Open(tmp, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrResourceCreation, tmp, err)
	}
	cleanup := func() {
		_ = unix.Close(fd)
		_ = unix.Unlink(tmp)
	}

	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: ftruncate %s: %w", ErrResourceCreation, tmp, err)
	}
	mem, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrResourceMapping, tmp, err)
	}
	clear(mem)

	if opts.Init != nil {
		if err := opts.Init(mem); err != nil {
			_ = unix.Munmap(mem)
			cleanup()
			return nil, err
		}
	}
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		_ = unix.Munmap(mem)
		cleanup()
		return nil, fmt.Errorf("%w: flock %s: %w", ErrResourceCreation, tmp, err)
	}
	if err := unix.Link(tmp, path); err != nil {
		_ = unix.Munmap(mem)
		cleanup()
		if errors.Is(err, unix.EEXIST) {
			// Another process published first; attach to theirs.
			return nil, errRegionBusy
		}
		return nil, fmt.Errorf("%w: link %s: %w", ErrResourceCreation, path, err)
	}
	_ = unix.Unlink(tmp)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Munmap(mem)
		_ = unix.Unlink(path)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: fstat %s: %w", ErrResourceCreation, path, err)
	}
	log.Infof("created region %s size:%d", path, opts.Size)
	return &MappedRegion{
		Data:  mem,
		Name:  opts.Name,
		Owner: true,
		handle: platformHandle{
			fd:   fd,
			path: path,
			dev:  uint64(st.Dev),
			ino:  uint64(st.Ino),
		},
	}, nil
}

// UnmapRegion unmaps the region and drops this handle's reference. The last
// reference removes the backing file.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Data == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(region.Data); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	region.Data = nil

	h := region.handle
	if err := unix.Flock(h.fd, unix.LOCK_EX|unix.LOCK_NB); err == nil && sameFile(h.fd, h.path) {
		if err := unix.Unlink(h.path); err != nil {
			errs = append(errs, fmt.Errorf("unlink %s: %w", h.path, err))
		} else {
			log.Infof("removed region %s", h.path)
		}
	}
	if err := unix.Close(h.fd); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", h.path, err))
	}
	return errors.Join(errs...)
}

func sameFile(fd int, path string) bool {
	var a, b unix.Stat_t
	if unix.Fstat(fd, &a) != nil || unix.Stat(path, &b) != nil {
		return false
	}
	return a.Dev == b.Dev && a.Ino == b.Ino
}
