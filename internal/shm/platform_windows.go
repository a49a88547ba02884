//go:build windows

package shm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/srediag/shmring/internal/logging"
)

// sizeHeader prefixes every mapping with the size its owner asked for,
// since a view only reports its page-rounded size.
const sizeHeader = 8

var (
	log = logging.New("region", nil)

	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileMappingW = kernel32.NewProc("OpenFileMappingW")
)

func openFileMapping(access uint32, name *uint16) (windows.Handle, error) {
	h, _, err := procOpenFileMappingW.Call(uintptr(access), 0, uintptr(unsafe.Pointer(name)))
	if h == 0 {
		return 0, err
	}
	return windows.Handle(h), nil
}

type platformHandle struct {
	mapping windows.Handle
	addr    uintptr
}

func objectName(name, suffix string) (*uint16, error) {
	return windows.UTF16PtrFromString(`Local\` + namePrefix + name + suffix)
}

// MapRegion attaches to the named file mapping opts.Name, creating it with
// opts.Size bytes when it does not exist yet. The OS keeps the mapping alive
// while any handle references it. A named mutex serializes creation and
// Init against concurrent attachers.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrResourceCreation, opts.Size)
	}

	unlock, err := lockInit(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer unlock()

	name, err := objectName(opts.Name, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}

	var (
		h     windows.Handle
		owner bool
	)
	if opts.Size == 0 {
		h, err = openFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, name)
		if err != nil {
			if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
				return nil, fmt.Errorf("%w: %s: %w", ErrResourceCreation, opts.Name, fs.ErrNotExist)
			}
			return nil, fmt.Errorf("%w: OpenFileMapping %s: %w", ErrResourceCreation, opts.Name, err)
		}
	} else {
		size := uint64(opts.Size) + sizeHeader
		h, err = windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE,
			uint32(size>>32), uint32(size), name)
		if h == 0 {
			return nil, fmt.Errorf("%w: CreateFileMapping %s: %w", ErrResourceCreation, opts.Name, err)
		}
		owner = !errors.Is(err, windows.ERROR_ALREADY_EXISTS)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, 0)
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("%w: MapViewOfFile %s: %w", ErrResourceMapping, opts.Name, err)
	}

	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		_ = windows.UnmapViewOfFile(addr)
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("%w: VirtualQuery %s: %w", ErrResourceMapping, opts.Name, err)
	}
	view := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(mbi.RegionSize))

	size := opts.Size
	if owner {
		clear(view)
		binary.LittleEndian.PutUint64(view, uint64(size))
	} else {
		stored := binary.LittleEndian.Uint64(view)
		if stored == 0 || stored > uint64(len(view)-sizeHeader) {
			_ = windows.UnmapViewOfFile(addr)
			_ = windows.CloseHandle(h)
			return nil, fmt.Errorf("%w: %s records size %d in a %d byte view",
				ErrResourceMapping, opts.Name, stored, len(view))
		}
		size = int(stored)
	}
	mem := view[sizeHeader : sizeHeader+size : sizeHeader+size]

	if owner {
		if opts.Init != nil {
			if err := opts.Init(mem); err != nil {
				_ = windows.UnmapViewOfFile(addr)
				_ = windows.CloseHandle(h)
				return nil, err
			}
		}
		log.Infof("created region %s size:%d", opts.Name, size)
	} else {
		log.Infof("attached region %s size:%d", opts.Name, size)
	}

	return &MappedRegion{
		Data:   mem,
		Name:   opts.Name,
		Owner:  owner,
		handle: platformHandle{mapping: h, addr: addr},
	}, nil
}

func lockInit(ctx context.Context, opts MapOptions) (func(), error) {
	name, err := objectName(opts.Name, ".init")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	mu, err := windows.CreateMutex(nil, false, name)
	if mu == 0 {
		return nil, fmt.Errorf("%w: CreateMutex %s: %w", ErrResourceCreation, opts.Name, err)
	}

	timeout := opts.attachTimeout()
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if timeout < 0 {
		timeout = 0
	}
	event, err := windows.WaitForSingleObject(mu, uint32(timeout/time.Millisecond))
	if event != windows.WAIT_OBJECT_0 && event != windows.WAIT_ABANDONED {
		_ = windows.CloseHandle(mu)
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("%w: waiting for %s: %w", ErrResourceCreation, opts.Name, err)
	}
	return func() {
		_ = windows.ReleaseMutex(mu)
		_ = windows.CloseHandle(mu)
	}, nil
}

// Snapshot copies the current contents of the region called name.
func Snapshot(name string) ([]byte, error) {
	region, err := MapRegion(context.Background(), MapOptions{Name: name})
	if err != nil {
		return nil, err
	}
	defer func() { _ = UnmapRegion(region) }()
	return append([]byte(nil), region.Data...), nil
}

// UnmapRegion unmaps the view and closes the mapping handle.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Data == nil {
		return nil
	}
	var errs []error
	if err := windows.UnmapViewOfFile(region.handle.addr); err != nil {
		errs = append(errs, fmt.Errorf("UnmapViewOfFile: %w", err))
	}
	if err := windows.CloseHandle(region.handle.mapping); err != nil {
		errs = append(errs, fmt.Errorf("CloseHandle: %w", err))
	}
	region.Data = nil
	return errors.Join(errs...)
}
