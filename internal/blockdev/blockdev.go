package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// Device is an open block device or disk image addressed by byte offset.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// CacheDropper is implemented by devices that can evict their pages from the host cache,
// so a read-back hits the media instead of memory.
type CacheDropper interface {
	DropCache() error
}

// Opener opens devices discovered by the inventory.
type Opener interface {
	Open(d *domain.Device, writable bool) (Device, error)
}

// FileOpener opens device nodes and image files through the filesystem.
type FileOpener struct{}

// NewFileOpener creates an opener for /dev nodes and regular image files.
func NewFileOpener() *FileOpener {
	return &FileOpener{}
}

func (o *FileOpener) Open(d *domain.Device, writable bool) (Device, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(d.Path, flag, 0)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("open %s: %w", d.Path, domain.ErrAccessDenied)
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("open %s: %w", d.Path, domain.ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}
	return &fileDevice{File: f}, nil
}

type fileDevice struct {
	*os.File
}

func (f *fileDevice) DropCache() error {
	return dropCache(f.File)
}
