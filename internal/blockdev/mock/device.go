package mock

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/TheShiveshNetwork/sayonara/internal/blockdev"
	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

const chunkSize = 64 * 1024

// ---- Device mock ----

var _ blockdev.Device = (*Device)(nil)

// Device is a sparse in-memory block device. All-zero chunks are not stored, so a
// gigabyte-sized device costs memory only for the non-zero data written to it.
type Device struct {
	mu       sync.Mutex
	capacity int64
	chunks   map[int64][]byte
	closed   bool

	// WriteFn, when set, runs before every write; a non-nil error fails it with nothing written.
	WriteFn func(call int, off int64, n int) error
	// AfterWriteFn runs after every successful write.
	AfterWriteFn func(call int, off int64, n int)
	// SyncFn, when set, replaces the default successful Sync.
	SyncFn func() error

	// Recorded calls for assertions.
	Writes     []WriteCall
	Syncs      int
	CacheDrops int
}

// WriteCall is a recorded WriteAt.
type WriteCall struct {
	Offset int64
	Size   int
}

// NewDevice creates a zero-filled device of the given capacity.
func NewDevice(capacity int64) *Device {
	return &Device{
		capacity: capacity,
		chunks:   make(map[int64][]byte),
	}
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	call := len(d.Writes)
	d.Writes = append(d.Writes, WriteCall{Offset: off, Size: len(p)})
	writeFn := d.WriteFn
	d.mu.Unlock()

	if writeFn != nil {
		if err := writeFn(call, off, len(p)); err != nil {
			return 0, err
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, errors.New("mock: device closed")
	}
	if off < 0 || off+int64(len(p)) > d.capacity {
		d.mu.Unlock()
		return 0, fmt.Errorf("mock: write past end of device (off=%d len=%d cap=%d)", off, len(p), d.capacity)
	}
	d.store(p, off)
	after := d.AfterWriteFn
	d.mu.Unlock()

	if after != nil {
		after(call, off, len(p))
	}
	return len(p), nil
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off >= d.capacity {
		return 0, io.EOF
	}
	n := len(p)
	if rem := d.capacity - off; int64(n) > rem {
		n = int(rem)
	}
	for i := 0; i < n; {
		pos := off + int64(i)
		base := pos - pos%chunkSize
		within := int(pos - base)
		span := chunkSize - within
		if span > n-i {
			span = n - i
		}
		if c, ok := d.chunks[base]; ok {
			copy(p[i:i+span], c[within:within+span])
		} else {
			clear(p[i : i+span])
		}
		i += span
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// store writes p at off. Callers hold d.mu.
func (d *Device) store(p []byte, off int64) {
	for i := 0; i < len(p); {
		pos := off + int64(i)
		base := pos - pos%chunkSize
		within := int(pos - base)
		span := chunkSize - within
		if span > len(p)-i {
			span = len(p) - i
		}
		c, ok := d.chunks[base]
		if !ok {
			if allZero(p[i : i+span]) {
				i += span
				continue
			}
			c = make([]byte, chunkSize)
			d.chunks[base] = c
		}
		copy(c[within:within+span], p[i:i+span])
		if allZero(c) {
			delete(d.chunks, base)
		}
		i += span
	}
}

func (d *Device) Sync() error {
	d.mu.Lock()
	d.Syncs++
	fn := d.SyncFn
	d.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) DropCache() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CacheDrops++
	return nil
}

// Reopen clears the closed flag so the same backing data can be opened again.
func (d *Device) Reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
}

// Poke overwrites bytes directly, bypassing hooks and the write log.
func (d *Device) Poke(off int64, p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store(p, off)
}

// Corrupt flips every bit of the byte at off.
func (d *Device) Corrupt(off int64) {
	var b [1]byte
	_, _ = d.ReadAt(b[:], off)
	b[0] = ^b[0]
	d.Poke(off, b[:])
}

// WriteLog returns a copy of the recorded writes.
func (d *Device) WriteLog() []WriteCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]WriteCall(nil), d.Writes...)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ---- Opener mock ----

var _ blockdev.Opener = (*Opener)(nil)

// Opener hands out registered mock devices by device ID.
type Opener struct {
	mu      sync.Mutex
	devices map[string]*Device

	OpenFn func(d *domain.Device, writable bool) error

	OpenCalls []string
}

// NewOpener creates an opener with no devices.
func NewOpener() *Opener {
	return &Opener{devices: make(map[string]*Device)}
}

// Add registers a device under id.
func (o *Opener) Add(id string, dev *Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices[id] = dev
}

func (o *Opener) Open(d *domain.Device, writable bool) (blockdev.Device, error) {
	o.mu.Lock()
	o.OpenCalls = append(o.OpenCalls, d.ID)
	dev, ok := o.devices[d.ID]
	fn := o.OpenFn
	o.mu.Unlock()

	if fn != nil {
		if err := fn(d, writable); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, domain.ErrDeviceNotFound
	}
	dev.Reopen()
	return dev, nil
}
