package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// ImageProber exposes regular files in a directory as devices, for lab rigs and tests.
// A file named "<name>.<class>.img" gets that class (hdd, ssd, nvme, removable);
// anything else is treated as an HDD.
type ImageProber struct {
	dir string
}

// NewImageProber creates a prober over dir.
func NewImageProber(dir string) *ImageProber {
	return &ImageProber{dir: dir}
}

func (p *ImageProber) Probe(_ context.Context) ([]domain.Device, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("read image dir: %w", domain.ErrAccessDenied)
		}
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	var devices []domain.Device
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".img") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".img")
		class := domain.ClassHDD
		if i := strings.LastIndexByte(base, '.'); i > 0 {
			switch c := domain.DeviceClass(base[i+1:]); c {
			case domain.ClassHDD, domain.ClassSSD, domain.ClassNVMe, domain.ClassRemovable:
				class = c
				base = base[:i]
			}
		}
		devices = append(devices, domain.Device{
			ID:            "img-" + base,
			Path:          filepath.Join(p.dir, e.Name()),
			Serial:        "IMG-" + strings.ToUpper(base),
			Model:         "Disk image",
			Interface:     interfaceFile,
			CapacityBytes: info.Size(),
			Class:         class,
		})
	}
	return devices, nil
}
