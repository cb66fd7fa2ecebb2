package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
)

// Prober discovers block devices. Health and capabilities are filled in by the Inventory.
type Prober interface {
	Probe(ctx context.Context) ([]domain.Device, error)
}

// HealthReader reads a SMART-style health snapshot.
type HealthReader interface {
	ReadHealth(ctx context.Context, d *domain.Device) (domain.Health, error)
}

// CapabilityReader reports the firmware sanitize commands a device accepts.
type CapabilityReader interface {
	ReadCapabilities(ctx context.Context, d *domain.Device) (domain.Capabilities, error)
}

// Options control what the inventory exposes.
type Options struct {
	// IncludeSystem lists the boot volume. It is always flagged IsSystemVolume.
	IncludeSystem bool
}

// Inventory enumerates devices. It never writes to them.
type Inventory struct {
	prober Prober
	health HealthReader
	caps   CapabilityReader
	opts   Options
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]domain.Device
}

// New creates an inventory. health and caps may be nil.
func New(prober Prober, health HealthReader, caps CapabilityReader, opts Options, logger *zap.Logger) *Inventory {
	return &Inventory{
		prober: prober,
		health: health,
		caps:   caps,
		opts:   opts,
		logger: logger,
		cache:  make(map[string]domain.Device),
	}
}

// ListDevices probes the host and returns every eligible device, sorted by id.
func (inv *Inventory) ListDevices(ctx context.Context) ([]domain.Device, error) {
	found, err := inv.prober.Probe(ctx)
	if err != nil {
		return nil, classify(err)
	}

	devices := make([]domain.Device, 0, len(found))
	for _, d := range found {
		if d.IsSystemVolume && !inv.opts.IncludeSystem {
			continue
		}
		inv.enrich(ctx, &d)
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	inv.mu.Lock()
	inv.cache = make(map[string]domain.Device, len(devices))
	for _, d := range devices {
		inv.cache[d.ID] = d
	}
	inv.mu.Unlock()

	inv.logger.Debug("Inventory scan complete", zap.Int("devices", len(devices)))
	return devices, nil
}

// Get returns a device from the last scan, probing again if it is not cached.
func (inv *Inventory) Get(ctx context.Context, id string) (*domain.Device, error) {
	inv.mu.RLock()
	d, ok := inv.cache[id]
	inv.mu.RUnlock()
	if ok {
		return &d, nil
	}

	if _, err := inv.ListDevices(ctx); err != nil {
		return nil, err
	}
	inv.mu.RLock()
	d, ok = inv.cache[id]
	inv.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, domain.ErrDeviceNotFound)
	}
	return &d, nil
}

// RefreshHealth re-reads the health of one device. The host is probed again first,
// so a device that has disappeared since the last scan reports ErrDeviceNotFound.
func (inv *Inventory) RefreshHealth(ctx context.Context, id string) (*domain.Device, error) {
	found, err := inv.prober.Probe(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var d *domain.Device
	for i := range found {
		if found[i].ID == id && (!found[i].IsSystemVolume || inv.opts.IncludeSystem) {
			d = &found[i]
			break
		}
	}
	if d == nil {
		inv.mu.Lock()
		delete(inv.cache, id)
		inv.mu.Unlock()
		return nil, fmt.Errorf("%q: %w", id, domain.ErrDeviceNotFound)
	}

	inv.mu.RLock()
	if cached, ok := inv.cache[id]; ok {
		d.Capabilities = cached.Capabilities
	}
	inv.mu.RUnlock()

	d.Health = domain.Health{Status: domain.HealthUnknown, CheckedAt: time.Now().UTC()}
	if inv.health != nil && d.Interface != interfaceFile {
		h, err := inv.health.ReadHealth(ctx, d)
		if err != nil {
			return nil, classify(err)
		}
		d.Health = h
	}

	inv.mu.Lock()
	inv.cache[d.ID] = *d
	inv.mu.Unlock()
	return d, nil
}

// enrich fills health and capabilities. Failures degrade to unknown rather than hiding the device.
func (inv *Inventory) enrich(ctx context.Context, d *domain.Device) {
	d.Health = domain.Health{Status: domain.HealthUnknown, CheckedAt: time.Now().UTC()}
	if inv.health != nil && d.Interface != interfaceFile {
		h, err := inv.health.ReadHealth(ctx, d)
		if err != nil {
			inv.logger.Warn("Health read failed", zap.String("device_id", d.ID), zap.Error(err))
		} else {
			d.Health = h
		}
	}
	if inv.caps != nil && d.Interface != interfaceFile {
		c, err := inv.caps.ReadCapabilities(ctx, d)
		if err != nil {
			inv.logger.Debug("Capability probe failed", zap.String("device_id", d.ID), zap.Error(err))
		} else {
			d.Capabilities = c
		}
	}
}

// classify maps host-tool failures onto the domain taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrDeviceNotFound):
		return err
	case system.IsPermissionDenied(err):
		return fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
	}
	return err
}
