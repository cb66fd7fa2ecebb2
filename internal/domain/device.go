package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeviceClass groups devices by how they respond to overwriting.
type DeviceClass string

const (
	ClassHDD       DeviceClass = "hdd"
	ClassSSD       DeviceClass = "ssd"
	ClassNVMe      DeviceClass = "nvme"
	ClassRemovable DeviceClass = "removable"
)

// IsFlash reports whether the device is flash-backed (wear levelling, over-provisioning).
func (c DeviceClass) IsFlash() bool {
	return c == ClassSSD || c == ClassNVMe
}

// HealthStatus is a SMART-style overall verdict.
type HealthStatus string

const (
	HealthPass    HealthStatus = "pass"
	HealthWarning HealthStatus = "warning"
	HealthFail    HealthStatus = "fail"
	HealthUnknown HealthStatus = "unknown"
)

// Health is a point-in-time health snapshot of a device.
type Health struct {
	Status             HealthStatus `json:"status"`
	ReallocatedSectors int64        `json:"reallocated_sectors"`
	PendingSectors     int64        `json:"pending_sectors"`
	MediaErrors        int64        `json:"media_errors"`
	TemperatureC       int          `json:"temperature_c,omitempty"`
	PowerOnHours       int64        `json:"power_on_hours,omitempty"`
	CheckedAt          time.Time    `json:"checked_at"`
}

// Capabilities lists firmware sanitize commands the device accepts.
type Capabilities struct {
	CryptoErase bool `json:"crypto_erase"`
	BlockErase  bool `json:"block_erase"`

	// HiddenAreaBytes is the size of an enabled host protected area: sectors between the
	// reported capacity and the native max that an overwrite cannot reach.
	HiddenAreaBytes int64 `json:"hidden_area_bytes,omitempty"`
}

// Device is a block device discovered by an inventory scan.
type Device struct {
	ID            string       `json:"id"`
	Path          string       `json:"path"`
	Serial        string       `json:"serial"`
	Model         string       `json:"model"`
	Interface     string       `json:"interface"`
	CapacityBytes int64        `json:"capacity_bytes"`
	Class         DeviceClass  `json:"class"`
	Health        Health       `json:"health"`
	Capabilities  Capabilities `json:"capabilities"`

	IsSystemVolume bool       `json:"is_system_volume"`
	InUseByJob     *uuid.UUID `json:"in_use_by_job,omitempty"`

	// Set when the last job on this device ended without a passed verification.
	RequiresReconfirmation bool `json:"requires_reconfirmation"`
	Unverified             bool `json:"unverified"`
}

// DeviceSnapshot is the identity of a device frozen into a job and its certificate.
type DeviceSnapshot struct {
	ID            string      `json:"id"`
	Serial        string      `json:"serial"`
	Model         string      `json:"model"`
	Interface     string      `json:"interface"`
	CapacityBytes int64       `json:"capacity_bytes"`
	Class         DeviceClass `json:"class"`
}

// Snapshot freezes the identity fields of the device.
func (d *Device) Snapshot() DeviceSnapshot {
	return DeviceSnapshot{
		ID:            d.ID,
		Serial:        d.Serial,
		Model:         d.Model,
		Interface:     d.Interface,
		CapacityBytes: d.CapacityBytes,
		Class:         d.Class,
	}
}
