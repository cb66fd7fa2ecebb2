package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
	"github.com/TheShiveshNetwork/sayonara/internal/system/mock"
)

const ataSmartJSON = `{
  "smart_status": {"passed": true},
  "temperature": {"current": 34},
  "power_on_time": {"hours": 21034},
  "ata_smart_attributes": {"table": [
    {"id": 5, "name": "Reallocated_Sector_Ct", "raw": {"value": 24}},
    {"id": 197, "name": "Current_Pending_Sector", "raw": {"value": 0}},
    {"id": 198, "name": "Offline_Uncorrectable", "raw": {"value": 0}}
  ]}
}`

const nvmeSmartJSON = `{
  "smart_status": {"passed": true},
  "temperature": {"current": 41},
  "power_on_time": {"hours": 812},
  "nvme_smart_health_information_log": {
    "critical_warning": 0, "available_spare": 100, "percentage_used": 2, "media_errors": 0
  }
}`

func TestParseSmartctl(t *testing.T) {
	tests := []struct {
		name string
		json string
		want domain.HealthStatus
	}{
		{"ata with reallocations", ataSmartJSON, domain.HealthWarning},
		{"healthy nvme", nvmeSmartJSON, domain.HealthPass},
		{"failed self assessment", `{"smart_status": {"passed": false}}`, domain.HealthFail},
		{"no status", `{"temperature": {"current": 30}}`, domain.HealthUnknown},
		{"low spare", `{"smart_status": {"passed": true}, "nvme_smart_health_information_log": {"available_spare": 5}}`, domain.HealthFail},
		{"media errors", `{"smart_status": {"passed": true}, "nvme_smart_health_information_log": {"available_spare": 100, "media_errors": 3}}`, domain.HealthFail},
		{"hot", `{"smart_status": {"passed": true}, "temperature": {"current": 75}}`, domain.HealthWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := parseSmartctl([]byte(tt.json))
			if err != nil {
				t.Fatalf("parseSmartctl: %v", err)
			}
			if h.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, h.Status)
			}
		})
	}
}

func TestParseSmartctl_Fields(t *testing.T) {
	h, err := parseSmartctl([]byte(ataSmartJSON))
	if err != nil {
		t.Fatal(err)
	}
	if h.ReallocatedSectors != 24 || h.PowerOnHours != 21034 || h.TemperatureC != 34 {
		t.Errorf("unexpected fields %+v", h)
	}
}

// Test: smartctl's informational exit bits do not hide a valid report.
func TestReadHealth_NonFatalExitStatus(t *testing.T) {
	runner := mock.NewRunner().On("smartctl -j -H -A -i /dev/sdb", ataSmartJSON, &system.CommandError{
		Name: "smartctl", ExitCode: 64, Err: errors.New("exit status 64"),
	})
	h, err := NewSmartctlReader(runner).ReadHealth(context.Background(), &domain.Device{ID: "sdb", Path: "/dev/sdb"})
	if err != nil {
		t.Fatalf("expected the report to be parsed, got %v", err)
	}
	if h.Status != domain.HealthWarning {
		t.Errorf("expected warning, got %s", h.Status)
	}
}

func TestReadHealth_PermissionDenied(t *testing.T) {
	runner := mock.NewRunner().On("smartctl -j -H -A -i /dev/sdb",
		`{"smartctl": {"messages": [{"string": "Smartctl open device: /dev/sdb failed: Permission denied"}]}}`,
		&system.CommandError{Name: "smartctl", ExitCode: 2, Err: errors.New("exit status 2")})

	_, err := NewSmartctlReader(runner).ReadHealth(context.Background(), &domain.Device{ID: "sdb", Path: "/dev/sdb"})
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestParseNVMeIDCtrl(t *testing.T) {
	caps, err := parseNVMeIDCtrl([]byte(`{"vid": 5559, "sanicap": 3}`))
	if err != nil {
		t.Fatal(err)
	}
	if !caps.CryptoErase || !caps.BlockErase {
		t.Errorf("expected both capabilities, got %+v", caps)
	}
	caps, _ = parseNVMeIDCtrl([]byte(`{"sanicap": 0}`))
	if caps.CryptoErase || caps.BlockErase {
		t.Errorf("expected no capabilities, got %+v", caps)
	}
}

func TestParseHdparmIdentify(t *testing.T) {
	supported := "ATA device, with non-removable media\nSecurity: \n\tMaster password revision code = 65534\n\t\tsupported\n\tnot\tenabled\n\tnot\tlocked\n\tnot\tfrozen\n\tnot\texpired: security count\n\t\tsupported: enhanced erase\n\t2min for SECURITY ERASE UNIT. 2min for ENHANCED SECURITY ERASE UNIT.\nLogical Unit WWN Device Identifier: 5002538e40a1b2c3\n"
	if caps := parseHdparmIdentify([]byte(supported)); !caps.BlockErase {
		t.Error("expected enhanced erase support")
	}

	frozen := "Security: \n\t\tsupported\n\tnot\tenabled\n\t\tfrozen\n\t\tsupported: enhanced erase\n"
	if caps := parseHdparmIdentify([]byte(frozen)); caps.BlockErase {
		t.Error("a frozen drive cannot run a security erase")
	}

	unsupported := "Security: \n\tnot\tsupported: enhanced erase\n"
	if caps := parseHdparmIdentify([]byte(unsupported)); caps.BlockErase {
		t.Error("expected no enhanced erase")
	}
}

func TestParseHdparmMaxSectors(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want int64
	}{
		{"hpa enabled", "\n/dev/sdb:\n max sectors   = 976771055/976773168, HPA is enabled\n", (976773168 - 976771055) * 512},
		{"hpa disabled", "\n/dev/sdb:\n max sectors   = 976773168/976773168, HPA is disabled\n", 0},
		{"accessible max address", "\n/dev/sdb:\n max sectors   = 500118192/500118192, accessible max address disabled\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseHdparmMaxSectors([]byte(tt.out))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d hidden bytes, got %d", tt.want, got)
			}
		})
	}

	if _, err := parseHdparmMaxSectors([]byte("/dev/sdb:\n")); err == nil {
		t.Error("expected an error without a max sectors line")
	}
}

func TestReadCapabilities_HiddenArea(t *testing.T) {
	runner := mock.NewRunner().
		On("hdparm -I /dev/sdb", "Security: \n\t\tsupported\n\tnot\tfrozen\n\t\tsupported: enhanced erase\n", nil).
		On("hdparm -N /dev/sdb", " max sectors   = 1000/3048, HPA is enabled\n", nil)

	d := &domain.Device{ID: "sdb", Path: "/dev/sdb", Interface: "sata", Class: domain.ClassHDD}
	caps, err := NewCommandCapabilityReader(runner).ReadCapabilities(context.Background(), d)
	if err != nil {
		t.Fatalf("ReadCapabilities: %v", err)
	}
	if !caps.BlockErase {
		t.Error("expected enhanced erase support")
	}
	if caps.HiddenAreaBytes != 2048*512 {
		t.Errorf("expected %d hidden bytes, got %d", 2048*512, caps.HiddenAreaBytes)
	}
}
