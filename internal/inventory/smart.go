package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
)

// smartctl exit status bits 0 and 1 mean the command line or the device open failed.
// Higher bits describe the disk and still come with a full JSON report.
const smartctlFatalBits = 0x3

// SmartctlReader reads health with smartctl's JSON output.
type SmartctlReader struct {
	runner system.Runner
	now    func() time.Time
}

// NewSmartctlReader creates a health reader backed by smartctl.
func NewSmartctlReader(runner system.Runner) *SmartctlReader {
	return &SmartctlReader{runner: runner, now: time.Now}
}

func (r *SmartctlReader) ReadHealth(ctx context.Context, d *domain.Device) (domain.Health, error) {
	out, err := r.runner.Run(ctx, "smartctl", "-j", "-H", "-A", "-i", d.Path)
	if err != nil {
		var cmdErr *system.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.ExitCode < 0 || cmdErr.ExitCode&smartctlFatalBits != 0 || len(out) == 0 {
			if system.IsPermissionDenied(err) || strings.Contains(string(out), "Permission denied") {
				return domain.Health{}, fmt.Errorf("smartctl %s: %w", d.Path, domain.ErrAccessDenied)
			}
			if strings.Contains(string(out), "No such device") {
				return domain.Health{}, fmt.Errorf("smartctl %s: %w", d.Path, domain.ErrDeviceNotFound)
			}
			return domain.Health{}, fmt.Errorf("smartctl %s: %w", d.Path, err)
		}
	}
	h, err := parseSmartctl(out)
	if err != nil {
		return domain.Health{}, err
	}
	h.CheckedAt = r.now().UTC()
	return h, nil
}

type smartctlReport struct {
	SmartStatus *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature struct {
		Current int `json:"current"`
	} `json:"temperature"`
	PowerOnTime struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
	ATAAttributes struct {
		Table []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Raw  struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	NVMeLog *struct {
		CriticalWarning int   `json:"critical_warning"`
		AvailableSpare  int   `json:"available_spare"`
		PercentageUsed  int   `json:"percentage_used"`
		MediaErrors     int64 `json:"media_errors"`
	} `json:"nvme_smart_health_information_log"`
}

// smartAssessment carries the raw signals that decide the overall verdict.
type smartAssessment struct {
	health          domain.Health
	reported        bool
	passed          bool
	uncorrectable   int64
	criticalWarning int
	availableSpare  int
	percentageUsed  int
	nvme            bool
}

func parseSmartctl(out []byte) (domain.Health, error) {
	var rep smartctlReport
	if err := json.Unmarshal(out, &rep); err != nil {
		return domain.Health{}, fmt.Errorf("parse smartctl output: %w", err)
	}

	a := smartAssessment{availableSpare: 100}
	a.health.TemperatureC = rep.Temperature.Current
	a.health.PowerOnHours = rep.PowerOnTime.Hours
	if rep.SmartStatus != nil {
		a.reported = true
		a.passed = rep.SmartStatus.Passed
	}
	for _, attr := range rep.ATAAttributes.Table {
		switch attr.ID {
		case 5:
			a.health.ReallocatedSectors = attr.Raw.Value
		case 197:
			a.health.PendingSectors = attr.Raw.Value
		case 198:
			a.uncorrectable = attr.Raw.Value
		}
	}
	if rep.NVMeLog != nil {
		a.nvme = true
		a.criticalWarning = rep.NVMeLog.CriticalWarning
		a.availableSpare = rep.NVMeLog.AvailableSpare
		a.percentageUsed = rep.NVMeLog.PercentageUsed
		a.health.MediaErrors = rep.NVMeLog.MediaErrors
	}
	a.health.Status = assess(a)
	return a.health, nil
}

func assess(a smartAssessment) domain.HealthStatus {
	h := a.health
	switch {
	case !a.reported:
		return domain.HealthUnknown
	case !a.passed:
		return domain.HealthFail
	case h.ReallocatedSectors > 100, a.uncorrectable > 0, h.MediaErrors > 0:
		return domain.HealthFail
	case a.nvme && a.availableSpare < 10, a.percentageUsed > 90:
		return domain.HealthFail
	case h.ReallocatedSectors > 10, h.PendingSectors > 0:
		return domain.HealthWarning
	case a.criticalWarning != 0, a.nvme && a.availableSpare < 20, a.percentageUsed > 80:
		return domain.HealthWarning
	case h.TemperatureC > 70:
		return domain.HealthWarning
	}
	return domain.HealthPass
}
