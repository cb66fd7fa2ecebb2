package inventory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/system"
)

// SANICAP bits from the NVMe Identify Controller structure.
const (
	sanicapCryptoErase = 1 << 0
	sanicapBlockErase  = 1 << 1
)

// CommandCapabilityReader queries nvme-cli or hdparm.
type CommandCapabilityReader struct {
	runner system.Runner
}

// NewCommandCapabilityReader creates a capability reader using host tools.
func NewCommandCapabilityReader(runner system.Runner) *CommandCapabilityReader {
	return &CommandCapabilityReader{runner: runner}
}

func (r *CommandCapabilityReader) ReadCapabilities(ctx context.Context, d *domain.Device) (domain.Capabilities, error) {
	switch {
	case d.Class == domain.ClassNVMe:
		out, err := r.runner.Run(ctx, "nvme", "id-ctrl", d.Path, "-o", "json")
		if err != nil {
			return domain.Capabilities{}, fmt.Errorf("nvme id-ctrl: %w", err)
		}
		return parseNVMeIDCtrl(out)
	case d.Interface == "sata" || d.Interface == "ata" || d.Interface == "sas":
		out, err := r.runner.Run(ctx, "hdparm", "-I", d.Path)
		if err != nil {
			return domain.Capabilities{}, fmt.Errorf("hdparm -I: %w", err)
		}
		caps := parseHdparmIdentify(out)

		out, err = r.runner.Run(ctx, "hdparm", "-N", d.Path)
		if err != nil {
			return caps, fmt.Errorf("hdparm -N: %w", err)
		}
		hidden, err := parseHdparmMaxSectors(out)
		if err != nil {
			return caps, err
		}
		caps.HiddenAreaBytes = hidden
		return caps, nil
	}
	return domain.Capabilities{}, nil
}

func parseNVMeIDCtrl(out []byte) (domain.Capabilities, error) {
	var ctrl struct {
		Sanicap uint32 `json:"sanicap"`
	}
	if err := json.Unmarshal(out, &ctrl); err != nil {
		return domain.Capabilities{}, fmt.Errorf("parse nvme id-ctrl: %w", err)
	}
	return domain.Capabilities{
		CryptoErase: ctrl.Sanicap&sanicapCryptoErase != 0,
		BlockErase:  ctrl.Sanicap&sanicapBlockErase != 0,
	}, nil
}

// parseHdparmIdentify looks at the Security section. A frozen drive rejects
// security commands until power-cycled, so it reports no capability.
func parseHdparmIdentify(out []byte) domain.Capabilities {
	var (
		inSecurity bool
		enhanced   bool
		frozen     bool
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Security:") {
			inSecurity = true
			continue
		}
		if inSecurity && line != "" && !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			inSecurity = false
		}
		if !inSecurity {
			continue
		}
		fields := strings.Fields(line)
		switch {
		case strings.Contains(line, "supported: enhanced erase") && !strings.Contains(line, "not"):
			enhanced = true
		case len(fields) == 1 && fields[0] == "frozen":
			frozen = true
		}
	}
	return domain.Capabilities{BlockErase: enhanced && !frozen}
}

// parseHdparmMaxSectors reads "max sectors = current/native, HPA is enabled" and
// returns the bytes hidden by the host protected area.
func parseHdparmMaxSectors(out []byte) (int64, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "max sectors") {
			continue
		}
		_, rest, ok := strings.Cut(line, "=")
		if !ok {
			break
		}
		counts, status, _ := strings.Cut(rest, ",")
		curField, nativeField, ok := strings.Cut(strings.TrimSpace(counts), "/")
		if !ok {
			break
		}
		current, err1 := strconv.ParseInt(strings.TrimSpace(curField), 10, 64)
		native, err2 := strconv.ParseInt(strings.TrimSpace(nativeField), 10, 64)
		if err1 != nil || err2 != nil {
			break
		}
		if !strings.Contains(status, "enabled") || native <= current {
			return 0, nil
		}
		return (native - current) * 512, nil
	}
	return 0, fmt.Errorf("parse hdparm -N: no max sectors line")
}
