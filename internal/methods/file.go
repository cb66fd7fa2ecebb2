package methods

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// methodFile is the on-disk layout of METHODS_FILE.
//
//	methods:
//	  - id: schneier
//	    label: Schneier (7 passes)
//	    applies_to: [hdd]
//	    passes:
//	      - kind: one
//	      - kind: fixed
//	        hex: "55aa"
type methodFile struct {
	Methods []methodEntry `yaml:"methods"`
}

type methodEntry struct {
	ID                 string      `yaml:"id"`
	Label              string      `yaml:"label"`
	Description        string      `yaml:"description"`
	Firmware           string      `yaml:"firmware"`
	ThroughputHintMBps float64     `yaml:"throughput_hint_mbps"`
	AppliesTo          []string    `yaml:"applies_to"`
	RequiresCapability string      `yaml:"requires_capability"`
	Passes             []passEntry `yaml:"passes"`
}

type passEntry struct {
	Kind string `yaml:"kind"`
	Hex  string `yaml:"hex"`
}

// LoadFile reads extra method definitions. An empty path yields none.
func LoadFile(path string) ([]domain.Method, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read methods file: %w", err)
	}
	return Parse(data)
}

// Parse decodes method definitions from YAML.
func Parse(data []byte) ([]domain.Method, error) {
	var f methodFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse methods file: %w", err)
	}

	out := make([]domain.Method, 0, len(f.Methods))
	for _, e := range f.Methods {
		m := domain.Method{
			ID:                 e.ID,
			Label:              e.Label,
			Description:        e.Description,
			Firmware:           domain.FirmwareOp(e.Firmware),
			ThroughputHintMBps: e.ThroughputHintMBps,
		}
		if m.Label == "" {
			m.Label = e.ID
		}
		for i, p := range e.Passes {
			ps := domain.PassSpec{Kind: domain.PatternKind(strings.ToLower(p.Kind)), Index: i}
			if p.Hex != "" {
				b, err := hex.DecodeString(p.Hex)
				if err != nil {
					return nil, fmt.Errorf("method %q pass %d: %w", e.ID, i, err)
				}
				ps.Bytes = b
			}
			m.Passes = append(m.Passes, ps)
		}
		pred, err := predicate(e)
		if err != nil {
			return nil, err
		}
		m.AppliesTo = pred
		out = append(out, m)
	}
	return out, nil
}

func predicate(e methodEntry) (func(*domain.Device) bool, error) {
	classes := make(map[domain.DeviceClass]bool, len(e.AppliesTo))
	for _, c := range e.AppliesTo {
		class := domain.DeviceClass(strings.ToLower(c))
		switch class {
		case domain.ClassHDD, domain.ClassSSD, domain.ClassNVMe, domain.ClassRemovable:
			classes[class] = true
		default:
			return nil, fmt.Errorf("method %q: unknown device class %q", e.ID, c)
		}
	}
	switch e.RequiresCapability {
	case "", "crypto_erase", "block_erase":
	default:
		return nil, fmt.Errorf("method %q: unknown capability %q", e.ID, e.RequiresCapability)
	}
	if len(classes) == 0 && e.RequiresCapability == "" {
		return nil, nil
	}

	capability := e.RequiresCapability
	return func(d *domain.Device) bool {
		if len(classes) > 0 && !classes[d.Class] {
			return false
		}
		switch capability {
		case "crypto_erase":
			return d.Capabilities.CryptoErase
		case "block_erase":
			return d.Capabilities.BlockErase
		}
		return true
	}, nil
}
