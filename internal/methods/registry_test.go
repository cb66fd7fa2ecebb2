package methods_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/methods"
)

func newRegistry(t *testing.T, extra ...domain.Method) *methods.Registry {
	t.Helper()
	r, err := methods.NewRegistry(extra...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func ids(ms []domain.Method) map[string]bool {
	out := make(map[string]bool, len(ms))
	for _, m := range ms {
		out[m.ID] = true
	}
	return out
}

func TestBuiltins(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		id     string
		passes int
		last   domain.PatternKind
	}{
		{"quick", 1, domain.PatternZero},
		{"random", 1, domain.PatternRandom},
		{"dod-5220", 3, domain.PatternRandom},
		{"gutmann", 35, domain.PatternRandom},
		{"secure-erase", 1, domain.PatternZero},
		{"crypto-erase", 1, domain.PatternZero},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			m, err := r.Get(tt.id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if m.PassCount() != tt.passes {
				t.Errorf("expected %d passes, got %d", tt.passes, m.PassCount())
			}
			if m.TerminalPass().Kind != tt.last {
				t.Errorf("expected terminal pass %s, got %s", tt.last, m.TerminalPass().Kind)
			}
			for i, p := range m.Passes {
				if p.Index != i {
					t.Errorf("pass %d has index %d", i, p.Index)
				}
			}
		})
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := newRegistry(t).Get("shred-42")
	if !errors.Is(err, domain.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestListMethods_Applicability(t *testing.T) {
	r := newRegistry(t)

	hdd := &domain.Device{ID: "sda", Class: domain.ClassHDD}
	nvme := &domain.Device{ID: "nvme0n1", Class: domain.ClassNVMe, Capabilities: domain.Capabilities{CryptoErase: true, BlockErase: true}}

	hddMethods := ids(r.ListMethods(hdd))
	if !hddMethods["gutmann"] {
		t.Error("gutmann should apply to an HDD")
	}
	if hddMethods["crypto-erase"] || hddMethods["secure-erase"] {
		t.Error("firmware methods need the matching capability")
	}

	nvmeMethods := ids(r.ListMethods(nvme))
	if nvmeMethods["gutmann"] {
		t.Error("gutmann must not be offered for flash")
	}
	if !nvmeMethods["crypto-erase"] || !nvmeMethods["secure-erase"] {
		t.Error("expected firmware methods for a capable NVMe device")
	}

	listed := r.ListMethods(hdd)
	for i := 1; i < len(listed); i++ {
		if listed[i-1].PassCount() > listed[i].PassCount() {
			t.Errorf("methods not ordered by pass count: %s before %s", listed[i-1].ID, listed[i].ID)
		}
	}
}

func TestApplicable(t *testing.T) {
	r := newRegistry(t)
	ssd := &domain.Device{ID: "sdb", Class: domain.ClassSSD}

	if _, err := r.Applicable("gutmann", ssd); !errors.Is(err, domain.ErrMethodNotApplicable) {
		t.Errorf("expected ErrMethodNotApplicable, got %v", err)
	}
	if _, err := r.Applicable("nope", ssd); !errors.Is(err, domain.ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
	if m, err := r.Applicable("quick", ssd); err != nil || m.ID != "quick" {
		t.Errorf("expected quick, got %v, %v", m, err)
	}
}

func TestNewRegistry_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		m    domain.Method
	}{
		{"duplicate builtin", domain.Method{ID: "quick", Passes: []domain.PassSpec{{Kind: domain.PatternZero}}}},
		{"no passes", domain.Method{ID: "empty"}},
		{"leading complement", domain.Method{ID: "c", Passes: []domain.PassSpec{{Kind: domain.PatternComplement}}}},
		{"bad firmware", domain.Method{ID: "f", Passes: []domain.PassSpec{{Kind: domain.PatternZero}}, Firmware: "degauss"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := methods.NewRegistry(tt.m); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "methods.yaml")
	data := `
methods:
  - id: schneier
    label: Schneier (7 passes)
    applies_to: [hdd]
    throughput_hint_mbps: 110
    passes:
      - kind: one
      - kind: zero
      - kind: random
      - kind: random
      - kind: random
      - kind: random
      - kind: random
  - id: flash-pattern
    requires_capability: block_erase
    firmware: block-erase
    passes:
      - kind: fixed
        hex: "55aa"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	extra, err := methods.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	r := newRegistry(t, extra...)

	m, err := r.Get("schneier")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.PassCount() != 7 {
		t.Errorf("expected 7 passes, got %d", m.PassCount())
	}
	if m.Applicable(&domain.Device{Class: domain.ClassSSD}) {
		t.Error("schneier is restricted to hdd")
	}

	fp, _ := r.Get("flash-pattern")
	if got := fp.Passes[0].Bytes; len(got) != 2 || got[0] != 0x55 || got[1] != 0xAA {
		t.Errorf("unexpected fixed bytes %x", got)
	}
	if fp.Applicable(&domain.Device{Class: domain.ClassSSD}) {
		t.Error("flash-pattern needs block erase support")
	}
	if fp.Label != "flash-pattern" {
		t.Errorf("label should default to the id, got %q", fp.Label)
	}
}

func TestLoadFile_EmptyPath(t *testing.T) {
	extra, err := methods.LoadFile("")
	if err != nil || extra != nil {
		t.Errorf("expected no methods and no error, got %v, %v", extra, err)
	}
}
