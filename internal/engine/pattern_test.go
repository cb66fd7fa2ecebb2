package engine_test

import (
	"bytes"
	"testing"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
	"github.com/TheShiveshNetwork/sayonara/internal/engine"
)

func TestBuildPatterns_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		passes []domain.PassSpec
	}{
		{"no passes", nil},
		{"leading complement", passes(domain.PatternComplement)},
		{"fixed without bytes", passes(domain.PatternFixed)},
		{"unknown kind", []domain.PassSpec{{Kind: "dither"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.BuildPatterns(&domain.Method{ID: "x", Passes: tt.passes}, testSeed)
			if err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// Test: the random keystream is the same whether generated in one call or from an arbitrary offset.
func TestRandomPattern_Seekable(t *testing.T) {
	method := &domain.Method{ID: "random", Passes: passes(domain.PatternRandom)}
	patterns, err := engine.BuildPatterns(method, testSeed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	whole := make([]byte, 4096)
	patterns[0].Fill(whole, 0)

	for _, off := range []int64{1, 63, 64, 65, 1000, 4000} {
		part := make([]byte, 96)
		if int(off)+len(part) > len(whole) {
			part = part[:len(whole)-int(off)]
		}
		patterns[0].Fill(part, off)
		if !bytes.Equal(part, whole[off:int(off)+len(part)]) {
			t.Errorf("offset %d: keystream differs", off)
		}
	}
}

// Test: filling across a 64 GiB segment boundary matches two separate fills.
func TestRandomPattern_SegmentBoundary(t *testing.T) {
	method := &domain.Method{ID: "random", Passes: passes(domain.PatternRandom)}
	patterns, _ := engine.BuildPatterns(method, testSeed)

	boundary := int64(1) << 36
	span := make([]byte, 256)
	patterns[0].Fill(span, boundary-100)

	left := make([]byte, 100)
	right := make([]byte, 156)
	patterns[0].Fill(left, boundary-100)
	patterns[0].Fill(right, boundary)

	if !bytes.Equal(span[:100], left) || !bytes.Equal(span[100:], right) {
		t.Error("fill across the segment boundary is not continuous")
	}
}

func TestRandomPattern_SeedAndPassDiffer(t *testing.T) {
	method := &domain.Method{ID: "r2", Passes: passes(domain.PatternRandom, domain.PatternRandom)}
	a, _ := engine.BuildPatterns(method, testSeed)
	b, _ := engine.BuildPatterns(method, []byte("another seed"))

	p0 := make([]byte, 128)
	p1 := make([]byte, 128)
	other := make([]byte, 128)
	a[0].Fill(p0, 0)
	a[1].Fill(p1, 0)
	b[0].Fill(other, 0)

	if bytes.Equal(p0, p1) {
		t.Error("passes of the same job must use different keystreams")
	}
	if bytes.Equal(p0, other) {
		t.Error("different seeds must produce different keystreams")
	}
}

func TestComplementPattern(t *testing.T) {
	method := &domain.Method{ID: "dod", Passes: passes(domain.PatternRandom, domain.PatternComplement)}
	patterns, _ := engine.BuildPatterns(method, testSeed)

	prev := make([]byte, 300)
	comp := make([]byte, 300)
	patterns[0].Fill(prev, 777)
	patterns[1].Fill(comp, 777)
	for i := range prev {
		if comp[i] != ^prev[i] {
			t.Fatalf("byte %d: expected %#x, got %#x", i, ^prev[i], comp[i])
		}
	}
}

func TestFixedPattern_AnchoredAtZero(t *testing.T) {
	method := &domain.Method{ID: "g", Passes: []domain.PassSpec{{Kind: domain.PatternFixed, Bytes: []byte{0x92, 0x49, 0x24}}}}
	patterns, _ := engine.BuildPatterns(method, nil)

	buf := make([]byte, 4)
	patterns[0].Fill(buf, 4)
	want := []byte{0x49, 0x24, 0x92, 0x49}
	if !bytes.Equal(buf, want) {
		t.Errorf("expected %x, got %x", want, buf)
	}
}
