package methods

import "github.com/TheShiveshNetwork/sayonara/internal/domain"

func pass(kind domain.PatternKind) domain.PassSpec {
	return domain.PassSpec{Kind: kind}
}

func fixed(b ...byte) domain.PassSpec {
	return domain.PassSpec{Kind: domain.PatternFixed, Bytes: b}
}

// Builtins returns the methods every registry starts with.
func Builtins() []domain.Method {
	return []domain.Method{
		{
			ID:                 "quick",
			Label:              "Quick (single zero pass)",
			Description:        "One pass of zeros. Defeats casual recovery only.",
			Passes:             []domain.PassSpec{pass(domain.PatternZero)},
			ThroughputHintMBps: 150,
		},
		{
			ID:                 "random",
			Label:              "Random (single random pass)",
			Description:        "One pass of seeded pseudo-random data.",
			Passes:             []domain.PassSpec{pass(domain.PatternRandom)},
			ThroughputHintMBps: 120,
		},
		{
			ID:          "dod-5220",
			Label:       "DoD 5220.22-M (3 passes)",
			Description: "Zeros, their complement, then random data.",
			Passes: []domain.PassSpec{
				pass(domain.PatternZero),
				pass(domain.PatternComplement),
				pass(domain.PatternRandom),
			},
			ThroughputHintMBps: 120,
		},
		{
			ID:                 "gutmann",
			Label:              "Gutmann (35 passes)",
			Description:        "Peter Gutmann's 35-pass sequence for legacy magnetic media.",
			Passes:             gutmannPasses(),
			ThroughputHintMBps: 100,
			AppliesTo: func(d *domain.Device) bool {
				return d.Class == domain.ClassHDD
			},
		},
		{
			ID:          "secure-erase",
			Label:       "Secure Erase (firmware + zero pass)",
			Description: "Firmware block erase followed by a verifiable zero pass.",
			Passes:      []domain.PassSpec{pass(domain.PatternZero)},
			Firmware:    domain.FirmwareBlockErase,
			// Firmware erase finishes in minutes; the hint covers the trailing pass.
			ThroughputHintMBps: 400,
			AppliesTo: func(d *domain.Device) bool {
				return d.Capabilities.BlockErase
			},
		},
		{
			ID:                 "crypto-erase",
			Label:              "Crypto Erase (key destruction + zero pass)",
			Description:        "Replaces the media encryption key, then writes a verifiable zero pass.",
			Passes:             []domain.PassSpec{pass(domain.PatternZero)},
			Firmware:           domain.FirmwareCryptoErase,
			ThroughputHintMBps: 400,
			AppliesTo: func(d *domain.Device) bool {
				return d.Capabilities.CryptoErase
			},
		},
	}
}

func gutmannPasses() []domain.PassSpec {
	var p []domain.PassSpec
	for i := 0; i < 4; i++ {
		p = append(p, pass(domain.PatternRandom))
	}
	p = append(p,
		fixed(0x55),
		fixed(0xAA),
		fixed(0x92, 0x49, 0x24),
		fixed(0x49, 0x24, 0x92),
		fixed(0x24, 0x92, 0x49),
	)
	for nibble := 0; nibble < 16; nibble++ {
		p = append(p, fixed(byte(nibble<<4|nibble)))
	}
	p = append(p,
		fixed(0x92, 0x49, 0x24),
		fixed(0x49, 0x24, 0x92),
		fixed(0x24, 0x92, 0x49),
		fixed(0x6D, 0xB6, 0xDB),
		fixed(0xB6, 0xDB, 0x6D),
		fixed(0xDB, 0x6D, 0xB6),
	)
	for i := 0; i < 4; i++ {
		p = append(p, pass(domain.PatternRandom))
	}
	return p
}
