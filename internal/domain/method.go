package domain

// PatternKind is the data written by a single pass.
type PatternKind string

const (
	PatternZero       PatternKind = "zero"
	PatternOne        PatternKind = "one"
	PatternRandom     PatternKind = "random"
	PatternComplement PatternKind = "complement"
	PatternFixed      PatternKind = "fixed"
)

// IsValid checks if the pattern kind is supported.
func (k PatternKind) IsValid() bool {
	switch k {
	case PatternZero, PatternOne, PatternRandom, PatternComplement, PatternFixed:
		return true
	}
	return false
}

// PassSpec describes one pass of a method.
type PassSpec struct {
	Kind  PatternKind `json:"kind" yaml:"kind"`
	Index int         `json:"index" yaml:"-"`
	// Bytes is the repeating sequence for PatternFixed.
	Bytes []byte `json:"bytes,omitempty" yaml:"bytes,omitempty"`
}

// FirmwareOp is a device-level sanitize command issued before the logical passes.
type FirmwareOp string

const (
	FirmwareNone        FirmwareOp = ""
	FirmwareCryptoErase FirmwareOp = "crypto-erase"
	FirmwareBlockErase  FirmwareOp = "block-erase"
)

// Method is an immutable sanitization method from the registry.
type Method struct {
	ID                 string     `json:"id"`
	Label              string     `json:"label"`
	Description        string     `json:"description,omitempty"`
	Passes             []PassSpec `json:"passes"`
	Firmware           FirmwareOp `json:"firmware,omitempty"`
	ThroughputHintMBps float64    `json:"throughput_hint_mbps"`

	// AppliesTo reports whether the method may target the device. Nil means any device.
	AppliesTo func(*Device) bool `json:"-"`
}

// PassCount is the number of logical passes.
func (m *Method) PassCount() int {
	return len(m.Passes)
}

// Applicable reports whether the method may be used on the device.
func (m *Method) Applicable(d *Device) bool {
	if m.AppliesTo == nil {
		return true
	}
	return m.AppliesTo(d)
}

// TerminalPass returns the last pass, whose pattern remains on the media.
func (m *Method) TerminalPass() PassSpec {
	return m.Passes[len(m.Passes)-1]
}
