package sct

import "fmt"

// PhysicalAddress is a PCI bus address of host memory. It is carried on
// the wire as two 32-bit halves and never dereferenced.
type PhysicalAddress uint64

// Split returns the low and high words.
func (a PhysicalAddress) Split() (lo, hi uint32) {
	return uint32(a), uint32(a >> 32)
}

// JoinPhysical builds an address from its wire halves.
func JoinPhysical(lo, hi uint32) PhysicalAddress {
	return PhysicalAddress(uint64(hi)<<32 | uint64(lo))
}

func (a PhysicalAddress) String() string { return fmt.Sprintf("pci:%#x", uint64(a)) }

// ApertureAddress is the board-local address through which the board
// reaches a host buffer.
type ApertureAddress uint64

func (a ApertureAddress) String() string { return fmt.Sprintf("ap:%#x", uint64(a)) }

// Translator converts host PCI addresses into board aperture addresses.
// Implementations must be injective over their window.
type Translator interface {
	ToAperture(PhysicalAddress) (ApertureAddress, error)
	ToPhysical(ApertureAddress) (PhysicalAddress, error)
}

// BoardFamily selects the per-chip constants of the PCI bridge.
type BoardFamily int

const (
	FamilyS5000 BoardFamily = iota
	FamilyS6000
	FamilyS7000
)

var familyNames = map[BoardFamily]string{
	FamilyS5000: "s5000",
	FamilyS6000: "s6000",
	FamilyS7000: "s7000",
}

func (f BoardFamily) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// ParseBoardFamily maps a configuration name to a family.
func ParseBoardFamily(s string) (BoardFamily, error) {
	for f, name := range familyNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown board family %q", ErrInvalidParameter, s)
}

// FamilyInfo holds the bridge constants of a board family.
type FamilyInfo struct {
	// ApertureBase is where the PCI window appears in board memory.
	ApertureBase ApertureAddress
	// ShmRegister is the BAR0 offset of the scratch register holding the
	// shared memory base. Zero when the family uses a fixed base.
	ShmRegister uint32
	// SyncRegister and SyncValue implement the boot handshake on S7.
	SyncRegister uint32
	SyncValue    uint32
}

// Info returns the bridge constants for f.
func (f BoardFamily) Info() FamilyInfo {
	switch f {
	case FamilyS6000:
		return FamilyInfo{ApertureBase: 0x40000000, ShmRegister: 0x000b0060}
	case FamilyS7000:
		return FamilyInfo{
			ApertureBase: 0x80000000,
			ShmRegister:  0x00070300,
			SyncRegister: 0x00070304,
			SyncValue:    0xb0a4d001,
		}
	default:
		return FamilyInfo{ApertureBase: 0x40000000}
	}
}

// WindowTranslator maps [Min, Max] linearly onto Base.
type WindowTranslator struct {
	Min  PhysicalAddress
	Max  PhysicalAddress
	Base ApertureAddress
}

// NewWindowTranslator returns a translator for the given family and PCI
// window.
func NewWindowTranslator(f BoardFamily, lo, hi PhysicalAddress) (*WindowTranslator, error) {
	if hi < lo {
		return nil, fmt.Errorf("%w: pci window %v..%v", ErrInvalidParameter, lo, hi)
	}
	return &WindowTranslator{Min: lo, Max: hi, Base: f.Info().ApertureBase}, nil
}

func (w *WindowTranslator) ToAperture(a PhysicalAddress) (ApertureAddress, error) {
	if a < w.Min || a > w.Max {
		return 0, fmt.Errorf("%w: %v", ErrTranslate, a)
	}
	return w.Base + ApertureAddress(a-w.Min), nil
}

func (w *WindowTranslator) ToPhysical(a ApertureAddress) (PhysicalAddress, error) {
	if a < w.Base || uint64(a-w.Base) > uint64(w.Max-w.Min) {
		return 0, fmt.Errorf("%w: %v", ErrTranslate, a)
	}
	return w.Min + PhysicalAddress(a-w.Base), nil
}
