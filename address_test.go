package sct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhysicalAddressSplit(t *testing.T) {
	a := PhysicalAddress(0x0000_0001_2345_6789)
	lo, hi := a.Split()
	assert.Equal(t, uint32(0x2345_6789), lo)
	assert.Equal(t, uint32(1), hi)
	assert.Equal(t, a, JoinPhysical(lo, hi))
	assert.Equal(t, "pci:0x123456789", a.String())
}

func TestParseBoardFamily(t *testing.T) {
	for _, f := range []BoardFamily{FamilyS5000, FamilyS6000, FamilyS7000} {
		got, err := ParseBoardFamily(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseBoardFamily("s9000")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestFamilyInfo(t *testing.T) {
	s7 := FamilyS7000.Info()
	assert.Equal(t, ApertureAddress(0x8000_0000), s7.ApertureBase)
	assert.Equal(t, uint32(0xb0a4d001), s7.SyncValue)
	assert.Equal(t, uint32(0x000b0060), FamilyS6000.Info().ShmRegister)
	assert.Zero(t, FamilyS5000.Info().ShmRegister)
}

func TestWindowTranslator(t *testing.T) {
	tr, err := NewWindowTranslator(FamilyS6000, 0x2000_0000, 0x2FFF_FFFF)
	require.NoError(t, err)

	ap, err := tr.ToAperture(0x2000_1000)
	require.NoError(t, err)
	assert.Equal(t, ApertureAddress(0x4000_1000), ap)

	pa, err := tr.ToPhysical(ap)
	require.NoError(t, err)
	assert.Equal(t, PhysicalAddress(0x2000_1000), pa)

	_, err = tr.ToAperture(0x1FFF_FFFF)
	assert.ErrorIs(t, err, ErrTranslate)
	_, err = tr.ToAperture(0x3000_0000)
	assert.ErrorIs(t, err, ErrTranslate)
	_, err = tr.ToPhysical(0x5000_0000)
	assert.ErrorIs(t, err, ErrTranslate)

	_, err = NewWindowTranslator(FamilyS7000, 2, 1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
