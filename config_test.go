package ccan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile([]byte(`
[controller]
variant   = dcan
alignment = 32
loopback  = true

[bittiming]
sjw        = 2
prop_seg   = 2
phase_seg1 = 6
phase_seg2 = 4
brp        = 10
`))
	assert.NoError(t, err)
	assert.Equal(t, BoschDCan, p.Variant)
	assert.Equal(t, Aligned32, p.Alignment)
	assert.True(t, p.Loopback)
	assert.False(t, p.Silent)
	assert.True(t, p.HasTiming)
	assert.Equal(t, uint16(10), p.Timing.BRP)
	assert.Len(t, p.Options(), 1)
}

func TestLoadProfileDefaults(t *testing.T) {
	p, err := LoadProfile([]byte(""))
	assert.NoError(t, err)
	assert.Equal(t, BoschCCan, p.Variant)
	assert.Equal(t, Aligned16, p.Alignment)
	assert.False(t, p.HasTiming)
	assert.Empty(t, p.Options())
}

func TestLoadProfileRejectsUnknownVariant(t *testing.T) {
	_, err := LoadProfile([]byte("[controller]\nvariant = mcan\n"))
	assert.ErrorIs(t, err, ErrIllegalArgument)
}

func TestLoadProfileRejectsBadTiming(t *testing.T) {
	_, err := LoadProfile([]byte("[bittiming]\nsjw = 9\n"))
	assert.ErrorIs(t, err, ErrIllegalTiming)
}
