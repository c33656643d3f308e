package ccan

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Profile is a controller configuration loaded from an ini file.
//
//	[controller]
//	variant   = ccan        ; ccan | dcan
//	alignment = 16          ; 16 | 32
//	loopback  = false
//	silent    = false
//
//	[bittiming]
//	sjw        = 2
//	prop_seg   = 2
//	phase_seg1 = 6
//	phase_seg2 = 4
//	brp        = 10
type Profile struct {
	Variant   Variant
	Alignment Alignment
	Loopback  bool
	Silent    bool

	Timing    BitTiming
	HasTiming bool
}

// LoadProfile reads and validates a profile. The source may be a path or
// raw file contents, anything ini.Load accepts.
func LoadProfile(source any) (*Profile, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, err
	}
	p := &Profile{}

	ctl := f.Section("controller")
	switch variant := ctl.Key("variant").MustString("ccan"); variant {
	case "ccan":
		p.Variant = BoschCCan
	case "dcan":
		p.Variant = BoschDCan
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrIllegalArgument, variant)
	}
	switch alignment := ctl.Key("alignment").MustInt(16); alignment {
	case 16:
		p.Alignment = Aligned16
	case 32:
		p.Alignment = Aligned32
	default:
		return nil, fmt.Errorf("%w: unknown alignment %d", ErrIllegalArgument, alignment)
	}
	p.Loopback = ctl.Key("loopback").MustBool(false)
	p.Silent = ctl.Key("silent").MustBool(false)

	if bt, err := f.GetSection("bittiming"); err == nil {
		p.Timing = BitTiming{
			SJW:       uint8(bt.Key("sjw").MustUint(1)),
			PropSeg:   uint8(bt.Key("prop_seg").MustUint(1)),
			PhaseSeg1: uint8(bt.Key("phase_seg1").MustUint(1)),
			PhaseSeg2: uint8(bt.Key("phase_seg2").MustUint(1)),
			BRP:       uint16(bt.Key("brp").MustUint(1)),
		}
		if err := p.Timing.Validate(); err != nil {
			return nil, err
		}
		p.HasTiming = true
	}
	return p, nil
}

// Options maps the profile's mode flags onto controller options.
func (p *Profile) Options() []Option {
	var opts []Option
	if p.Loopback {
		opts = append(opts, WithLoopback())
	}
	if p.Silent {
		opts = append(opts, WithSilent())
	}
	return opts
}
