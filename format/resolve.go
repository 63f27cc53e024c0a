package format

import (
	"encoding/binary"

	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/observability"
)

// HostEndianness reports the byte order of the running process.
func HostEndianness() Endianness {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return EndianLittle
	}
	return EndianBig
}

// Resolver turns descriptors into format codes for an engine with a given
// memory endianness. The swap decision made in Resolve is the only place the
// endian16 bit is ever set.
type Resolver struct {
	engine Endianness
	logger observability.Logger
}

// NewResolver returns a resolver for an engine storing 16-bit samples in
// engineEndianness. Native or unspecified values mean the host byte order.
func NewResolver(engineEndianness Endianness, logger observability.Logger) *Resolver {
	if engineEndianness != EndianBig && engineEndianness != EndianLittle {
		engineEndianness = HostEndianness()
	}
	return &Resolver{engine: engineEndianness, logger: observability.OrNop(logger)}
}

// EngineEndianness returns the memory endianness swap decisions compare against.
func (r *Resolver) EngineEndianness() Endianness { return r.engine }

// ResolveInput resolves the input side of opts.
func (r *Resolver) ResolveInput(opts Options) (Code, error) {
	return r.resolveSide(opts, InputSide)
}

// ResolveOutput resolves the output side of opts.
func (r *Resolver) ResolveOutput(opts Options) (Code, error) {
	return r.resolveSide(opts, OutputSide)
}

func (r *Resolver) resolveSide(opts Options, side Side) (Code, error) {
	d := opts.Describe(side)
	if d.BitsPerComponent == 0 {
		return 0, colorerr.Configf(side.String()+"BitsPerComponent",
			"neither %sBitsPerComponent nor bitsPerComponent is set", side)
	}
	code, err := r.Resolve(d)
	if err != nil {
		return 0, err
	}
	return code, nil
}

// NeedsSwap reports whether 16-bit samples stored in buffer order must be
// byte-swapped for the engine.
func (r *Resolver) NeedsSwap(buffer Endianness) bool {
	return buffer != r.engine
}

// Resolve maps a descriptor to its format code.
func (r *Resolver) Resolve(d Descriptor) (Code, error) {
	if d.ColorSpace.Channels() == 0 {
		return 0, colorerr.Configf("colorSpace", "unsupported color space %q", d.ColorSpace)
	}
	swap := false
	switch d.BitsPerComponent {
	case 8:
	case 16:
		switch d.Endianness {
		case EndianBig, EndianLittle:
			swap = r.NeedsSwap(d.Endianness)
		case EndianUnspecified:
			return 0, colorerr.Configf("endianness", "16-bit %s data requires an explicit endianness", d.ColorSpace)
		default:
			return 0, colorerr.Configf("endianness", "16-bit %s data requires big or little endianness, got %q", d.ColorSpace, d.Endianness)
		}
	case 32:
		if d.Endianness != EndianUnspecified {
			r.logger.Warn("endianness ignored for 32-bit float samples",
				observability.String("colorSpace", string(d.ColorSpace)),
				observability.String("endianness", string(d.Endianness)))
		}
	default:
		return 0, colorerr.Configf("bitsPerComponent", "unsupported bit depth %d", d.BitsPerComponent)
	}

	d = d.Normalize()
	if d.ChannelOrder == OrderRotated && (d.HasAlpha || d.ColorSpace.Channels() < 2) {
		return 0, colorerr.Configf("channelOrder", "rotated order requires at least two color channels and no alpha")
	}

	key := tableKey{cs: d.ColorSpace, bits: d.BitsPerComponent, alpha: d.HasAlpha, swap: swap}
	if d.Layout == Packed && d.ChannelOrder == OrderNatural && !d.AlphaFirst {
		if code, ok := commonFormats[key]; ok {
			return code, nil
		}
	}
	return construct(d, swap), nil
}

// construct builds a code from its parts; used for layouts the table does not carry.
func construct(d Descriptor, swap bool) Code {
	code := colorSpaceSH(d.ColorSpace.PixelType()) | channelsSH(uint32(d.ColorSpace.Channels()))
	switch d.BitsPerComponent {
	case 8:
		code |= bytesSH(1)
	case 16:
		code |= bytesSH(2)
	case 32:
		code |= bytesSH(4) | floatSH(1)
	}
	if swap {
		code |= endian16SH(1)
	}
	if d.HasAlpha {
		code |= extraSH(1)
	}
	if d.Layout == Planar {
		code |= planarSH(1)
	}
	switch d.ChannelOrder {
	case OrderReversed:
		code |= doSwapSH(1)
		if d.HasAlpha && !d.AlphaFirst {
			code |= swapFirstSH(1) // BGRA
		}
	case OrderRotated:
		code |= swapFirstSH(1) // KCMY
	default:
		if d.HasAlpha && d.AlphaFirst {
			code |= swapFirstSH(1) // ARGB
		}
	}
	return code
}

// Decode reverses Resolve for a code produced against engineEndianness.
func Decode(code Code, engineEndianness Endianness) Descriptor {
	if engineEndianness != EndianBig && engineEndianness != EndianLittle {
		engineEndianness = HostEndianness()
	}
	d := Descriptor{
		ColorSpace: code.ColorSpace(),
		Layout:     Packed,
		HasAlpha:   code.Extra() > 0,
	}
	switch {
	case code.IsFloat():
		d.BitsPerComponent = 32
	case code.Bytes() == 2:
		d.BitsPerComponent = 16
		d.Endianness = engineEndianness
		if code.Swapped() {
			d.Endianness = opposite(engineEndianness)
		}
	default:
		d.BitsPerComponent = code.Bytes() * 8
	}
	if code.Planar() {
		d.Layout = Planar
	}
	switch {
	case code.DoSwap():
		d.ChannelOrder = OrderReversed
		d.AlphaFirst = d.HasAlpha && !code.SwapFirst()
	case code.SwapFirst() && d.HasAlpha:
		d.ChannelOrder = OrderNatural
		d.AlphaFirst = true
	case code.SwapFirst():
		d.ChannelOrder = OrderRotated
	default:
		d.ChannelOrder = OrderNatural
	}
	return d.Normalize()
}

func opposite(e Endianness) Endianness {
	if e == EndianBig {
		return EndianLittle
	}
	return EndianBig
}
