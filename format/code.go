package format

import "fmt"

// Code is a packed pixel format code. The bit layout matches the one the
// color engine consumes:
//
//	bits 0-2   bytes per sample (0 means 8-byte double, unused here)
//	bits 3-6   color channels
//	bits 7-9   extra (alpha) channels
//	bit  10    reversed channel order
//	bit  11    16-bit samples need an endian swap
//	bit  12    planar layout
//	bit  13    min-is-white flavor
//	bit  14    first channel moved last (alpha first, or rotated order)
//	bits 16-20 pixel type
//	bit  22    floating point samples
type Code uint32

const (
	shiftBytes      = 0
	shiftChannels   = 3
	shiftExtra      = 7
	shiftDoSwap     = 10
	shiftEndian16   = 11
	shiftPlanar     = 12
	shiftFlavor     = 13
	shiftSwapFirst  = 14
	shiftColorSpace = 16
	shiftFloat      = 22
)

// Pixel types understood by the engine.
const (
	PixelTypeGray uint32 = 3
	PixelTypeRGB  uint32 = 4
	PixelTypeCMYK uint32 = 6
	PixelTypeLab  uint32 = 10
)

func bytesSH(b uint32) Code      { return Code(b << shiftBytes) }
func channelsSH(c uint32) Code   { return Code(c << shiftChannels) }
func extraSH(e uint32) Code      { return Code(e << shiftExtra) }
func doSwapSH(e uint32) Code     { return Code(e << shiftDoSwap) }
func endian16SH(e uint32) Code   { return Code(e << shiftEndian16) }
func planarSH(p uint32) Code     { return Code(p << shiftPlanar) }
func swapFirstSH(s uint32) Code  { return Code(s << shiftSwapFirst) }
func colorSpaceSH(s uint32) Code { return Code(s << shiftColorSpace) }
func floatSH(f uint32) Code      { return Code(f << shiftFloat) }

func (c Code) Bytes() int        { return int(c & 7) }
func (c Code) Channels() int     { return int((c >> shiftChannels) & 15) }
func (c Code) Extra() int        { return int((c >> shiftExtra) & 7) }
func (c Code) DoSwap() bool      { return (c>>shiftDoSwap)&1 == 1 }
func (c Code) Swapped() bool     { return (c>>shiftEndian16)&1 == 1 }
func (c Code) Planar() bool      { return (c>>shiftPlanar)&1 == 1 }
func (c Code) Flavor() bool      { return (c>>shiftFlavor)&1 == 1 }
func (c Code) SwapFirst() bool   { return (c>>shiftSwapFirst)&1 == 1 }
func (c Code) PixelType() uint32 { return uint32((c >> shiftColorSpace) & 31) }
func (c Code) IsFloat() bool     { return (c>>shiftFloat)&1 == 1 }

// BytesPerSample returns the storage width of one sample.
func (c Code) BytesPerSample() int {
	if b := c.Bytes(); b != 0 {
		return b
	}
	return 8
}

// TotalChannels returns color plus extra channels.
func (c Code) TotalChannels() int { return c.Channels() + c.Extra() }

// BytesPerPixel returns the packed size of one pixel across all channels.
func (c Code) BytesPerPixel() int { return c.TotalChannels() * c.BytesPerSample() }

// WithoutSwap clears the endian swap flag.
func (c Code) WithoutSwap() Code { return c &^ endian16SH(1) }

// ColorSpace maps the pixel type back to a ColorSpace. Unknown types yield "".
func (c Code) ColorSpace() ColorSpace {
	switch c.PixelType() {
	case PixelTypeGray:
		return Gray
	case PixelTypeRGB:
		return RGB
	case PixelTypeCMYK:
		return CMYK
	case PixelTypeLab:
		return Lab
	}
	return ""
}

func (c Code) String() string {
	s := fmt.Sprintf("%s_%d", c.ColorSpace(), c.BytesPerSample()*8)
	if c.IsFloat() {
		s = fmt.Sprintf("%s_FLT", c.ColorSpace())
	}
	if c.Extra() > 0 {
		s += fmt.Sprintf("+%dx", c.Extra())
	}
	if c.DoSwap() {
		s += "_REV"
	}
	if c.SwapFirst() {
		s += "_SF"
	}
	if c.Planar() {
		s += "_PLANAR"
	}
	if c.Swapped() {
		s += "_SE"
	}
	return fmt.Sprintf("%s(0x%08x)", s, uint32(c))
}
