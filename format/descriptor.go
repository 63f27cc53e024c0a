// Package format resolves abstract pixel descriptions into packed engine
// format codes and back.
package format

import (
	"fmt"
	"strings"
)

// ColorSpace identifies the color model of a pixel buffer.
type ColorSpace string

const (
	Gray ColorSpace = "Gray"
	RGB  ColorSpace = "RGB"
	CMYK ColorSpace = "CMYK"
	Lab  ColorSpace = "Lab"
)

// ParseColorSpace accepts the canonical names case-insensitively, plus the
// PDF device family names.
func ParseColorSpace(s string) (ColorSpace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gray", "grey", "devicegray":
		return Gray, nil
	case "rgb", "devicergb", "srgb":
		return RGB, nil
	case "cmyk", "devicecmyk":
		return CMYK, nil
	case "lab":
		return Lab, nil
	}
	return "", fmt.Errorf("unknown color space %q", s)
}

// Channels returns the number of color channels.
func (c ColorSpace) Channels() int {
	switch c {
	case Gray:
		return 1
	case RGB, Lab:
		return 3
	case CMYK:
		return 4
	}
	return 0
}

// PixelType returns the engine pixel type for c.
func (c ColorSpace) PixelType() uint32 {
	switch c {
	case Gray:
		return PixelTypeGray
	case RGB:
		return PixelTypeRGB
	case CMYK:
		return PixelTypeCMYK
	case Lab:
		return PixelTypeLab
	}
	return 0
}

// Endianness of 16-bit sample storage.
type Endianness string

const (
	EndianUnspecified Endianness = ""
	EndianNative      Endianness = "native"
	EndianBig         Endianness = "big"
	EndianLittle      Endianness = "little"
)

// Layout of channels in memory.
type Layout string

const (
	Packed Layout = "packed"
	Planar Layout = "planar"
)

// ChannelOrder describes how color channels are ordered relative to the
// color space's natural order.
type ChannelOrder string

const (
	OrderNatural  ChannelOrder = "natural"  // RGB, CMYK
	OrderReversed ChannelOrder = "reversed" // BGR, KYMC
	OrderRotated  ChannelOrder = "rotated"  // KCMY: first channel moved last
)

// Descriptor is the abstract description of one side of a conversion.
type Descriptor struct {
	ColorSpace       ColorSpace
	BitsPerComponent int
	Endianness       Endianness
	Layout           Layout
	ChannelOrder     ChannelOrder
	HasAlpha         bool
	AlphaFirst       bool
}

// Normalize fills defaults and drops fields that carry no meaning for the
// descriptor's bit depth, so equal formats compare equal.
func (d Descriptor) Normalize() Descriptor {
	if d.Layout == "" {
		d.Layout = Packed
	}
	if d.ChannelOrder == "" {
		d.ChannelOrder = OrderNatural
	}
	if d.BitsPerComponent != 16 {
		d.Endianness = EndianUnspecified
	}
	if !d.HasAlpha {
		d.AlphaFirst = false
	}
	return d
}

// Channels returns the color channel count.
func (d Descriptor) Channels() int { return d.ColorSpace.Channels() }

// Side selects the input or output half of Options.
type Side int

const (
	InputSide Side = iota
	OutputSide
)

func (s Side) String() string {
	if s == InputSide {
		return "input"
	}
	return "output"
}

// Options carries shared and side-specific pixel settings. Side-specific
// fields win over shared ones.
type Options struct {
	InputColorSpace  ColorSpace
	OutputColorSpace ColorSpace

	BitsPerComponent       int
	InputBitsPerComponent  int
	OutputBitsPerComponent int

	Endianness       Endianness
	InputEndianness  Endianness
	OutputEndianness Endianness

	Layout       Layout
	InputLayout  Layout
	OutputLayout Layout

	ChannelOrder       ChannelOrder
	InputChannelOrder  ChannelOrder
	OutputChannelOrder ChannelOrder

	InputHasAlpha    bool
	InputAlphaFirst  bool
	OutputHasAlpha   bool
	OutputAlphaFirst bool
}

// Describe builds the descriptor for one side of opts.
func (o Options) Describe(side Side) Descriptor {
	if side == InputSide {
		return Descriptor{
			ColorSpace:       o.InputColorSpace,
			BitsPerComponent: firstInt(o.InputBitsPerComponent, o.BitsPerComponent),
			Endianness:       firstOf(o.InputEndianness, o.Endianness),
			Layout:           firstOf(o.InputLayout, o.Layout),
			ChannelOrder:     firstOf(o.InputChannelOrder, o.ChannelOrder),
			HasAlpha:         o.InputHasAlpha,
			AlphaFirst:       o.InputAlphaFirst,
		}
	}
	return Descriptor{
		ColorSpace:       o.OutputColorSpace,
		BitsPerComponent: firstInt(o.OutputBitsPerComponent, o.BitsPerComponent),
		Endianness:       firstOf(o.OutputEndianness, o.Endianness),
		Layout:           firstOf(o.OutputLayout, o.Layout),
		ChannelOrder:     firstOf(o.OutputChannelOrder, o.ChannelOrder),
		HasAlpha:         o.OutputHasAlpha,
		AlphaFirst:       o.OutputAlphaFirst,
	}
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstOf[T ~string](a, b T) T {
	if a != "" {
		return a
	}
	return b
}
