package format

import (
	"errors"
	"testing"

	"github.com/wudi/colorkit/colorerr"
)

var allSpaces = []ColorSpace{Gray, RGB, CMYK, Lab}

func TestRoundTrip(t *testing.T) {
	for _, engine := range []Endianness{EndianLittle, EndianBig} {
		r := NewResolver(engine, nil)
		for _, cs := range allSpaces {
			for _, bits := range []int{8, 16, 32} {
				endians := []Endianness{EndianUnspecified}
				if bits == 16 {
					endians = []Endianness{EndianBig, EndianLittle}
				}
				for _, e := range endians {
					for _, layout := range []Layout{Packed, Planar} {
						for _, order := range []ChannelOrder{OrderNatural, OrderReversed} {
							for _, alpha := range []bool{false, true} {
								for _, first := range []bool{false, true} {
									d := Descriptor{
										ColorSpace:       cs,
										BitsPerComponent: bits,
										Endianness:       e,
										Layout:           layout,
										ChannelOrder:     order,
										HasAlpha:         alpha,
										AlphaFirst:       first && alpha,
									}
									code, err := r.Resolve(d)
									if err != nil {
										t.Fatalf("Resolve(%+v): %v", d, err)
									}
									got := Decode(code, engine)
									if got != d.Normalize() {
										t.Errorf("engine %s: Decode(Resolve(%+v)) = %+v (code %s)", engine, d, got, code)
									}
								}
							}
						}
					}
				}
			}
		}
	}
}

func TestRoundTripRotated(t *testing.T) {
	r := NewResolver(EndianLittle, nil)
	d := Descriptor{ColorSpace: CMYK, BitsPerComponent: 8, ChannelOrder: OrderRotated}
	code, err := r.Resolve(d)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !code.SwapFirst() || code.DoSwap() {
		t.Fatalf("expected KCMY layout, got %s", code)
	}
	if got := Decode(code, EndianLittle); got != d.Normalize() {
		t.Fatalf("got %+v", got)
	}
	if _, err := r.Resolve(Descriptor{ColorSpace: RGB, BitsPerComponent: 8, ChannelOrder: OrderRotated, HasAlpha: true}); err == nil {
		t.Fatalf("expected error for rotated order with alpha")
	}
}

func TestSwapInvariant(t *testing.T) {
	for _, engine := range []Endianness{EndianLittle, EndianBig} {
		r := NewResolver(engine, nil)
		for _, cs := range allSpaces {
			for _, e := range []Endianness{EndianBig, EndianLittle} {
				code, err := r.Resolve(Descriptor{ColorSpace: cs, BitsPerComponent: 16, Endianness: e})
				if err != nil {
					t.Fatalf("Resolve: %v", err)
				}
				if code.Swapped() != (e != engine) {
					t.Errorf("engine %s buffer %s: swapped=%v", engine, e, code.Swapped())
				}
			}
			for _, bits := range []int{8, 32} {
				for _, e := range []Endianness{EndianUnspecified, EndianBig, EndianLittle} {
					code, err := r.Resolve(Descriptor{ColorSpace: cs, BitsPerComponent: bits, Endianness: e})
					if err != nil {
						t.Fatalf("Resolve: %v", err)
					}
					if code.Swapped() {
						t.Errorf("%s %d-bit with %q must never swap", cs, bits, e)
					}
				}
			}
		}
	}
}

func TestRGB16BigOnLittleEngine(t *testing.T) {
	r := NewResolver(EndianLittle, nil)
	big, err := r.ResolveInput(Options{InputColorSpace: RGB, BitsPerComponent: 16, Endianness: EndianBig})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if big != TypeRGB16SE {
		t.Fatalf("expected TYPE_RGB_16_SE, got %s", big)
	}
	little, err := r.ResolveInput(Options{InputColorSpace: RGB, BitsPerComponent: 16, Endianness: EndianLittle})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if little != TypeRGB16 {
		t.Fatalf("expected TYPE_RGB_16, got %s", little)
	}
}

func TestSideSpecificOverrides(t *testing.T) {
	r := NewResolver(EndianLittle, nil)
	opts := Options{
		InputColorSpace:        RGB,
		OutputColorSpace:       CMYK,
		BitsPerComponent:       8,
		OutputBitsPerComponent: 16,
		OutputEndianness:       EndianLittle,
	}
	in, err := r.ResolveInput(opts)
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	out, err := r.ResolveOutput(opts)
	if err != nil {
		t.Fatalf("ResolveOutput: %v", err)
	}
	if in != TypeRGB8 || out != TypeCMYK16 {
		t.Fatalf("got in=%s out=%s", in, out)
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver(EndianLittle, nil)
	tests := []struct {
		name string
		opts Options
	}{
		{"missing bit depth", Options{InputColorSpace: RGB}},
		{"16-bit without endianness", Options{InputColorSpace: RGB, BitsPerComponent: 16}},
		{"16-bit native", Options{InputColorSpace: RGB, BitsPerComponent: 16, Endianness: EndianNative}},
		{"unknown bit depth", Options{InputColorSpace: RGB, BitsPerComponent: 12}},
		{"missing color space", Options{BitsPerComponent: 8}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.ResolveInput(tc.opts)
			var ce *colorerr.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestTableMatchesConstruction(t *testing.T) {
	for key, code := range commonFormats {
		d := Descriptor{ColorSpace: key.cs, BitsPerComponent: key.bits, HasAlpha: key.alpha}.Normalize()
		if got := construct(d, key.swap); got != code {
			t.Errorf("%+v: table %s, constructed %s", key, code, got)
		}
	}
}

func TestUncommonLayouts(t *testing.T) {
	r := NewResolver(EndianLittle, nil)
	tests := []struct {
		d    Descriptor
		want Code
	}{
		{Descriptor{ColorSpace: RGB, BitsPerComponent: 8, ChannelOrder: OrderReversed}, TypeRGB8 | doSwapSH(1)},
		{Descriptor{ColorSpace: RGB, BitsPerComponent: 8, HasAlpha: true, AlphaFirst: true}, TypeRGBA8 | swapFirstSH(1)},
		{Descriptor{ColorSpace: RGB, BitsPerComponent: 8, HasAlpha: true, ChannelOrder: OrderReversed}, TypeRGBA8 | doSwapSH(1) | swapFirstSH(1)},
		{Descriptor{ColorSpace: CMYK, BitsPerComponent: 8, ChannelOrder: OrderReversed}, TypeCMYK8 | doSwapSH(1)},
		{Descriptor{ColorSpace: CMYK, BitsPerComponent: 16, Endianness: EndianBig, Layout: Planar}, TypeCMYK16SE | planarSH(1)},
	}
	for _, tc := range tests {
		got, err := r.Resolve(tc.d)
		if err != nil {
			t.Fatalf("Resolve(%+v): %v", tc.d, err)
		}
		if got != tc.want {
			t.Errorf("Resolve(%+v) = %s, want %s", tc.d, got, tc.want)
		}
	}
}

func TestCodeGeometry(t *testing.T) {
	if TypeRGBA16.BytesPerPixel() != 8 {
		t.Errorf("RGBA16 bytes per pixel = %d", TypeRGBA16.BytesPerPixel())
	}
	if TypeCMYKFloat.BytesPerSample() != 4 || !TypeCMYKFloat.IsFloat() {
		t.Errorf("CMYK float geometry wrong: %s", TypeCMYKFloat)
	}
	if TypeLab16SE.WithoutSwap() != TypeLab16 {
		t.Errorf("WithoutSwap did not clear flag")
	}
}
