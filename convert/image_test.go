package convert

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/task"
)

func srgbIdentity(bits int) Options {
	return Options{
		Options: format.Options{
			InputColorSpace:  format.RGB,
			OutputColorSpace: format.RGB,
			BitsPerComponent: bits,
			Endianness:       format.HostEndianness(),
		},
		SourceProfile:      cmm.SRGBSource(),
		DestinationProfile: cmm.SRGBSource(),
		RenderingIntent:    cmm.IntentRelativeColorimetric,
	}
}

func TestConvertImageDownsamples(t *testing.T) {
	c := newConverter(t, newCounting(cmm.EngineConfig{}), Config{})
	src := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	res, err := c.ConvertImage(context.Background(), src, ImageOptions{Options: srgbIdentity(8), MaxDimension: 4})
	if err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}
	if res.Width != 4 || res.Height != 2 || res.PixelCount != 8 {
		t.Fatalf("geometry %dx%d pixels %d", res.Width, res.Height, res.PixelCount)
	}
	img, ok := res.Image().(*image.NRGBA)
	if !ok {
		t.Fatalf("Image() = %T", res.Image())
	}
	if c := img.NRGBAAt(3, 1); c.R < 250 || c.G < 250 || c.B < 250 || c.A != 255 {
		t.Errorf("pixel = %v", c)
	}
}

func TestConvertImageKeepsCMYKModel(t *testing.T) {
	c := newConverter(t, newCounting(cmm.EngineConfig{}), Config{})
	src := image.NewCMYK(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.CMYK{0, 0, 0, 255})
	opts := Options{
		Options:            format.Options{OutputColorSpace: format.RGB},
		SourceProfile:      cmm.BytesSource(cmykProfile()),
		DestinationProfile: cmm.SRGBSource(),
		RenderingIntent:    cmm.IntentRelativeColorimetric,
	}
	res, err := c.ConvertImage(context.Background(), src, ImageOptions{Options: opts})
	if err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}
	if res.InputFormat.ColorSpace() != format.CMYK || res.OutputChannels != 3 {
		t.Fatalf("formats %v -> %v", res.InputFormat, res.OutputFormat)
	}
	if res.Output[0] > 2 || res.Output[3] < 250 {
		t.Errorf("black and white pixels = %v", res.Output[:6])
	}
}

func TestConvertImageNil(t *testing.T) {
	c := newConverter(t, newCounting(cmm.EngineConfig{}), Config{})
	var cfgErr *colorerr.ConfigurationError
	if _, err := c.ConvertImage(context.Background(), nil, ImageOptions{}); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestTypedHelpers(t *testing.T) {
	c := newConverter(t, newCounting(cmm.EngineConfig{}), Config{})

	res, err := c.ConvertFloat32(context.Background(), []float32{1, 1, 1, 0, 0, 0}, srgbIdentity(32))
	if err != nil {
		t.Fatalf("ConvertFloat32: %v", err)
	}
	got := Float32s(res.Output)
	if res.PixelCount != 2 || len(got) != 6 || got[0] < 0.99 || got[5] > 0.01 {
		t.Errorf("float identity = %v (%d pixels)", got, res.PixelCount)
	}

	res, err = c.ConvertUint16(context.Background(), []uint16{65535, 65535, 65535}, srgbIdentity(16))
	if err != nil {
		t.Fatalf("ConvertUint16: %v", err)
	}
	if u := Uint16s(res.Output); len(u) != 3 || u[1] < 65000 {
		t.Errorf("uint16 identity = %v", u)
	}

	// Declared endianness cannot reinterpret host-order samples.
	foreign := srgbIdentity(16)
	foreign.Endianness = format.EndianBig
	if format.HostEndianness() == format.EndianBig {
		foreign.Endianness = format.EndianLittle
	}
	in := []uint16{0x1000, 0x8000, 0xc000}
	res, err = c.ConvertUint16(context.Background(), in, foreign)
	if err != nil {
		t.Fatalf("ConvertUint16 with foreign endianness: %v", err)
	}
	for i, v := range Uint16s(res.Output) {
		if d := int(v) - int(in[i]); d < -0x100 || d > 0x100 {
			t.Errorf("sample %d = %#04x, want %#04x", i, v, in[i])
		}
	}

	var cfgErr *colorerr.ConfigurationError
	if _, err := c.ConvertUint16(context.Background(), []uint16{1, 2, 3}, srgbIdentity(8)); !errors.As(err, &cfgErr) {
		t.Errorf("expected bit depth error, got %v", err)
	}
	if _, err := c.ConvertFloat32(context.Background(), []float32{1, 1}, srgbIdentity(32)); !errors.As(err, &cfgErr) {
		t.Errorf("expected channel multiple error, got %v", err)
	}
}

func TestPrepareTask(t *testing.T) {
	c := newConverter(t, newCounting(cmm.EngineConfig{}), Config{})
	base := rgbToCMYK()

	tsk := c.PrepareTask(TaskInput{Type: task.TypeTransform, Options: base, Pixels: []byte{1, 2, 3}})
	if tsk == nil {
		t.Fatal("expected a transform task")
	}
	if tsk.Source.Builtin != cmm.BuiltinSRGB || len(tsk.Destination.Data) == 0 || tsk.Format.InputColorSpace != format.RGB {
		t.Errorf("task = %+v", tsk)
	}

	bench := c.PrepareTask(TaskInput{Type: task.TypeBenchmark, Options: base, Pixels: []byte{1, 2, 3}})
	if bench == nil || bench.Iterations != 1 {
		t.Errorf("benchmark task = %+v", bench)
	}

	lab := labToCMYK(cmm.IntentPerceptual)
	if tsk := c.PrepareTask(TaskInput{Type: task.TypeTransform, Options: lab, Pixels: []byte{1, 2, 3}}); tsk == nil || tsk.Source.Builtin != cmm.BuiltinLab {
		t.Errorf("Lab source must become the built-in Lab profile: %+v", tsk)
	}

	noProfile := base
	noProfile.SourceProfile = cmm.ProfileSource{}
	extraFlags := base
	extraFlags.Flags = cmm.FlagNoCache
	clamp := base
	clamp.Flags = cmm.FlagBPCClamping

	tests := []struct {
		name string
		in   TaskInput
	}{
		{"unknown type", TaskInput{Type: "thumbnail", Options: base, Pixels: []byte{1}}},
		{"empty pixels", TaskInput{Type: task.TypeTransform, Options: base}},
		{"empty payload", TaskInput{Type: task.TypeImage, Options: base}},
		{"lab content stream", TaskInput{Type: task.TypeContentStream, Options: lab, Payload: []byte("1 g")}},
		{"missing profile", TaskInput{Type: task.TypeTransform, Options: noProfile, Pixels: []byte{1, 2, 3}}},
		{"extra flags", TaskInput{Type: task.TypeTransform, Options: extraFlags, Pixels: []byte{1, 2, 3}}},
	}
	for _, tt := range tests {
		if got := c.PrepareTask(tt.in); got != nil {
			t.Errorf("%s: expected nil, got %+v", tt.name, got)
		}
	}

	if tsk := c.PrepareTask(TaskInput{Type: task.TypeTransform, Options: clamp, Pixels: []byte{1, 2, 3}}); tsk == nil || !tsk.AdaptiveClamping {
		t.Errorf("clamping flag must map to AdaptiveClamping: %+v", tsk)
	}
}
