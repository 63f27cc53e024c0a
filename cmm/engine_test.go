package cmm

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/wudi/colorkit/format"
)

type fixture struct {
	e               *Engine
	lab, srgb, cmyk Handle
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()
	e := NewEngine(cfg)
	t.Cleanup(func() { e.Close() })
	lab, err := e.CreateLab4Profile()
	if err != nil {
		t.Fatalf("CreateLab4Profile: %v", err)
	}
	srgb, err := e.OpenProfileFromMem(srgbProfileBytes())
	if err != nil {
		t.Fatalf("open sRGB: %v", err)
	}
	cmyk, err := e.OpenProfileFromMem(makeCMYKProfile())
	if err != nil {
		t.Fatalf("open CMYK: %v", err)
	}
	return &fixture{e: e, lab: lab, srgb: srgb, cmyk: cmyk}
}

func (f *fixture) convert(t *testing.T, src Handle, inFmt format.Code, dst Handle, outFmt format.Code, intent Intent, flags Flags, in []byte) []byte {
	t.Helper()
	h, err := f.e.CreateTransform(src, inFmt, dst, outFmt, intent, flags)
	if err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	defer f.e.DeleteTransform(h)
	n := len(in) / inFmt.BytesPerPixel()
	out := make([]byte, n*outFmt.BytesPerPixel())
	if err := f.e.TransformBuffer(h, in, out, n); err != nil {
		t.Fatalf("TransformBuffer: %v", err)
	}
	return out
}

func near(a, b, tol int) bool {
	d := a - b
	return d >= -tol && d <= tol
}

func TestRGBToCMYKBoundaries(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	out := f.convert(t, f.srgb, format.TypeRGB8, f.cmyk, format.TypeCMYK8, IntentPerceptual, 0,
		[]byte{0, 0, 0, 255, 255, 255})
	want := []byte{0, 0, 0, 255, 0, 0, 0, 0}
	for i := range want {
		if !near(int(out[i]), int(want[i]), 1) {
			t.Fatalf("got %v, want %v", out, want)
		}
	}
}

func TestSRGBToLabWhite(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	out := f.convert(t, f.srgb, format.TypeRGB8, f.lab, format.TypeLabFloat, IntentRelativeColorimetric, 0,
		[]byte{255, 255, 255})
	lab := [3]float64{}
	for i := range lab {
		lab[i] = float64(math.Float32frombits(binary.NativeEndian.Uint32(out[i*4:])))
	}
	if math.Abs(lab[0]-100) > 0.1 || math.Abs(lab[1]) > 0.1 || math.Abs(lab[2]) > 0.1 {
		t.Errorf("sRGB white in Lab = %v", lab)
	}
}

func TestSwappedInputMatchesNative(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	host := f.e.MemoryEndianness()
	other := format.EndianBig
	if host == format.EndianBig {
		other = format.EndianLittle
	}
	r := format.NewResolver(host, nil)
	swapped, err := r.Resolve(format.Descriptor{ColorSpace: format.RGB, BitsPerComponent: 16, Endianness: other})
	if err != nil || !swapped.Swapped() {
		t.Fatalf("expected swapped code, got %s %v", swapped, err)
	}

	values := []uint16{1000, 30000, 65535, 0, 12345, 54321}
	nativeBuf := make([]byte, 12)
	swappedBuf := make([]byte, 12)
	for i, v := range values {
		binary.NativeEndian.PutUint16(nativeBuf[i*2:], v)
		swappedBuf[i*2], swappedBuf[i*2+1] = nativeBuf[i*2+1], nativeBuf[i*2]
	}
	a := f.convert(t, f.srgb, format.TypeRGB16, f.cmyk, format.TypeCMYK16, IntentPerceptual, 0, nativeBuf)
	b := f.convert(t, f.srgb, swapped, f.cmyk, format.TypeCMYK16, IntentPerceptual, 0, swappedBuf)
	if string(a) != string(b) {
		t.Fatalf("swapped input produced different output")
	}
}

func TestRGBIdentityPreservesAlphaAndLayout(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	in := []byte{10, 20, 30, 40, 200, 100, 50, 128}
	out := f.convert(t, f.srgb, format.TypeRGBA8, f.srgb, format.TypeRGBA8, IntentRelativeColorimetric, 0, in)
	for i := range in {
		if !near(int(out[i]), int(in[i]), 1) {
			t.Fatalf("identity transform changed %v into %v", in, out)
		}
	}

	r := format.NewResolver(f.e.MemoryEndianness(), nil)
	planar, _ := r.Resolve(format.Descriptor{ColorSpace: format.RGB, BitsPerComponent: 8, Layout: format.Planar})
	bgr, _ := r.Resolve(format.Descriptor{ColorSpace: format.RGB, BitsPerComponent: 8, ChannelOrder: format.OrderReversed})
	// two pixels: (10,20,30) and (200,100,50)
	planarIn := []byte{10, 200, 20, 100, 30, 50}
	got := f.convert(t, f.srgb, planar, f.srgb, bgr, IntentRelativeColorimetric, 0, planarIn)
	want := []byte{30, 20, 10, 50, 100, 200}
	for i := range want {
		if !near(int(got[i]), int(want[i]), 1) {
			t.Fatalf("planar to BGR gave %v, want %v", got, want)
		}
	}
}

func TestMultiprofileMatchesChain(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	in := []byte{
		128, 128, 128,
		200, 100, 160,
		60, 170, 90,
		255, 128, 128,
	}
	n := len(in) / 3

	native, err := f.e.CreateMultiprofileTransform([]Handle{f.lab, f.srgb, f.cmyk},
		format.TypeLab8, format.TypeCMYK8, IntentPerceptual, FlagBlackPointCompensation)
	if err != nil {
		t.Fatalf("CreateMultiprofileTransform: %v", err)
	}
	nativeOut := make([]byte, n*4)
	if err := f.e.TransformBuffer(native, in, nativeOut, n); err != nil {
		t.Fatalf("TransformBuffer: %v", err)
	}

	mid := f.convert(t, f.lab, format.TypeLab8, f.srgb, format.TypeRGBFloat, IntentRelativeColorimetric, FlagBlackPointCompensation, in)
	chained := f.convert(t, f.srgb, format.TypeRGBFloat, f.cmyk, format.TypeCMYK8, IntentPerceptual, FlagBlackPointCompensation, mid)
	for i := range nativeOut {
		if !near(int(nativeOut[i]), int(chained[i]), 1) {
			t.Fatalf("native %v differs from chained %v", nativeOut, chained)
		}
	}
}

func TestMultiprofileUnavailable(t *testing.T) {
	f := newFixture(t, EngineConfig{DisableMultiProfile: true})
	if f.e.Capabilities().MultiProfile {
		t.Fatalf("capability should be off")
	}
	_, err := f.e.CreateMultiprofileTransform([]Handle{f.lab, f.srgb, f.cmyk},
		format.TypeLab8, format.TypeCMYK8, IntentPerceptual, 0)
	if !errors.Is(err, ErrMultiProfileUnavailable) {
		t.Fatalf("expected ErrMultiProfileUnavailable, got %v", err)
	}
}

func TestTwoProfileMultiRequiresScalingFlag(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	if _, err := f.e.CreateMultiprofileTransform([]Handle{f.srgb, f.cmyk}, format.TypeRGB8, format.TypeCMYK8, IntentPerceptual, 0); err == nil {
		t.Errorf("expected error without scaling flag")
	}
	h, err := f.e.CreateMultiprofileTransform([]Handle{f.srgb, f.cmyk}, format.TypeRGB8, format.TypeCMYK8, IntentPerceptual,
		FlagBlackPointCompensation|FlagMultiprofileBlackpointScaling)
	if err != nil || h == 0 {
		t.Fatalf("two-profile multi transform with scaling flag: %v", err)
	}
}

func TestKOnlyGCRNeutrals(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	// Lab 50/0/0 and Lab 50/40/20
	in := []byte{128, 128, 128, 128, 168, 148}
	out := f.convert(t, f.lab, format.TypeLab8, f.cmyk, format.TypeCMYK8, IntentKOnlyGCR, 0, in)
	if out[0] != 0 || out[1] != 0 || out[2] != 0 {
		t.Errorf("neutral produced CMY ink: %v", out[:4])
	}
	if out[3] == 0 || out[3] == 255 {
		t.Errorf("neutral K out of range: %d", out[3])
	}
	if out[4] == 0 && out[5] == 0 && out[6] == 0 {
		t.Errorf("chromatic color collapsed to K only: %v", out[4:])
	}
}

func TestLabMaskSentinel(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	in := []byte{0, 0, 0, 128, 128, 128}

	labOut := f.convert(t, f.lab, format.TypeLab8, f.lab, format.TypeLab8, IntentRelativeColorimetric, 0, in)
	if labOut[0] != 0 || labOut[1] != 0 || labOut[2] != 0 {
		t.Errorf("Lab to Lab must pass the sentinel through, got %v", labOut[:3])
	}
	for i := 3; i < 6; i++ {
		if !near(int(labOut[i]), int(in[i]), 1) {
			t.Errorf("Lab identity changed %v into %v", in[3:], labOut[3:])
		}
	}

	rgbOut := f.convert(t, f.lab, format.TypeLab8, f.srgb, format.TypeRGB8, IntentRelativeColorimetric, 0, in)
	if rgbOut[0] != 0 || rgbOut[1] != 0 || rgbOut[2] != 0 {
		t.Errorf("sentinel must become neutral black, got %v", rgbOut[:3])
	}
}

func TestAdaptiveClamping(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	h, err := f.e.CreateTransform(f.srgb, format.TypeRGB8, f.cmyk, format.TypeCMYK8, IntentRelativeColorimetric, FlagBlackPointCompensation)
	if err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}

	small := []byte{0, 0, 0, 10, 20, 30}
	smallOut := make([]byte, 8)
	stats, err := f.e.TransformBufferAdaptive(h, small, smallOut, 2)
	if err != nil || !stats.Skipped || stats.Transformed != 2 {
		t.Fatalf("uninitialized transform: %+v %v", stats, err)
	}

	if !f.e.InitAdaptiveClamping(h, 3, 4) {
		t.Fatalf("InitAdaptiveClamping failed")
	}
	if f.e.InitAdaptiveClamping(h, 4, 4) {
		t.Errorf("channel mismatch must be rejected")
	}

	n := ClampingMinPixels
	in := make([]byte, n*3)
	for i := n / 2; i < n; i++ {
		in[i*3], in[i*3+1], in[i*3+2] = 255, 255, 255
	}
	in[(n-1)*3] = 10 // one ordinary pixel at the end
	out := make([]byte, n*4)
	stats, err = f.e.TransformBufferAdaptive(h, in, out, n)
	if err != nil {
		t.Fatalf("TransformBufferAdaptive: %v", err)
	}
	if stats.Skipped || stats.Minimum != n/2 || stats.Maximum != n/2-1 || stats.Transformed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if out[3] != 255 || out[(n/2)*4+3] != 0 {
		t.Errorf("boundary outputs wrong: black K=%d white K=%d", out[3], out[(n/2)*4+3])
	}

	in[0] = 7 // the leading sample is no longer pure boundary
	stats, err = f.e.TransformBufferAdaptive(h, in, out, n)
	if err != nil || !stats.Skipped || stats.Transformed != n {
		t.Fatalf("mixed content should skip clamping: %+v %v", stats, err)
	}
}

func TestEngineHandleErrors(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	if err := f.e.DeleteTransform(999); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := f.e.CreateTransform(f.srgb, format.TypeCMYK8, f.cmyk, format.TypeCMYK8, IntentPerceptual, 0); err == nil {
		t.Errorf("expected channel mismatch error")
	}
	if _, err := f.e.OpenProfileFromMem([]byte("not a profile")); err == nil {
		t.Errorf("expected parse error")
	}
	h, err := f.e.CreateTransform(f.srgb, format.TypeRGB8, f.cmyk, format.TypeCMYK8, IntentPerceptual, 0)
	if err != nil {
		t.Fatalf("CreateTransform: %v", err)
	}
	if err := f.e.TransformBuffer(h, make([]byte, 3), make([]byte, 3), 1); err == nil {
		t.Errorf("expected short output buffer error")
	}
	f.e.Close()
	if _, err := f.e.CreateLab4Profile(); err == nil {
		t.Errorf("expected error after Close")
	}
}

func TestParseIntent(t *testing.T) {
	i, err := ParseIntent("preserve-k-only-relative-colorimetric-gcr")
	if err != nil || i != IntentKOnlyGCR || uint32(i) != 20 {
		t.Fatalf("got %v %v", i, err)
	}
	if _, err := ParseIntent("vivid"); err == nil {
		t.Errorf("expected error for unknown intent")
	}
}
