package cmm

import (
	"fmt"
	"sync"

	"github.com/wudi/colorkit/format"
)

// junction connects two adjacent profiles of a transform through the PCS.
type junction struct {
	src, dst deviceModel
	intent   Intent
	bpc      *blackPointScale
	absolute bool
	srcWhite [3]float64
	dstWhite [3]float64
}

func (j *junction) pcs(dev []float64) [3]float64 {
	xyz := j.src.toXYZ(dev)
	if j.absolute {
		for i := range xyz {
			xyz[i] *= j.srcWhite[i] / j.dstWhite[i]
		}
	}
	if j.bpc != nil {
		xyz = j.bpc.apply(xyz)
	}
	return xyz
}

type transform struct {
	in, out   *pixelCodec
	junctions []*junction
	kOnly     *kOnlyRamp
	tolerance float64
	labIn     bool
	labOut    bool
	memo      bool

	mu    sync.Mutex
	clamp *clampCache
}

func (e *Engine) buildTransform(profiles []*engineProfile, inFmt, outFmt format.Code, intent Intent, flags Flags) (*transform, error) {
	in, err := newPixelCodec(inFmt)
	if err != nil {
		return nil, err
	}
	out, err := newPixelCodec(outFmt)
	if err != nil {
		return nil, err
	}
	first, last := profiles[0], profiles[len(profiles)-1]
	if n := spaceChannels(first.space()); n != in.colors {
		return nil, fmt.Errorf("cmm: input format %s has %d channels, profile space %q has %d", inFmt, in.colors, first.space(), n)
	}
	if n := spaceChannels(last.space()); n != out.colors {
		return nil, fmt.Errorf("cmm: output format %s has %d channels, profile space %q has %d", outFmt, out.colors, last.space(), n)
	}

	t := &transform{
		in:        in,
		out:       out,
		tolerance: e.cfg.NeutralTolerance,
		labIn:     inFmt.PixelType() == format.PixelTypeLab,
		labOut:    outFmt.PixelType() == format.PixelTypeLab,
		memo:      !flags.Has(FlagNoCache),
	}
	bpc := flags.Has(FlagBlackPointCompensation)
	scaleEnds := flags.Has(FlagMultiprofileBlackpointScaling) && len(profiles) > 2

	var firstModel deviceModel
	for i := 0; i+1 < len(profiles); i++ {
		final := i+2 == len(profiles)
		ji := IntentRelativeColorimetric
		if final {
			ji = intent
		}
		mi := ji
		if mi == IntentKOnlyGCR {
			mi = IntentRelativeColorimetric
		}
		src, err := profiles[i].model(mi, e.srgb)
		if err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		dst, err := profiles[i+1].model(mi, e.srgb)
		if err != nil {
			return nil, fmt.Errorf("profile %d: %w", i+1, err)
		}
		if i == 0 {
			firstModel = src
		}
		j := &junction{src: src, dst: dst, intent: ji}
		if ji == IntentAbsoluteColorimetric {
			j.absolute = true
			j.srcWhite = profiles[i].whitePoint()
			j.dstWhite = profiles[i+1].whitePoint()
		} else if bpc && (!scaleEnds || final) {
			from := src
			if scaleEnds {
				from = firstModel
			}
			s := newBlackPointScale(blackPoint(from)[1], blackPoint(dst)[1])
			if !s.identity() {
				j.bpc = &s
			}
		}
		t.junctions = append(t.junctions, j)
	}

	if intent == IntentKOnlyGCR && last.space() == "CMYK" {
		t.kOnly = newKOnlyRamp(t.junctions[len(t.junctions)-1].dst)
	}
	return t, nil
}

// eval maps the color part of one pixel through every junction.
func (t *transform) eval(dev []float64) []float64 {
	for idx, j := range t.junctions {
		xyz := j.pcs(dev)
		if t.kOnly != nil && idx == len(t.junctions)-1 {
			lab := XYZToLab(xyz)
			if Chroma(lab) <= t.tolerance {
				dev = []float64{0, 0, 0, t.kOnly.lookup(lab[0])}
				continue
			}
		}
		dev = j.dst.fromXYZ(xyz)
	}
	return dev
}

func (t *transform) run(in, out []byte, pixelCount int) error {
	if pixelCount < 0 {
		return fmt.Errorf("cmm: negative pixel count %d", pixelCount)
	}
	if err := t.in.checkBuffer(in, pixelCount, "input"); err != nil {
		return err
	}
	if err := t.out.checkBuffer(out, pixelCount, "output"); err != nil {
		return err
	}

	inBPP, outBPP := t.in.bytesPerPixel(), t.out.bytesPerPixel()
	var memo map[uint32][]byte
	if t.memo && t.in.bps == 1 && !t.in.planar && !t.out.planar && inBPP <= 4 {
		memo = make(map[uint32][]byte)
	}

	src := make([]float64, t.in.total)
	dst := make([]float64, t.out.total)
	for i := 0; i < pixelCount; i++ {
		var key uint32
		if memo != nil {
			for _, b := range in[i*inBPP : (i+1)*inBPP] {
				key = key<<8 | uint32(b)
			}
			if cached, ok := memo[key]; ok {
				copy(out[i*outBPP:], cached)
				continue
			}
		}
		t.in.read(in, i, pixelCount, src)
		t.pixel(src, dst)
		t.out.write(out, i, pixelCount, dst)
		if memo != nil && len(memo) < 1<<16 {
			memo[key] = append([]byte(nil), out[i*outBPP:(i+1)*outBPP]...)
		}
	}
	return nil
}

// pixel converts one decoded pixel, handling the Lab mask sentinel and
// extra channels.
func (t *transform) pixel(src, dst []float64) {
	colors := src[:t.in.colors]
	if t.labIn && isLabSentinel(colors) {
		if t.labOut {
			copy(dst, labSentinel[:])
			t.extras(src, dst)
			return
		}
		colors = []float64{0, 0, 0}
	}
	copy(dst, t.eval(colors))
	t.extras(src, dst)
}

func (t *transform) extras(src, dst []float64) {
	for k := t.out.colors; k < t.out.total; k++ {
		ik := t.in.colors + (k - t.out.colors)
		if ik < t.in.total {
			dst[k] = src[ik]
		} else {
			dst[k] = 1
		}
	}
}

var labSentinel = [3]float64{0, -128, -128}

// isLabSentinel reports Lab 0/-128/-128, the all-zero integer encoding
// used to mark masked pixels.
func isLabSentinel(lab []float64) bool {
	return len(lab) >= 3 && lab[0] == 0 && lab[1] == -128 && lab[2] == -128
}

// kOnlyRamp maps L* to the K-only ink amount reproducing it.
type kOnlyRamp struct {
	l []float64 // L* for k = i/(len-1)
}

const kOnlyRampSize = 256

func newKOnlyRamp(m deviceModel) *kOnlyRamp {
	r := &kOnlyRamp{l: make([]float64, kOnlyRampSize)}
	for i := range r.l {
		k := float64(i) / float64(kOnlyRampSize-1)
		r.l[i] = XYZToLab(m.toXYZ([]float64{0, 0, 0, k}))[0]
	}
	return r
}

func (r *kOnlyRamp) lookup(lightness float64) float64 {
	n := len(r.l)
	if lightness >= r.l[0] {
		return 0
	}
	if lightness <= r.l[n-1] {
		return 1
	}
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if r.l[mid] > lightness {
			lo = mid
		} else {
			hi = mid
		}
	}
	span := r.l[lo] - r.l[hi]
	frac := 0.0
	if span > 0 {
		frac = (r.l[lo] - lightness) / span
	}
	return (float64(lo) + frac) / float64(n-1)
}
