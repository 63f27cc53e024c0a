package cmm

import (
	"fmt"
	"math"
)

// deviceModel converts between a profile's device values and D50 XYZ.
// Device values are normalized to [0,1], except Lab which uses actual
// L*, a*, b* values.
type deviceModel interface {
	channels() int
	toXYZ(dev []float64) [3]float64
	fromXYZ(xyz [3]float64) []float64
}

// blackPoint returns the XYZ of the model's darkest device value.
func blackPoint(m deviceModel) [3]float64 {
	switch mm := m.(type) {
	case labModel:
		return [3]float64{}
	case *approxModel:
		if mm.space == "CMYK" {
			return m.toXYZ([]float64{1, 1, 1, 1})
		}
	case *lutModel:
		if m.channels() == 4 {
			return m.toXYZ([]float64{1, 1, 1, 1})
		}
	}
	return m.toXYZ(make([]float64, m.channels()))
}

type labModel struct{}

func (labModel) channels() int { return 3 }

func (labModel) toXYZ(dev []float64) [3]float64 {
	return LabToXYZ([3]float64{dev[0], dev[1], dev[2]})
}

func (labModel) fromXYZ(xyz [3]float64) []float64 {
	lab := XYZToLab(xyz)
	return lab[:]
}

type matrixTRCModel struct {
	curves [3]*ToneCurve
	m, inv [9]float64
}

func newMatrixTRC(p *ICCProfile) (*matrixTRCModel, error) {
	var cols [3][3]float64
	var curves [3]*ToneCurve
	for i, c := range []string{"r", "g", "b"} {
		xyz, err := p.ReadXYZTag(c + "XYZ")
		if err != nil {
			return nil, err
		}
		curve, err := p.ReadCurveTag(c + "TRC")
		if err != nil {
			return nil, err
		}
		cols[i], curves[i] = xyz, curve
	}
	m := [9]float64{
		cols[0][0], cols[1][0], cols[2][0],
		cols[0][1], cols[1][1], cols[2][1],
		cols[0][2], cols[1][2], cols[2][2],
	}
	inv, err := invertMatrix(m)
	if err != nil {
		return nil, err
	}
	return &matrixTRCModel{curves: curves, m: m, inv: inv}, nil
}

func (t *matrixTRCModel) channels() int { return 3 }

func (t *matrixTRCModel) toXYZ(dev []float64) [3]float64 {
	return mulMatrix(t.m, [3]float64{
		t.curves[0].Eval(dev[0]),
		t.curves[1].Eval(dev[1]),
		t.curves[2].Eval(dev[2]),
	})
}

func (t *matrixTRCModel) fromXYZ(xyz [3]float64) []float64 {
	lin := mulMatrix(t.inv, xyz)
	return []float64{
		t.curves[0].Inverse(lin[0]),
		t.curves[1].Inverse(lin[1]),
		t.curves[2].Inverse(lin[2]),
	}
}

type grayTRCModel struct {
	curve *ToneCurve
}

func (g *grayTRCModel) channels() int { return 1 }

func (g *grayTRCModel) toXYZ(dev []float64) [3]float64 {
	y := g.curve.Eval(dev[0])
	return [3]float64{D50X * y, D50Y * y, D50Z * y}
}

func (g *grayTRCModel) fromXYZ(xyz [3]float64) []float64 {
	return []float64{g.curve.Inverse(xyz[1] / D50Y)}
}

// lutModel evaluates A2B/B2A tables, decoding the legacy PCS encodings.
type lutModel struct {
	a2b, b2a *LUT
	pcs      string
}

func (l *lutModel) channels() int { return l.a2b.InputChannels }

func (l *lutModel) toXYZ(dev []float64) [3]float64 {
	out, err := l.a2b.Convert(dev)
	if err != nil || len(out) < 3 {
		return [3]float64{}
	}
	if l.pcs == "Lab " {
		return LabToXYZ(decodeLabPCS(out, l.a2b.Precision))
	}
	return decodeXYZPCS(out)
}

func (l *lutModel) fromXYZ(xyz [3]float64) []float64 {
	var in []float64
	if l.pcs == "Lab " {
		in = encodeLabPCS(XYZToLab(xyz), l.b2a.Precision)
	} else {
		in = encodeXYZPCS(xyz)
	}
	out, err := l.b2a.Convert(in)
	if err != nil {
		return make([]float64, l.b2a.OutputChannels)
	}
	return out
}

const (
	xyzPCSMax   = 65535.0 / 32768.0
	labV2Factor = 65535.0 / 65280.0
)

func decodeLabPCS(v []float64, precision int) [3]float64 {
	f := 1.0
	if precision == 2 {
		f = labV2Factor
	}
	return [3]float64{v[0] * 100 * f, v[1]*255*f - 128, v[2]*255*f - 128}
}

func encodeLabPCS(lab [3]float64, precision int) []float64 {
	f := 1.0
	if precision == 2 {
		f = labV2Factor
	}
	return []float64{
		clamp01(lab[0] / (100 * f)),
		clamp01((lab[1] + 128) / (255 * f)),
		clamp01((lab[2] + 128) / (255 * f)),
	}
}

func decodeXYZPCS(v []float64) [3]float64 {
	return [3]float64{v[0] * xyzPCSMax, v[1] * xyzPCSMax, v[2] * xyzPCSMax}
}

func encodeXYZPCS(xyz [3]float64) []float64 {
	return []float64{clamp01(xyz[0] / xyzPCSMax), clamp01(xyz[1] / xyzPCSMax), clamp01(xyz[2] / xyzPCSMax)}
}

// approxModel stands in for device profiles that carry no usable transform
// tags. RGB and Gray follow the sRGB curves; CMYK uses an uncalibrated
// separation through sRGB.
type approxModel struct {
	space string
	srgb  *matrixTRCModel
}

func (a *approxModel) channels() int { return spaceChannels(a.space) }

func (a *approxModel) toXYZ(dev []float64) [3]float64 {
	switch a.space {
	case "GRAY":
		return a.srgb.toXYZ([]float64{dev[0], dev[0], dev[0]})
	case "CMYK":
		c, m, y, k := dev[0], dev[1], dev[2], dev[3]
		return a.srgb.toXYZ([]float64{(1 - c) * (1 - k), (1 - m) * (1 - k), (1 - y) * (1 - k)})
	}
	return a.srgb.toXYZ(dev)
}

func (a *approxModel) fromXYZ(xyz [3]float64) []float64 {
	rgb := a.srgb.fromXYZ(xyz)
	switch a.space {
	case "GRAY":
		return []float64{0.2126*rgb[0] + 0.7152*rgb[1] + 0.0722*rgb[2]}
	case "CMYK":
		r, g, b := rgb[0], rgb[1], rgb[2]
		k := 1 - math.Max(r, math.Max(g, b))
		out := []float64{0, 0, 0, k}
		if k < 1 {
			out[0] = (1 - r - k) / (1 - k)
			out[1] = (1 - g - k) / (1 - k)
			out[2] = (1 - b - k) / (1 - k)
		}
		return out
	}
	return rgb
}

func spaceChannels(sig string) int {
	switch sig {
	case "GRAY":
		return 1
	case "RGB ", "Lab ", "XYZ ":
		return 3
	case "CMYK":
		return 4
	}
	return 0
}

// lutTagFor picks the table for intent, falling back to tag 0.
func lutTagFor(prefix string, intent Intent) []string {
	switch intent {
	case IntentRelativeColorimetric, IntentAbsoluteColorimetric, IntentKOnlyGCR:
		return []string{prefix + "1", prefix + "0"}
	case IntentSaturation:
		return []string{prefix + "2", prefix + "0"}
	}
	return []string{prefix + "0"}
}

func readLUTPair(p *ICCProfile, intent Intent) (*lutModel, bool) {
	var a2b, b2a *LUT
	for _, sig := range lutTagFor("A2B", intent) {
		if l, err := p.ReadLUTTag(sig); err == nil {
			a2b = l
			break
		}
	}
	for _, sig := range lutTagFor("B2A", intent) {
		if l, err := p.ReadLUTTag(sig); err == nil {
			b2a = l
			break
		}
	}
	if a2b == nil || b2a == nil || a2b.OutputChannels < 3 || b2a.InputChannels != 3 {
		return nil, false
	}
	return &lutModel{a2b: a2b, b2a: b2a, pcs: p.PCS()}, true
}

// modelFor selects the device model for p under intent.
func modelFor(p *ICCProfile, intent Intent, srgb *matrixTRCModel) (deviceModel, error) {
	if p.ColorSpace() == "Lab " {
		return labModel{}, nil
	}
	switch p.ColorSpace() {
	case "GRAY", "RGB ", "CMYK":
	default:
		return nil, fmt.Errorf("icc: unsupported data color space %q", p.ColorSpace())
	}
	if m, ok := readLUTPair(p, intent); ok {
		return m, nil
	}
	switch p.ColorSpace() {
	case "RGB ":
		if m, err := newMatrixTRC(p); err == nil {
			return m, nil
		}
	case "GRAY":
		if c, err := p.ReadCurveTag("kTRC"); err == nil {
			return &grayTRCModel{curve: c}, nil
		}
	}
	return &approxModel{space: p.ColorSpace(), srgb: srgb}, nil
}
