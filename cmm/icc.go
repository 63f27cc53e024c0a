package cmm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

const iccHeaderSize = 128

// ICCProfile is a parsed ICC profile: header fields plus the tag directory.
type ICCProfile struct {
	data    []byte
	version uint32
	class   string
	space   string
	pcs     string
	tags    map[string][]byte
}

// ParseICCProfile validates the header and tag table of data. The returned
// profile keeps a reference to data.
func ParseICCProfile(data []byte) (*ICCProfile, error) {
	if len(data) < iccHeaderSize+4 {
		return nil, fmt.Errorf("icc: profile too short (%d bytes)", len(data))
	}
	if string(data[36:40]) != "acsp" {
		return nil, errors.New("icc: missing acsp signature")
	}
	declared := binary.BigEndian.Uint32(data[0:4])
	if declared != 0 && int(declared) > len(data) {
		return nil, fmt.Errorf("icc: declared size %d exceeds buffer of %d bytes", declared, len(data))
	}
	p := &ICCProfile{
		data:    data,
		version: binary.BigEndian.Uint32(data[8:12]),
		class:   string(data[12:16]),
		space:   string(data[16:20]),
		pcs:     string(data[20:24]),
		tags:    make(map[string][]byte),
	}
	count := int(binary.BigEndian.Uint32(data[128:132]))
	if count < 0 || iccHeaderSize+4+count*12 > len(data) {
		return nil, fmt.Errorf("icc: tag table of %d entries truncated", count)
	}
	for i := 0; i < count; i++ {
		e := data[132+i*12 : 144+i*12]
		off := binary.BigEndian.Uint32(e[4:8])
		size := binary.BigEndian.Uint32(e[8:12])
		if uint64(off)+uint64(size) > uint64(len(data)) {
			return nil, fmt.Errorf("icc: tag %q out of bounds", string(e[0:4]))
		}
		p.tags[string(e[0:4])] = data[off : off+size]
	}
	return p, nil
}

// ColorSpace returns the data color space signature ("RGB ", "CMYK", ...).
func (p *ICCProfile) ColorSpace() string { return p.space }

// Class returns the profile class signature ("mntr", "prtr", ...).
func (p *ICCProfile) Class() string { return p.class }

// PCS returns the connection space signature, "XYZ " or "Lab ".
func (p *ICCProfile) PCS() string { return p.pcs }

// Version returns the major version number.
func (p *ICCProfile) Version() int { return int(p.version >> 24) }

func (p *ICCProfile) Data() []byte { return p.data }

// GetTag returns the raw tag data for sig.
func (p *ICCProfile) GetTag(sig string) ([]byte, bool) {
	d, ok := p.tags[sig]
	return d, ok
}

// TagSignatures lists tag signatures in sorted order.
func (p *ICCProfile) TagSignatures() []string {
	out := make([]string, 0, len(p.tags))
	for sig := range p.tags {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

// Description returns the ASCII part of the desc tag, if any.
func (p *ICCProfile) Description() string {
	d, ok := p.GetTag("desc")
	if !ok || len(d) < 12 {
		return ""
	}
	switch string(d[0:4]) {
	case "desc":
		n := int(binary.BigEndian.Uint32(d[8:12]))
		if n <= 0 || 12+n > len(d) {
			return ""
		}
		s := d[12 : 12+n]
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return string(s)
	case "mluc":
		if len(d) < 28 {
			return ""
		}
		size := int(binary.BigEndian.Uint32(d[20:24]))
		off := int(binary.BigEndian.Uint32(d[24:28]))
		if off+size > len(d) {
			return ""
		}
		r := make([]rune, 0, size/2)
		for i := off; i+1 < off+size; i += 2 {
			r = append(r, rune(binary.BigEndian.Uint16(d[i:i+2])))
		}
		return string(r)
	}
	return ""
}

// ReadXYZTag decodes an XYZType tag.
func (p *ICCProfile) ReadXYZTag(sig string) ([3]float64, error) {
	d, ok := p.GetTag(sig)
	if !ok {
		return [3]float64{}, fmt.Errorf("icc: tag %q not found", sig)
	}
	if len(d) < 20 || string(d[0:4]) != "XYZ " {
		return [3]float64{}, fmt.Errorf("icc: tag %q is not an XYZ tag", sig)
	}
	return [3]float64{
		s15Fixed16ToFloat(binary.BigEndian.Uint32(d[8:12])),
		s15Fixed16ToFloat(binary.BigEndian.Uint32(d[12:16])),
		s15Fixed16ToFloat(binary.BigEndian.Uint32(d[16:20])),
	}, nil
}

// MediaWhitePoint returns wtpt, or D50 when absent.
func (p *ICCProfile) MediaWhitePoint() [3]float64 {
	if w, err := p.ReadXYZTag("wtpt"); err == nil && w[1] > 0 {
		return w
	}
	return [3]float64{D50X, D50Y, D50Z}
}

// ReadCurveTag decodes a curv or para tag.
func (p *ICCProfile) ReadCurveTag(sig string) (*ToneCurve, error) {
	d, ok := p.GetTag(sig)
	if !ok {
		return nil, fmt.Errorf("icc: tag %q not found", sig)
	}
	return parseCurve(d)
}

func parseCurve(d []byte) (*ToneCurve, error) {
	if len(d) < 12 {
		return nil, errors.New("icc: curve tag too short")
	}
	switch string(d[0:4]) {
	case "curv":
		n := int(binary.BigEndian.Uint32(d[8:12]))
		switch {
		case n == 0:
			return &ToneCurve{kind: curveGamma, params: []float64{1}}, nil
		case n == 1:
			if len(d) < 14 {
				return nil, errors.New("icc: gamma curve truncated")
			}
			g := float64(binary.BigEndian.Uint16(d[12:14])) / 256
			return &ToneCurve{kind: curveGamma, params: []float64{g}}, nil
		}
		if len(d) < 12+2*n {
			return nil, errors.New("icc: sampled curve truncated")
		}
		table := make([]float64, n)
		for i := range table {
			table[i] = float64(binary.BigEndian.Uint16(d[12+2*i:])) / 65535
		}
		return &ToneCurve{kind: curveTable, table: table}, nil
	case "para":
		fn := binary.BigEndian.Uint16(d[8:10])
		counts := map[uint16]int{0: 1, 1: 3, 2: 4, 3: 5, 4: 7}
		n, ok := counts[fn]
		if !ok {
			return nil, fmt.Errorf("icc: unknown parametric function %d", fn)
		}
		if len(d) < 12+4*n {
			return nil, errors.New("icc: parametric curve truncated")
		}
		params := make([]float64, 7)
		for i := 0; i < n; i++ {
			params[i] = s15Fixed16ToFloat(binary.BigEndian.Uint32(d[12+4*i:]))
		}
		return newParametric(fn, params), nil
	}
	return nil, fmt.Errorf("icc: unsupported curve type %q", string(d[0:4]))
}

type curveKind int

const (
	curveGamma curveKind = iota
	curveTable
	curveParametric
)

// ToneCurve is a one-dimensional transfer function on [0,1].
type ToneCurve struct {
	kind   curveKind
	params []float64 // gamma: [g]; parametric: g a b c d e f
	table  []float64
}

// newParametric expands the ICC function types into the general
// seven-parameter form: Y = (aX+b)^g + e for X >= d, cX + f otherwise.
func newParametric(fn uint16, p []float64) *ToneCurve {
	g, a, b, c, d, e, f := p[0], p[1], p[2], p[3], p[4], p[5], p[6]
	switch fn {
	case 0:
		a, b, c, d, e, f = 1, 0, 0, 0, 0, 0
	case 1:
		// Y = (aX+b)^g for X >= -b/a, 0 otherwise
		d, c, e, f = -b/a, 0, 0, 0
	case 2:
		// p[3] is the offset c in the ICC numbering
		e, f = p[3], p[3]
		d, c = -b/a, 0
	case 3:
		e, f = 0, 0
	}
	return &ToneCurve{kind: curveParametric, params: []float64{g, a, b, c, d, e, f}}
}

// Eval maps x through the curve, clamping the input to [0,1].
func (c *ToneCurve) Eval(x float64) float64 {
	x = clamp01(x)
	switch c.kind {
	case curveGamma:
		return math.Pow(x, c.params[0])
	case curveTable:
		return interp1D(x, c.table)
	}
	g, a, b, cc, d, e, f := c.params[0], c.params[1], c.params[2], c.params[3], c.params[4], c.params[5], c.params[6]
	if x >= d {
		v := a*x + b
		if v < 0 {
			return e
		}
		return math.Pow(v, g) + e
	}
	return cc*x + f
}

// Inverse maps y back through the curve. Sampled curves are inverted by
// bisection, which assumes a monotonic increasing table.
func (c *ToneCurve) Inverse(y float64) float64 {
	y = clamp01(y)
	switch c.kind {
	case curveGamma:
		if c.params[0] == 0 {
			return y
		}
		return math.Pow(y, 1/c.params[0])
	case curveParametric:
		g, a, b, cc, d, e, f := c.params[0], c.params[1], c.params[2], c.params[3], c.params[4], c.params[5], c.params[6]
		knee := cc*d + f
		if y >= knee && a != 0 && g != 0 {
			v := y - e
			if v < 0 {
				v = 0
			}
			return clamp01((math.Pow(v, 1/g) - b) / a)
		}
		if cc != 0 {
			return clamp01((y - f) / cc)
		}
		return 0
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < 32; i++ {
		mid := (lo + hi) / 2
		if c.Eval(mid) < y {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func s15Fixed16ToFloat(v uint32) float64 {
	return float64(int32(v)) / 65536
}

func floatToS15Fixed16(f float64) uint32 {
	return uint32(int32(math.Round(f * 65536)))
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
