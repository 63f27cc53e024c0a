package cmm

import (
	"errors"
	"math"
)

// D50 white point of the profile connection space.
const (
	D50X = 0.9642
	D50Y = 1.0000
	D50Z = 0.8249
)

var d50 = [3]float64{D50X, D50Y, D50Z}

// XYZToLab converts D50-relative XYZ to CIELab.
func XYZToLab(xyz [3]float64) [3]float64 {
	f := func(t float64) float64 {
		if t > 216.0/24389.0 {
			return math.Cbrt(t)
		}
		return (24389.0/27.0*t + 16) / 116
	}
	fx := f(xyz[0] / D50X)
	fy := f(xyz[1] / D50Y)
	fz := f(xyz[2] / D50Z)
	return [3]float64{116*fy - 16, 500 * (fx - fy), 200 * (fy - fz)}
}

// LabToXYZ converts CIELab to D50-relative XYZ.
func LabToXYZ(lab [3]float64) [3]float64 {
	fy := (lab[0] + 16) / 116
	fx := lab[1]/500 + fy
	fz := fy - lab[2]/200
	inv := func(t float64) float64 {
		if t > 6.0/29.0 {
			return t * t * t
		}
		return 108.0 / 841.0 * (t - 4.0/29.0)
	}
	return [3]float64{D50X * inv(fx), D50Y * inv(fy), D50Z * inv(fz)}
}

// Chroma returns the a*/b* magnitude of a Lab value.
func Chroma(lab [3]float64) float64 { return math.Hypot(lab[1], lab[2]) }

func mulMatrix(m [9]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

func invertMatrix(m [9]float64) ([9]float64, error) {
	a, b, c := m[0], m[1], m[2]
	d, e, f := m[3], m[4], m[5]
	g, h, i := m[6], m[7], m[8]

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if math.Abs(det) < 1e-10 {
		return [9]float64{}, errors.New("matrix is singular")
	}
	inv := 1 / det
	return [9]float64{
		(e*i - f*h) * inv, (c*h - b*i) * inv, (b*f - c*e) * inv,
		(f*g - d*i) * inv, (a*i - c*g) * inv, (c*d - a*f) * inv,
		(d*h - e*g) * inv, (g*b - a*h) * inv, (a*e - b*d) * inv,
	}, nil
}

// blackPointScale maps the source black point onto the destination black
// point in XYZ while keeping the white point fixed. Only luminance of the
// black points is used.
type blackPointScale struct {
	scale, offset float64
}

func newBlackPointScale(srcBlackY, dstBlackY float64) blackPointScale {
	if srcBlackY >= 1 {
		return blackPointScale{scale: 1}
	}
	s := (1 - dstBlackY) / (1 - srcBlackY)
	return blackPointScale{scale: s, offset: dstBlackY - srcBlackY*s}
}

func (b blackPointScale) apply(xyz [3]float64) [3]float64 {
	for i := range xyz {
		xyz[i] = xyz[i]*b.scale + d50[i]*b.offset
	}
	return xyz
}

func (b blackPointScale) identity() bool {
	return math.Abs(b.scale-1) < 1e-9 && math.Abs(b.offset) < 1e-9
}
