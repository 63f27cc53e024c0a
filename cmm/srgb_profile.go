package cmm

import (
	"errors"
	"sync"
)

// D50-adapted sRGB primaries and the IEC 61966-2-1 transfer curve.
var (
	srgbRed   = [3]float64{0.4360747, 0.2225045, 0.0139322}
	srgbGreen = [3]float64{0.3850649, 0.7168786, 0.0971045}
	srgbBlue  = [3]float64{0.1430804, 0.0606169, 0.7141733}
	srgbCurve = []float64{2.4, 1 / 1.055, 0.055 / 1.055, 1 / 12.92, 0.04045}
)

var srgbProfileBytes = sync.OnceValue(func() []byte {
	trc := ParametricTagData(3, srgbCurve...)
	return NewProfileBuilder("mntr", "RGB ", "XYZ ").
		Tag("desc", TextTagData("sRGB IEC61966-2.1")).
		Tag("wtpt", XYZTagData(D50X, D50Y, D50Z)).
		Tag("rXYZ", XYZTagData(srgbRed[0], srgbRed[1], srgbRed[2])).
		Tag("gXYZ", XYZTagData(srgbGreen[0], srgbGreen[1], srgbGreen[2])).
		Tag("bXYZ", XYZTagData(srgbBlue[0], srgbBlue[1], srgbBlue[2])).
		Tag("rTRC", trc).
		Tag("gTRC", trc).
		Tag("bTRC", trc).
		Bytes()
})

// SRGBProfile returns a copy of the built-in sRGB profile.
func SRGBProfile() ([]byte, error) {
	if !srgbAvailable {
		return nil, errors.New("cmm: built-in sRGB profile excluded by the strict build tag")
	}
	return append([]byte(nil), srgbProfileBytes()...), nil
}
