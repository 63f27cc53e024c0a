package cmm

import (
	"math"
	"testing"
)

func makeRGBProfile(gamma float64) []byte {
	return NewProfileBuilder("mntr", "RGB ", "XYZ ").
		Tag("desc", TextTagData("test rgb")).
		Tag("rXYZ", XYZTagData(1, 0, 0)).
		Tag("gXYZ", XYZTagData(0, 1, 0)).
		Tag("bXYZ", XYZTagData(0, 0, 1)).
		Tag("rTRC", GammaTagData(gamma)).
		Tag("gTRC", GammaTagData(gamma)).
		Tag("bTRC", GammaTagData(gamma)).
		Bytes()
}

func makeCMYKProfile() []byte {
	return NewProfileBuilder("prtr", "CMYK", "Lab ").Tag("desc", TextTagData("naive cmyk")).Bytes()
}

func TestICCProfileParse(t *testing.T) {
	p, err := ParseICCProfile(makeRGBProfile(1))
	if err != nil {
		t.Fatalf("ParseICCProfile failed: %v", err)
	}
	if p.Class() != "mntr" {
		t.Errorf("expected class 'mntr', got '%s'", p.Class())
	}
	if p.ColorSpace() != "RGB " {
		t.Errorf("expected color space 'RGB ', got '%s'", p.ColorSpace())
	}
	if p.PCS() != "XYZ " || p.Version() != 4 {
		t.Errorf("unexpected PCS %q version %d", p.PCS(), p.Version())
	}
	if got := p.Description(); got != "test rgb" {
		t.Errorf("description = %q", got)
	}
	if len(p.TagSignatures()) != 7 {
		t.Errorf("expected 7 tags, got %v", p.TagSignatures())
	}
	xyz, err := p.ReadXYZTag("gXYZ")
	if err != nil || xyz != [3]float64{0, 1, 0} {
		t.Errorf("gXYZ = %v, %v", xyz, err)
	}
}

func TestICCProfileRejectsGarbage(t *testing.T) {
	if _, err := ParseICCProfile(make([]byte, 64)); err == nil {
		t.Errorf("expected error for short data")
	}
	data := makeRGBProfile(1)
	data[36] = 'x'
	if _, err := ParseICCProfile(data); err == nil {
		t.Errorf("expected error for bad signature")
	}
	data = makeRGBProfile(1)
	data[131] = 200 // tag count far beyond the buffer
	if _, err := ParseICCProfile(data); err == nil {
		t.Errorf("expected error for truncated tag table")
	}
}

func TestParametricCurveInverse(t *testing.T) {
	c := newParametric(3, append(append([]float64(nil), srgbCurve...), 0, 0))
	for _, x := range []float64{0, 0.002, 0.04, 0.2, 0.5, 0.9, 1} {
		y := c.Eval(x)
		if back := c.Inverse(y); math.Abs(back-x) > 1e-6 {
			t.Errorf("Inverse(Eval(%v)) = %v", x, back)
		}
	}
	if y := c.Eval(0.5); math.Abs(y-0.214) > 0.001 {
		t.Errorf("sRGB curve at 0.5 = %v", y)
	}
}

func TestSampledCurveInverse(t *testing.T) {
	c := &ToneCurve{kind: curveTable, table: []float64{0, 0.1, 0.4, 1}}
	for _, x := range []float64{0, 0.25, 0.5, 0.8} {
		if back := c.Inverse(c.Eval(x)); math.Abs(back-x) > 1e-6 {
			t.Errorf("Inverse(Eval(%v)) = %v", x, back)
		}
	}
}

func TestLabXYZRoundTrip(t *testing.T) {
	for _, lab := range [][3]float64{{0, 0, 0}, {50, 20, -30}, {100, 0, 0}, {5, -10, 10}} {
		back := XYZToLab(LabToXYZ(lab))
		for i := range lab {
			if math.Abs(back[i]-lab[i]) > 1e-9 {
				t.Fatalf("round trip of %v gave %v", lab, back)
			}
		}
	}
}
