package cmm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LUT is an mft1 or mft2 lookup table with values normalized to [0,1].
// Processing order: matrix (XYZ input only), input curves, CLUT, output curves.
type LUT struct {
	InputChannels  int
	OutputChannels int
	GridPoints     int
	Matrix         [9]float64
	InputTables    [][]float64
	CLUT           []float64
	OutputTables   [][]float64
	// Precision is 1 for mft1 and 2 for mft2; it selects the legacy PCS encoding.
	Precision int
	// UseMatrix is set when the LUT consumes XYZ.
	UseMatrix bool
}

// ReadLUTTag decodes an mft1/mft2 tag.
func (p *ICCProfile) ReadLUTTag(sig string) (*LUT, error) {
	data, ok := p.GetTag(sig)
	if !ok {
		return nil, fmt.Errorf("icc: tag %q not found", sig)
	}
	if len(data) < 8 {
		return nil, errors.New("icc: lut tag too short")
	}
	var lut *LUT
	var err error
	switch string(data[0:4]) {
	case "mft1":
		lut, err = parseMFT(data, 1)
	case "mft2":
		lut, err = parseMFT(data, 2)
	default:
		return nil, fmt.Errorf("icc: unsupported lut type %q", string(data[0:4]))
	}
	if err != nil {
		return nil, fmt.Errorf("icc: tag %q: %w", sig, err)
	}
	// B2A tables consume the PCS; the matrix only applies when that PCS is XYZ.
	lut.UseMatrix = len(sig) == 4 && sig[0] == 'B' && p.pcs == "XYZ "
	return lut, nil
}

func parseMFT(data []byte, width int) (*LUT, error) {
	if len(data) < 48 {
		return nil, errors.New("lut header truncated")
	}
	lut := &LUT{
		InputChannels:  int(data[8]),
		OutputChannels: int(data[9]),
		GridPoints:     int(data[10]),
		Precision:      width,
	}
	if lut.InputChannels == 0 || lut.OutputChannels == 0 || lut.GridPoints < 2 {
		return nil, errors.New("lut has empty dimensions")
	}
	for i := 0; i < 9; i++ {
		lut.Matrix[i] = s15Fixed16ToFloat(binary.BigEndian.Uint32(data[12+i*4:]))
	}
	inEntries, outEntries, off := 256, 256, 48
	if width == 2 {
		if len(data) < 52 {
			return nil, errors.New("lut header truncated")
		}
		inEntries = int(binary.BigEndian.Uint16(data[48:50]))
		outEntries = int(binary.BigEndian.Uint16(data[50:52]))
		off = 52
		if inEntries < 2 || outEntries < 2 {
			return nil, errors.New("lut curve tables too small")
		}
	}

	r := &sampleReader{data: data, off: off, width: width}
	lut.InputTables = r.tables(lut.InputChannels, inEntries)

	points := 1
	for i := 0; i < lut.InputChannels; i++ {
		points *= lut.GridPoints
	}
	lut.CLUT = r.samples(points * lut.OutputChannels)
	lut.OutputTables = r.tables(lut.OutputChannels, outEntries)
	if r.err != nil {
		return nil, r.err
	}
	return lut, nil
}

type sampleReader struct {
	data  []byte
	off   int
	width int
	err   error
}

func (r *sampleReader) samples(n int) []float64 {
	if r.err != nil {
		return nil
	}
	if r.off+n*r.width > len(r.data) {
		r.err = fmt.Errorf("lut truncated at offset %d", r.off)
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		if r.width == 1 {
			out[i] = float64(r.data[r.off]) / 255
		} else {
			out[i] = float64(binary.BigEndian.Uint16(r.data[r.off:])) / 65535
		}
		r.off += r.width
	}
	return out
}

func (r *sampleReader) tables(channels, entries int) [][]float64 {
	out := make([][]float64, channels)
	for c := range out {
		out[c] = r.samples(entries)
	}
	return out
}

// Convert evaluates the LUT on normalized input.
func (lut *LUT) Convert(in []float64) ([]float64, error) {
	if len(in) != lut.InputChannels {
		return nil, fmt.Errorf("lut expects %d channels, got %d", lut.InputChannels, len(in))
	}
	tmp := make([]float64, len(in))
	copy(tmp, in)
	if lut.UseMatrix && lut.InputChannels == 3 {
		m := lut.Matrix
		tmp[0], tmp[1], tmp[2] =
			clamp01(m[0]*in[0]+m[1]*in[1]+m[2]*in[2]),
			clamp01(m[3]*in[0]+m[4]*in[1]+m[5]*in[2]),
			clamp01(m[6]*in[0]+m[7]*in[1]+m[8]*in[2])
	}
	for c := range tmp {
		tmp[c] = interp1D(tmp[c], lut.InputTables[c])
	}
	grid := interpCLUT(tmp, lut.CLUT, lut.OutputChannels, lut.GridPoints)
	for c := range grid {
		grid[c] = interp1D(grid[c], lut.OutputTables[c])
	}
	return grid, nil
}

func interp1D(val float64, table []float64) float64 {
	if len(table) == 0 {
		return val
	}
	if val <= 0 {
		return table[0]
	}
	if val >= 1 {
		return table[len(table)-1]
	}
	f := val * float64(len(table)-1)
	idx := int(f)
	frac := f - float64(idx)
	return table[idx]*(1-frac) + table[idx+1]*frac
}

// interpCLUT performs N-linear interpolation over a grid whose first
// dimension varies slowest.
func interpCLUT(in, clut []float64, outCh, gridPoints int) []float64 {
	n := len(in)
	g := float64(gridPoints - 1)
	base := make([]int, n)
	frac := make([]float64, n)
	stride := make([]int, n)
	s := outCh
	for i := n - 1; i >= 0; i-- {
		stride[i] = s
		s *= gridPoints
		x := clamp01(in[i]) * g
		b := int(x)
		if b >= gridPoints-1 {
			b = gridPoints - 2
		}
		base[i] = b
		frac[i] = x - float64(b)
	}

	out := make([]float64, outCh)
	for corner := 0; corner < 1<<n; corner++ {
		w := 1.0
		off := 0
		for i := 0; i < n; i++ {
			if corner&(1<<(n-1-i)) != 0 {
				w *= frac[i]
				off += (base[i] + 1) * stride[i]
			} else {
				w *= 1 - frac[i]
				off += base[i] * stride[i]
			}
		}
		if w == 0 {
			continue
		}
		for c := 0; c < outCh; c++ {
			out[c] += w * clut[off+c]
		}
	}
	return out
}
