package cmm

import (
	"bytes"
	"encoding/binary"
	"math"
)

// clampCache holds the precomputed outputs for the two boundary inputs:
// every channel at the encoding minimum, and every channel at its maximum.
type clampCache struct {
	inBPP, outBPP  int
	minIn, maxIn   []byte
	minOut, maxOut []byte
}

func (t *transform) initClamping(inChannels, outChannels int) bool {
	if inChannels != t.in.total || outChannels != t.out.total ||
		inChannels < 1 || inChannels > 8 || outChannels < 1 || outChannels > 8 ||
		t.in.planar || t.out.planar {
		return false
	}
	c := &clampCache{inBPP: t.in.bytesPerPixel(), outBPP: t.out.bytesPerPixel()}
	c.minIn = make([]byte, c.inBPP)
	c.maxIn = make([]byte, c.inBPP)
	for ch := 0; ch < inChannels; ch++ {
		s := c.maxIn[ch*t.in.bps:]
		switch {
		case t.in.float && t.in.bps == 4:
			binary.NativeEndian.PutUint32(s, math.Float32bits(1))
		case t.in.float:
			binary.NativeEndian.PutUint64(s, math.Float64bits(1))
		case t.in.bps == 2:
			s[0], s[1] = 0xFF, 0xFF
		default:
			s[0] = 0xFF
		}
	}
	c.minOut = make([]byte, c.outBPP)
	c.maxOut = make([]byte, c.outBPP)
	if t.run(c.minIn, c.minOut, 1) != nil || t.run(c.maxIn, c.maxOut, 1) != nil {
		return false
	}
	t.mu.Lock()
	t.clamp = c
	t.mu.Unlock()
	return true
}

func (t *transform) clampState() *clampCache {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clamp
}

// runAdaptive uses the boundary cache only for large buffers whose leading
// sample is made up entirely of boundary pixels; anything else gets a
// regular transform.
func (t *transform) runAdaptive(in, out []byte, pixelCount int) (*ClampingStats, error) {
	c := t.clampState()
	if c == nil || pixelCount < ClampingMinPixels {
		if err := t.run(in, out, pixelCount); err != nil {
			return nil, err
		}
		return &ClampingStats{Transformed: pixelCount, Skipped: true}, nil
	}
	if err := t.in.checkBuffer(in, pixelCount, "input"); err != nil {
		return nil, err
	}
	if err := t.out.checkBuffer(out, pixelCount, "output"); err != nil {
		return nil, err
	}

	sample := min(pixelCount, ClampingSampleSize)
	for i := 0; i < sample; i++ {
		px := in[i*c.inBPP : (i+1)*c.inBPP]
		if !bytes.Equal(px, c.minIn) && !bytes.Equal(px, c.maxIn) {
			if err := t.run(in, out, pixelCount); err != nil {
				return nil, err
			}
			return &ClampingStats{Transformed: pixelCount, Skipped: true}, nil
		}
	}

	stats := &ClampingStats{}
	for i := 0; i < pixelCount; i++ {
		px := in[i*c.inBPP : (i+1)*c.inBPP]
		dst := out[i*c.outBPP : (i+1)*c.outBPP]
		switch {
		case bytes.Equal(px, c.minIn):
			copy(dst, c.minOut)
			stats.Minimum++
		case bytes.Equal(px, c.maxIn):
			copy(dst, c.maxOut)
			stats.Maximum++
		default:
			if err := t.run(px, dst, 1); err != nil {
				return nil, err
			}
			stats.Transformed++
		}
	}
	return stats, nil
}
