package cmm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wudi/colorkit/format"
)

// pixelCodec reads and writes pixels of one format as normalized channel
// values: colors first, then extra channels.
type pixelCodec struct {
	code     format.Code
	bps      int
	colors   int
	total    int
	order    []int // memory slot -> logical channel
	lab      bool
	cmyk     bool
	swap     bool
	planar   bool
	float    bool
	minWhite bool
}

func newPixelCodec(code format.Code) (*pixelCodec, error) {
	c := &pixelCodec{
		code:     code,
		bps:      code.BytesPerSample(),
		colors:   code.Channels(),
		total:    code.TotalChannels(),
		lab:      code.PixelType() == format.PixelTypeLab,
		cmyk:     code.PixelType() == format.PixelTypeCMYK,
		swap:     code.Swapped(),
		planar:   code.Planar(),
		float:    code.IsFloat(),
		minWhite: code.Flavor(),
	}
	if c.colors == 0 {
		return nil, fmt.Errorf("cmm: format %s has no color channels", code)
	}
	switch c.bps {
	case 1, 2:
		if c.float {
			return nil, fmt.Errorf("cmm: half floats are not supported (%s)", code)
		}
	case 4, 8:
		if !c.float {
			return nil, fmt.Errorf("cmm: %d-byte integer samples are not supported (%s)", c.bps, code)
		}
	default:
		return nil, fmt.Errorf("cmm: unsupported sample width %d (%s)", c.bps, code)
	}
	c.order = make([]int, c.total)
	for i := range c.order {
		c.order[i] = i
	}
	if code.DoSwap() {
		for i, j := 0, len(c.order)-1; i < j; i, j = i+1, j-1 {
			c.order[i], c.order[j] = c.order[j], c.order[i]
		}
	}
	if code.SwapFirst() && len(c.order) > 1 {
		if code.DoSwap() {
			c.order = append(c.order[1:], c.order[0])
		} else {
			last := c.order[len(c.order)-1]
			c.order = append([]int{last}, c.order[:len(c.order)-1]...)
		}
	}
	return c, nil
}

func (c *pixelCodec) bytesPerPixel() int { return c.total * c.bps }

func (c *pixelCodec) offset(pixel, slot, pixelCount int) int {
	if c.planar {
		return (slot*pixelCount + pixel) * c.bps
	}
	return (pixel*c.total + slot) * c.bps
}

func (c *pixelCodec) order16() binary.ByteOrder {
	native := binary.ByteOrder(binary.LittleEndian)
	if format.HostEndianness() == format.EndianBig {
		native = binary.BigEndian
	}
	if !c.swap {
		return native
	}
	if native == binary.ByteOrder(binary.LittleEndian) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// read decodes pixel i into dst (length total).
func (c *pixelCodec) read(buf []byte, i, pixelCount int, dst []float64) {
	bo := c.order16()
	for slot, ch := range c.order {
		off := c.offset(i, slot, pixelCount)
		var v float64
		switch c.bps {
		case 1:
			v = float64(buf[off]) / 255
		case 2:
			v = float64(bo.Uint16(buf[off:])) / 65535
		case 4:
			v = float64(math.Float32frombits(binary.NativeEndian.Uint32(buf[off:])))
		case 8:
			v = math.Float64frombits(binary.NativeEndian.Uint64(buf[off:]))
		}
		dst[ch] = c.fromEncoded(v, ch)
	}
}

// write encodes src (length total) as pixel i.
func (c *pixelCodec) write(buf []byte, i, pixelCount int, src []float64) {
	bo := c.order16()
	for slot, ch := range c.order {
		off := c.offset(i, slot, pixelCount)
		v := c.toEncoded(src[ch], ch)
		switch c.bps {
		case 1:
			buf[off] = byte(math.Round(clamp01(v) * 255))
		case 2:
			bo.PutUint16(buf[off:], uint16(math.Round(clamp01(v)*65535)))
		case 4:
			binary.NativeEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		case 8:
			binary.NativeEndian.PutUint64(buf[off:], math.Float64bits(v))
		}
	}
}

// fromEncoded maps a stored value to the engine's working value. Integer
// samples arrive normalized to [0,1]; float samples arrive as stored.
func (c *pixelCodec) fromEncoded(v float64, ch int) float64 {
	if ch >= c.colors {
		return v
	}
	if c.lab {
		if c.float {
			return v
		}
		if ch == 0 {
			return v * 100
		}
		return v*255 - 128
	}
	if c.float && c.cmyk {
		v /= 100
	}
	if c.minWhite {
		v = 1 - v
	}
	return v
}

func (c *pixelCodec) toEncoded(v float64, ch int) float64 {
	if ch >= c.colors {
		return v
	}
	if c.lab {
		if c.float {
			return v
		}
		if ch == 0 {
			return v / 100
		}
		return (v + 128) / 255
	}
	if c.minWhite {
		v = 1 - v
	}
	if c.float && c.cmyk {
		v *= 100
	}
	return v
}

func (c *pixelCodec) checkBuffer(buf []byte, pixelCount int, what string) error {
	if need := pixelCount * c.bytesPerPixel(); len(buf) < need {
		return fmt.Errorf("cmm: %s buffer holds %d bytes, need %d for %d pixels of %s", what, len(buf), need, pixelCount, c.code)
	}
	return nil
}
