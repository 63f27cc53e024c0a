package convert

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/format"
)

// ConvertUint16 converts 16-bit samples held in host order. The pixel count
// comes from the element count; opts must describe 16-bit input. Input
// endianness is always the host's; the output is host order too unless
// OutputEndianness names another, so Uint16s reads it back.
func (c *Converter) ConvertUint16(ctx context.Context, samples []uint16, opts Options) (*Result, error) {
	if bits := inputBits(opts); bits != 16 {
		return nil, colorerr.Configf("inputBitsPerComponent", "uint16 samples need 16-bit input, got %d", bits)
	}
	host := format.HostEndianness()
	opts.InputEndianness = host
	if opts.OutputEndianness == format.EndianUnspecified {
		opts.OutputEndianness = host
	}
	buf := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.NativeEndian.PutUint16(buf[2*i:], v)
	}
	return c.convert(ctx, buf, len(samples), opts)
}

// ConvertFloat32 converts float samples. The pixel count comes from the
// element count; opts must describe 32-bit input.
func (c *Converter) ConvertFloat32(ctx context.Context, samples []float32, opts Options) (*Result, error) {
	if bits := inputBits(opts); bits != 32 {
		return nil, colorerr.Configf("inputBitsPerComponent", "float32 samples need 32-bit input, got %d", bits)
	}
	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.NativeEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return c.convert(ctx, buf, len(samples), opts)
}

func inputBits(opts Options) int {
	if opts.InputBitsPerComponent != 0 {
		return opts.InputBitsPerComponent
	}
	return opts.BitsPerComponent
}

// Uint16s decodes a 16-bit output buffer in host order.
func Uint16s(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.NativeEndian.Uint16(b[2*i:])
	}
	return out
}

// Float32s decodes a float output buffer.
func Float32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(b[4*i:]))
	}
	return out
}
