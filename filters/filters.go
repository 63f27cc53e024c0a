// Package filters encodes and decodes task payload streams.
package filters

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Codec is a reversible stream filter.
type Codec interface {
	Name() string
	Encode(ctx context.Context, input []byte) ([]byte, error)
	Decode(ctx context.Context, input []byte, maxSize int64) ([]byte, error)
}

// ErrLimitExceeded is returned when decoded output would exceed
// Limits.MaxDecompressedSize.
var ErrLimitExceeded = errors.New("filters: decompressed size exceeds limit")

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// DefaultLimits returns a 256 MB, 30 second budget.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 256 * 1024 * 1024,
		MaxDecodeTime:       30 * time.Second,
	}
}

type Pipeline struct {
	codecs []Codec
	limits Limits
}

// NewPipeline constructs a pipeline with provided codecs and limits.
func NewPipeline(codecs []Codec, limits Limits) *Pipeline {
	return &Pipeline{codecs: codecs, limits: limits}
}

// NewDefaultPipeline knows FlateDecode and ASCIIHexDecode.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Codec{NewFlateCodec(), NewASCIIHexCodec()}, limits)
}

func (p *Pipeline) findCodec(name string) Codec {
	for _, c := range p.codecs {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Decode applies the named filters in order.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for _, name := range filterNames {
		c := p.findCodec(name)
		if c == nil {
			return nil, errors.New("unknown filter: " + name)
		}
		out, err := c.Decode(ctx, data, p.limits.MaxDecompressedSize)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		data = out
	}
	return data, nil
}

// Encode applies the named filters so that Decode with the same names
// reverses them.
func (p *Pipeline) Encode(ctx context.Context, input []byte, filterNames []string) ([]byte, error) {
	data := input
	for i := len(filterNames) - 1; i >= 0; i-- {
		c := p.findCodec(filterNames[i])
		if c == nil {
			return nil, errors.New("unknown filter: " + filterNames[i])
		}
		out, err := c.Encode(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filterNames[i], err)
		}
		data = out
	}
	return data, nil
}

type flateCodec struct{}

func (flateCodec) Name() string { return "FlateDecode" }
func NewFlateCodec() Codec      { return flateCodec{} }

func (flateCodec) Encode(ctx context.Context, in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (flateCodec) Decode(ctx context.Context, in []byte, maxSize int64) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(in))
	defer r.Close()

	var src io.Reader = &ctxReader{ctx: ctx, r: r}
	if maxSize > 0 {
		src = io.LimitReader(src, maxSize+1)
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, src); err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(out.Len()) > maxSize {
		return nil, ErrLimitExceeded
	}
	return out.Bytes(), nil
}

// ctxReader stops a long decode once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type asciiHexCodec struct{}

func (asciiHexCodec) Name() string { return "ASCIIHexDecode" }
func NewASCIIHexCodec() Codec      { return asciiHexCodec{} }

func (asciiHexCodec) Encode(ctx context.Context, in []byte) ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(in))+1)
	hex.Encode(out, in)
	out[len(out)-1] = '>'
	return out, nil
}

func (asciiHexCodec) Decode(ctx context.Context, in []byte, maxSize int64) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = bytes.Join(bytes.Fields(trimmed), nil)
	// odd length: pad with 0
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0')
	}
	if maxSize > 0 && int64(hex.DecodedLen(len(trimmed))) > maxSize {
		return nil, ErrLimitExceeded
	}
	result := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(result, trimmed)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}
