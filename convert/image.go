package convert

import (
	"context"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/wudi/colorkit/colorerr"
	"github.com/wudi/colorkit/format"
)

// ImageOptions configure ConvertImage. Input pixel settings are derived from
// the image; Options.Output* fields select the output layout.
type ImageOptions struct {
	Options
	// MaxDimension downsamples larger images before conversion. Zero keeps
	// the original size.
	MaxDimension int
}

// ImageResult carries the converted pixels with their geometry.
type ImageResult struct {
	*Result
	Width, Height int
}

// ConvertImage normalizes img to packed 8-bit Gray, CMYK or RGBA samples and
// converts them. Gray and CMYK images keep their model; anything else is
// converted as non-premultiplied RGB with alpha.
func (c *Converter) ConvertImage(ctx context.Context, img image.Image, opts ImageOptions) (*ImageResult, error) {
	if img == nil {
		return nil, colorerr.Configf("image", "nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if m := opts.MaxDimension; m > 0 && (w > m || h > m) {
		if w >= h {
			w, h = m, max(1, h*m/w)
		} else {
			w, h = max(1, w*m/h), m
		}
	}
	dr := image.Rect(0, 0, w, h)
	render := func(dst draw.Image) {
		if dr.Dx() == b.Dx() && dr.Dy() == b.Dy() {
			draw.Draw(dst, dr, img, b.Min, draw.Src)
			return
		}
		draw.CatmullRom.Scale(dst, dr, img, b, draw.Src, nil)
	}

	o := opts.Options
	o.InputBitsPerComponent = 8
	o.InputLayout = format.Packed
	o.InputChannelOrder = format.OrderNatural
	o.InputHasAlpha, o.InputAlphaFirst = false, false
	var pix []byte
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		dst := image.NewGray(dr)
		render(dst)
		o.InputColorSpace, pix = format.Gray, dst.Pix
	case color.CMYKModel:
		dst := image.NewCMYK(dr)
		render(dst)
		o.InputColorSpace, pix = format.CMYK, dst.Pix
	default:
		dst := image.NewNRGBA(dr)
		render(dst)
		o.InputColorSpace, pix = format.RGB, dst.Pix
		o.InputHasAlpha = true
	}
	if o.OutputBitsPerComponent == 0 && o.BitsPerComponent == 0 {
		o.OutputBitsPerComponent = 8
	}

	res, err := c.Convert(ctx, pix, o)
	if err != nil {
		return nil, err
	}
	return &ImageResult{Result: res, Width: w, Height: h}, nil
}

// Image wraps 8-bit packed output as an image.Image: Gray, CMYK, or NRGBA
// for RGB (opaque unless the output carries trailing alpha). It returns nil
// for other layouts.
func (r *ImageResult) Image() image.Image {
	f := r.OutputFormat
	if f.Bytes() != 1 || f.Planar() || f.DoSwap() || f.SwapFirst() {
		return nil
	}
	rect := image.Rect(0, 0, r.Width, r.Height)
	switch f.ColorSpace() {
	case format.Gray:
		if f.Extra() != 0 {
			return nil
		}
		return &image.Gray{Pix: r.Output, Stride: r.Width, Rect: rect}
	case format.CMYK:
		if f.Extra() != 0 {
			return nil
		}
		return &image.CMYK{Pix: r.Output, Stride: 4 * r.Width, Rect: rect}
	case format.RGB:
		switch f.Extra() {
		case 1:
			return &image.NRGBA{Pix: r.Output, Stride: 4 * r.Width, Rect: rect}
		case 0:
			img := image.NewNRGBA(rect)
			for i, j := 0, 0; i+2 < len(r.Output); i, j = i+3, j+4 {
				copy(img.Pix[j:j+3], r.Output[i:i+3])
				img.Pix[j+3] = 0xff
			}
			return img
		}
	}
	return nil
}
