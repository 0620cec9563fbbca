// Package imageenc downsizes uploaded photos and re-encodes them as JPEG
// data URIs for embedding in marker documents.
package imageenc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// Registered decoders for uploads.
	_ "image/gif"
	_ "image/png"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Defaults match what the browser client sends.
const (
	DefaultMaxWidth  = 1024
	DefaultMaxHeight = 1024
	DefaultQuality   = 70

	// MaxPixels bounds the declared Width*Height of an upload so a small
	// file cannot force a huge decode allocation.
	MaxPixels = 50_000_000

	dataURIPrefix = "data:image/jpeg;base64,"
)

// Encoder scales images into a MaxWidth x MaxHeight box, never upscaling.
type Encoder struct {
	MaxWidth  int
	MaxHeight int
	Quality   int // JPEG quality, 1..100
}

// New returns an Encoder with the default bounds and quality.
func New() *Encoder {
	return &Encoder{MaxWidth: DefaultMaxWidth, MaxHeight: DefaultMaxHeight, Quality: DefaultQuality}
}

// Result is an encoded photo.
type Result struct {
	DataURI string
	Width   int
	Height  int
}

// Encode decodes data, scales it and returns a JPEG data URI. Undecodable
// input, or input declaring more than MaxPixels, yields an error wrapping
// apperr.ErrDecode.
func (e *Encoder) Encode(data []byte) (Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Result{}, fmt.Errorf("%w: image is %dx%d, limit is %d pixels",
			apperr.ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrDecode, err)
	}
	b := src.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), e.MaxWidth, e.MaxHeight)

	var img image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Result{
		DataURI: dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:   w,
		Height:  h,
	}, nil
}

// ScaledSize applies ratio = min(maxW/w, maxH/h) when the image exceeds
// either bound. Dimensions are rounded and never drop below one pixel.
func ScaledSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || (w <= maxW && h <= maxH) {
		return w, h
	}
	ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	sw := int(math.Round(float64(w) * ratio))
	sh := int(math.Round(float64(h) * ratio))
	return max(min(sw, maxW), 1), max(min(sh, maxH), 1)
}

// DecodeDataURI reverses Encode's framing, returning the JPEG bytes.
func DecodeDataURI(uri string) ([]byte, error) {
	if len(uri) < len(dataURIPrefix) || uri[:len(dataURIPrefix)] != dataURIPrefix {
		return nil, fmt.Errorf("%w: not a JPEG data URI", apperr.ErrDecode)
	}
	return base64.StdEncoding.DecodeString(uri[len(dataURIPrefix):])
}
