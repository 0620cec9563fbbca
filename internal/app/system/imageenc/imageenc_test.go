package imageenc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 5 {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"within bounds", 800, 600, 800, 600},
		{"exact bound", 1024, 1024, 1024, 1024},
		{"square large", 2000, 2000, 1024, 1024},
		{"landscape", 4000, 3000, 1024, 768},
		{"portrait", 3000, 4000, 768, 1024},
		{"wide only", 2048, 100, 1024, 50},
		{"sliver", 10000, 1, 1024, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := ScaledSize(tt.w, tt.h, 1024, 1024)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("ScaledSize(%d,%d) = %d,%d, want %d,%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestEncode_BoundsAndNoUpscale(t *testing.T) {
	enc := New()
	sizes := [][2]int{{2000, 2000}, {1500, 300}, {200, 100}, {1024, 1}}
	for _, s := range sizes {
		res, err := enc.Encode(pngBytes(t, s[0], s[1]))
		if err != nil {
			t.Fatalf("Encode(%v): %v", s, err)
		}
		if res.Width > 1024 || res.Height > 1024 {
			t.Errorf("Encode(%v) = %dx%d exceeds bound", s, res.Width, res.Height)
		}
		if res.Width > s[0] || res.Height > s[1] {
			t.Errorf("Encode(%v) = %dx%d upscaled", s, res.Width, res.Height)
		}

		raw, err := DecodeDataURI(res.DataURI)
		if err != nil {
			t.Fatalf("DecodeDataURI: %v", err)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("stored photo is not a JPEG: %v", err)
		}
		if cfg.Width != res.Width || cfg.Height != res.Height {
			t.Errorf("JPEG is %dx%d, result says %dx%d", cfg.Width, cfg.Height, res.Width, res.Height)
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	in := pngBytes(t, 1500, 900)
	a, err := New().Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New().Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if a.DataURI != b.DataURI {
		t.Error("identical input produced different output")
	}
}

func TestEncode_DecodeError(t *testing.T) {
	_, err := New().Encode([]byte("definitely not an image"))
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if _, err := DecodeDataURI("data:text/plain;base64,aGk="); !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("DecodeDataURI err = %v, want ErrDecode", err)
	}
}

// pngHeader returns only the signature and IHDR chunk of a PNG declaring
// w x h pixels. It is enough for image.DecodeConfig.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor
	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestEncode_RejectsOversizedDimensions(t *testing.T) {
	data := pngHeader(12000, 12000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("header does not parse: %v", err)
	}
	if cfg.Width != 12000 || cfg.Height != 12000 {
		t.Fatalf("header = %dx%d", cfg.Width, cfg.Height)
	}

	_, err = New().Encode(data)
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if !strings.Contains(err.Error(), "12000x12000") {
		t.Errorf("err = %v, want the declared size in the message", err)
	}
}

func TestEncode_AcceptsAtPixelLimit(t *testing.T) {
	// 10000 x 5000 is exactly MaxPixels; decoding stops at the missing
	// image data, not at the size check.
	_, err := New().Encode(pngHeader(10000, 5000))
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if strings.Contains(err.Error(), "limit is") {
		t.Errorf("err = %v, size check rejected an image at the limit", err)
	}
}
