package normalizer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func newNormalizer(t *testing.T, cfg Config) *Normalizer {
	t.Helper()
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return n
}

func TestNew_UnknownOrientation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orientation = "sideways"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown orientation")
	}
}

func TestNormalize_ProducesJPEG(t *testing.T) {
	n := newNormalizer(t, DefaultConfig())

	img, err := n.Normalize(encodePNG(t, 40, 20))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if img.Width != 40 || img.Height != 20 {
		t.Errorf("expected 40x20, got %dx%d", img.Width, img.Height)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("normalized output is not JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 40 {
		t.Errorf("decoded width %d", decoded.Bounds().Dx())
	}
}

// withEXIFOrientation inserts an APP1 segment carrying only the
// Orientation tag right after the JPEG SOI marker.
func withEXIFOrientation(t *testing.T, jpg []byte, orientation byte) []byte {
	t.Helper()
	if len(jpg) < 2 || jpg[0] != 0xff || jpg[1] != 0xd8 {
		t.Fatal("input is not a JPEG")
	}
	app1 := []byte{
		0xff, 0xe1, 0x00, 0x22,
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'I', 'I', 0x2a, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, orientation, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	out := append([]byte{}, jpg[:2]...)
	out = append(out, app1...)
	return append(out, jpg[2:]...)
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(encodePNG(t, w, h)))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func TestNormalize_EXIFOrientation(t *testing.T) {
	// Orientation 6: the camera was turned 90 degrees clockwise.
	raw := withEXIFOrientation(t, encodeJPEG(t, 40, 20), 6)

	tests := []struct {
		orientation   Orientation
		width, height int
	}{
		{OrientationEXIF, 20, 40},
		{OrientationNone, 40, 20},
	}
	for _, tt := range tests {
		t.Run(string(tt.orientation), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Orientation = tt.orientation
			n := newNormalizer(t, cfg)

			img, err := n.Normalize(raw)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if img.Width != tt.width || img.Height != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, img.Width, img.Height)
			}
		})
	}
}

func TestNormalize_TransparentPixelsKeepColor(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255 // red, fully transparent
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	n := newNormalizer(t, DefaultConfig())
	img, err := n.Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("normalized output is not JPEG: %v", err)
	}
	r, g, _, _ := decoded.At(8, 8).RGBA()
	if r>>8 < 200 || g>>8 > 60 {
		t.Errorf("transparent red came out as r=%d g=%d", r>>8, g>>8)
	}
}

func TestNormalize_Rotate90(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orientation = OrientationRotate90
	n := newNormalizer(t, cfg)

	img, err := n.Normalize(encodePNG(t, 40, 20))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if img.Width != 20 || img.Height != 40 {
		t.Errorf("expected rotated 20x40, got %dx%d", img.Width, img.Height)
	}
}

func TestNormalize_Downscales(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDimension = 50
	n := newNormalizer(t, cfg)

	img, err := n.Normalize(encodePNG(t, 200, 100))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if img.Width != 50 || img.Height != 25 {
		t.Errorf("expected 50x25, got %dx%d", img.Width, img.Height)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := newNormalizer(t, DefaultConfig())
	raw := encodePNG(t, 32, 32)

	a, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("same input produced different output")
	}
}

func TestNormalize_DecodeError(t *testing.T) {
	n := newNormalizer(t, DefaultConfig())

	for name, raw := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(raw)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}
