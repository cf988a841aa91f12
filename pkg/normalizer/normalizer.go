// Package normalizer turns uploaded photos into canonical JPEG bytes.
// Both registration and login go through the same Normalizer so the
// orientation step is identical on both sides of a comparison.
package normalizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Orientation is the policy applied to decoded images before encoding.
type Orientation string

const (
	// OrientationEXIF applies the EXIF orientation tag and nothing else.
	OrientationEXIF Orientation = "exif"
	// OrientationRotate90 rotates every image 90 degrees counter-clockwise.
	OrientationRotate90 Orientation = "rotate90"
	// OrientationNone keeps the decoded pixels as they are.
	OrientationNone Orientation = "none"
)

// ErrDecode is returned when the input is not a decodable image.
var ErrDecode = errors.New("image could not be decoded")

// Image is a normalized image: upright, RGB, JPEG encoded.
type Image struct {
	Data   []byte
	Width  int
	Height int
}

// Config holds normalization settings.
type Config struct {
	Orientation  Orientation
	MaxDimension int // 0 disables downscaling
	JPEGQuality  int
}

// DefaultConfig returns the default normalization settings.
func DefaultConfig() Config {
	return Config{
		Orientation:  OrientationEXIF,
		MaxDimension: 1600,
		JPEGQuality:  95,
	}
}

// Normalizer decodes, orients and re-encodes images. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	cfg Config
}

// New creates a Normalizer with the given settings.
func New(cfg Config) (*Normalizer, error) {
	switch cfg.Orientation {
	case OrientationEXIF, OrientationRotate90, OrientationNone:
	default:
		return nil, fmt.Errorf("unknown orientation policy %q", cfg.Orientation)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	return &Normalizer{cfg: cfg}, nil
}

// Orientation returns the pinned orientation policy.
func (n *Normalizer) Orientation() Orientation {
	return n.cfg.Orientation
}

// Normalize decodes raw bytes and produces the canonical form.
func (n *Normalizer) Normalize(raw []byte) (*Image, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(raw),
		imaging.AutoOrientation(n.cfg.Orientation == OrientationEXIF))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var out *image.NRGBA
	if n.cfg.Orientation == OrientationRotate90 {
		out = imaging.Rotate90(img)
	} else {
		out = imaging.Clone(img)
	}
	dropAlpha(out)

	if m := n.cfg.MaxDimension; m > 0 {
		b := out.Bounds()
		if b.Dx() > m || b.Dy() > m {
			out = imaging.Fit(out, m, m, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(n.cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}

	b := out.Bounds()
	return &Image{
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// dropAlpha makes every pixel opaque and keeps its stored color, so
// transparent regions do not turn black in the JPEG.
func dropAlpha(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
