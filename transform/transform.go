// Package transform applies per-frame color processing to RGB24 frames.
//
// Transforms run on the streaming thread before a frame is handed to the
// display, so each must finish well within one frame interval.
package transform

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/rov-host/internal/metrics"
)

// Kind selects a transform.
type Kind string

const (
	None            Kind = "none"
	ColorCorrection Kind = "color_correction"
	Enhance         Kind = "enhance"
)

// ErrGeometry is returned when a buffer does not match its dimensions.
var ErrGeometry = errors.New("transform: buffer does not match geometry")

// ParseKind accepts none, color_correction (or color-correction) and
// enhance. Empty means none.
func ParseKind(s string) (Kind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "none":
		return None, nil
	case "color_correction":
		return ColorCorrection, nil
	case "enhance":
		return Enhance, nil
	default:
		return "", fmt.Errorf("transform: unknown kind %q", s)
	}
}

// Transform rewrites a tightly packed RGB24 frame in place.
type Transform interface {
	Kind() Kind
	Apply(pix []byte, width, height int) error
}

// New returns the transform for kind.
func New(kind Kind) (Transform, error) {
	switch kind {
	case None, "":
		return identity{}, nil
	case ColorCorrection:
		return colorCorrection{}, nil
	case Enhance:
		return enhance{contrast: 15, sharpen: 0.8}, nil
	default:
		return nil, fmt.Errorf("transform: unknown kind %q", kind)
	}
}

// Timed wraps t so each Apply is observed in the frame transform histogram.
func Timed(t Transform) Transform {
	if t.Kind() == None {
		return t
	}
	return timed{Transform: t}
}

type timed struct{ Transform }

func (t timed) Apply(pix []byte, width, height int) error {
	start := time.Now()
	err := t.Transform.Apply(pix, width, height)
	metrics.FrameTransformDuration.WithLabelValues(string(t.Kind())).Observe(time.Since(start).Seconds())
	return err
}

type identity struct{}

func (identity) Kind() Kind { return None }

func (identity) Apply([]byte, int, int) error { return nil }

// sampleSize is the side of the nearest-neighbour grid the channel
// statistics are computed on.
const sampleSize = 128

// stretch is how many standard deviations either side of the mean map to
// the ends of the output range.
const stretch = 3.0

type colorCorrection struct{}

func (colorCorrection) Kind() Kind { return ColorCorrection }

// Apply stretches each channel so mean-3σ maps to 0 and mean+3σ to 255,
// with the statistics taken from a 128x128 nearest-neighbour sample.
// Channels with no variance are left as they are.
func (colorCorrection) Apply(pix []byte, width, height int) error {
	if err := checkGeometry(pix, width, height); err != nil {
		return err
	}

	mean, std := channelStats(pix, width, height)

	var lut [3][256]uint8
	for c := 0; c < 3; c++ {
		lo := mean[c] - stretch*std[c]
		span := 2 * stretch * std[c]
		for v := 0; v < 256; v++ {
			if span == 0 {
				lut[c][v] = uint8(v)
				continue
			}
			lut[c][v] = clamp((float64(v) - lo) / span * 255)
		}
	}

	for i := 0; i+2 < len(pix); i += 3 {
		pix[i] = lut[0][pix[i]]
		pix[i+1] = lut[1][pix[i+1]]
		pix[i+2] = lut[2][pix[i+2]]
	}
	return nil
}

// channelStats returns per-channel mean and population standard deviation
// over a sampleSize x sampleSize nearest-neighbour grid.
func channelStats(pix []byte, width, height int) (mean, std [3]float64) {
	var sum, sumSq [3]float64
	n := float64(sampleSize * sampleSize)

	for sy := 0; sy < sampleSize; sy++ {
		y := sy * height / sampleSize
		for sx := 0; sx < sampleSize; sx++ {
			x := sx * width / sampleSize
			off := (y*width + x) * 3
			for c := 0; c < 3; c++ {
				v := float64(pix[off+c])
				sum[c] += v
				sumSq[c] += v * v
			}
		}
	}
	for c := 0; c < 3; c++ {
		mean[c] = sum[c] / n
		variance := sumSq[c]/n - mean[c]*mean[c]
		std[c] = math.Sqrt(math.Max(variance, 0))
	}
	return mean, std
}

// enhance approximates a local-histogram equalizer with a global contrast
// stretch plus an unsharp mask. It does not equalize per tile, so dark
// corners of a frame stay dark when the centre is bright.
type enhance struct {
	contrast float64
	sharpen  float64
}

func (enhance) Kind() Kind { return Enhance }

// Apply color-corrects, then raises contrast and sharpens.
func (e enhance) Apply(pix []byte, width, height int) error {
	if err := (colorCorrection{}).Apply(pix, width, height); err != nil {
		return err
	}
	img := imaging.AdjustContrast(ToNRGBA(pix, width, height), e.contrast)
	img = imaging.Sharpen(img, e.sharpen)
	FromNRGBA(img, pix)
	return nil
}

// ToNRGBA copies an RGB24 buffer into an opaque NRGBA image.
func ToNRGBA(pix []byte, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = pix[i]
		img.Pix[j+1] = pix[i+1]
		img.Pix[j+2] = pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromNRGBA writes img back into an RGB24 buffer of the same geometry.
func FromNRGBA(img *image.NRGBA, pix []byte) {
	b := img.Bounds()
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x+3 < len(row) && i+2 < len(pix); x += 4 {
			pix[i], pix[i+1], pix[i+2] = row[x], row[x+1], row[x+2]
			i += 3
		}
	}
}

func checkGeometry(pix []byte, width, height int) error {
	if width <= 0 || height <= 0 || len(pix) != width*height*3 {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrGeometry, len(pix), width, height)
	}
	return nil
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
