// Package motion decides whether a captured region changed enough to be
// worth a recognition pass. Recognition is the expensive step of every
// poll; the gate keeps it off the hot path while the screen is static.
package motion

import "github.com/ceroxe/paywatch/internal/capture"

const (
	// DefaultStride compares every 4th pixel on every 4th row.
	DefaultStride = 4
	// DefaultThreshold triggers on >5% of sampled pixels differing,
	// which rides above VNC compression noise.
	DefaultThreshold = 0.05
)

// Gate detects frame-to-frame change by sparse grid sampling.
type Gate struct {
	stride    int
	threshold float64
}

// New returns a Gate; non-positive stride or threshold fall back to the
// defaults.
func New(stride int, threshold float64) *Gate {
	if stride <= 0 {
		stride = DefaultStride
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{stride: stride, threshold: threshold}
}

// Changed reports whether b differs materially from a. Frames of
// different dimensions always count as changed.
func (g *Gate) Changed(a, b *capture.Frame) bool {
	if a.Width != b.Width || a.Height != b.Height {
		return true
	}

	var sampled, diff int
	for y := 0; y < a.Height; y += g.stride {
		for x := 0; x < a.Width; x += g.stride {
			sampled++
			if a.At(x, y) != b.At(x, y) {
				diff++
			}
		}
	}
	if sampled == 0 {
		return false
	}
	return float64(diff)/float64(sampled) > g.threshold
}
