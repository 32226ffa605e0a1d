package capture

import "context"

// Capturer grabs the pixels of one screen rectangle. Implementations
// wrap whatever native capability the host provides; failures are
// transient per-poll conditions, not session-fatal.
type Capturer interface {
	CaptureRegion(ctx context.Context, r Region) (*Frame, error)
}

// ScreenSize reports the desktop dimensions used to anchor the ROI.
type ScreenSize struct {
	Width  int
	Height int
}

// Sampler repeatedly captures the monitored region. The region is
// anchored to the bottom-right corner of the screen, where the payment
// popup renders, and clamped to the desktop when the screen is smaller
// than the configured ROI.
type Sampler struct {
	capturer Capturer
	region   Region
}

// NewSampler computes the ROI from the screen size and the configured
// region dimensions.
func NewSampler(capturer Capturer, screen ScreenSize, roiWidth, roiHeight int) *Sampler {
	x := screen.Width - roiWidth
	y := screen.Height - roiHeight
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return &Sampler{
		capturer: capturer,
		region:   Region{X: x, Y: y, Width: roiWidth, Height: roiHeight},
	}
}

// Region returns the rectangle the sampler monitors.
func (s *Sampler) Region() Region {
	return s.region
}

// Sample captures the current contents of the monitored region.
func (s *Sampler) Sample(ctx context.Context) (*Frame, error) {
	return s.capturer.CaptureRegion(ctx, s.region)
}
