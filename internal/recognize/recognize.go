// Package recognize defines the text-recognition boundary. The engine
// itself is an external capability; the monitor loop only needs a way
// to turn a frame into text blocks with positions.
package recognize

import (
	"context"

	"github.com/ceroxe/paywatch/internal/capture"
)

// Box is a text block's bounding rectangle within the captured region.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Block is one run of recognized text.
type Block struct {
	Text string `json:"text"`
	Box  Box    `json:"box"`
}

// Recognizer extracts text blocks from a frame. Errors are transient:
// the monitor loop logs them and keeps polling.
type Recognizer interface {
	Recognize(ctx context.Context, frame *capture.Frame) ([]Block, error)
}
