package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandCapturer shells out to an external screenshot tool that writes
// a PNG of the requested rectangle to stdout. The command template may
// reference {x}, {y}, {w} and {h}, e.g.
//
//	import -window root -crop {w}x{h}+{x}+{y} png:-
type CommandCapturer struct {
	command []string
}

// NewCommandCapturer splits the configured command line into argv form.
func NewCommandCapturer(command string) (*CommandCapturer, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &CommandCapturer{command: argv}, nil
}

// CaptureRegion runs the capture command and decodes its PNG output into
// an RGBA frame.
func (c *CommandCapturer) CaptureRegion(ctx context.Context, r Region) (*Frame, error) {
	argv := make([]string, len(c.command))
	repl := strings.NewReplacer(
		"{x}", strconv.Itoa(r.X),
		"{y}", strconv.Itoa(r.Y),
		"{w}", strconv.Itoa(r.Width),
		"{h}", strconv.Itoa(r.Height),
	)
	for i, a := range c.command {
		argv[i] = repl.Replace(a)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command failed: %w", err)
	}

	img, err := png.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("decode capture output: %w", err)
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image into a Frame, normalizing to a
// tightly packed RGBA buffer.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Frame{
		Pix:        rgba.Pix,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
	}
}
