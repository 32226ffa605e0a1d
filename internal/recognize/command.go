package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strings"

	"github.com/ceroxe/paywatch/internal/capture"
)

// CommandRecognizer shells out to an external OCR tool. The frame is
// written to a temporary PNG, {file} in the command template is replaced
// with its path, and the tool's stdout is parsed as a JSON array of
// blocks: [{"text":"...","box":{"x":0,"y":0,"w":0,"h":0}}, ...].
type CommandRecognizer struct {
	command []string
}

// NewCommandRecognizer splits the configured command line into argv form.
func NewCommandRecognizer(command string) (*CommandRecognizer, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &CommandRecognizer{command: argv}, nil
}

// Recognize runs the OCR command against the frame.
func (r *CommandRecognizer) Recognize(ctx context.Context, frame *capture.Frame) ([]Block, error) {
	tmp, err := os.CreateTemp("", "ocr_*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp frame: %w", err)
	}
	defer os.Remove(tmp.Name())

	img := &image.RGBA{
		Pix:    frame.Pix,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("flush frame: %w", err)
	}

	argv := make([]string, len(r.command))
	for i, a := range r.command {
		argv[i] = strings.ReplaceAll(a, "{file}", tmp.Name())
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("recognizer command failed: %w", err)
	}
	return ParseBlocks(out.Bytes())
}

// ParseBlocks decodes the recognizer's JSON output. Empty output means
// no text was found, which is a valid poll result.
func ParseBlocks(data []byte) ([]Block, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var blocks []Block
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return nil, fmt.Errorf("parse recognizer output: %w", err)
	}
	return blocks, nil
}
