package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/emupilot-labs/emupilot/internal/command"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

// Result holds the text recognized from one image.
type Result struct {
	// Text is the raw recognized text, whitespace-trimmed.
	Text string
}

// Engine recognizes text in an image. Implementations must honor context
// cancellation: a recognition that overruns its deadline returns the context
// error rather than blocking the caller's perceive/act cycle.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (*Result, error)
}

// TesseractEngine shells out to the tesseract binary, feeding the image as a
// PNG on stdin and reading the recognized text from stdout.
type TesseractEngine struct {
	binPath string
	timeout time.Duration
	runner  command.Runner
	log     eplog.Logger
}

// NewTesseractEngine creates an engine bound to the given tesseract binary.
// timeout bounds each recognition; zero disables the bound.
func NewTesseractEngine(binPath string, timeout time.Duration, runner command.Runner, log eplog.Logger) *TesseractEngine {
	if binPath == "" {
		binPath = "tesseract"
	}
	if runner == nil {
		runner = command.NewRunner()
	}
	return &TesseractEngine{
		binPath: binPath,
		timeout: timeout,
		runner:  runner,
		log:     log.With("component", "OCR"),
	}
}

// Recognize runs tesseract over the image. PSM 6 assumes a uniform block of
// text, which suits the pre-cropped UI regions fed to it.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode region for recognition: %w", err)
	}

	args := []string{"stdin", "stdout", "--psm", "6", "-l", "eng"}
	result, err := e.runner.Run(ctx, e.binPath, args, &buf)
	if err != nil {
		return nil, fmt.Errorf("tesseract execution failed: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("tesseract exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	text := strings.TrimSpace(result.Stdout)
	e.log.Debugf("Recognized %d characters", len(text))
	return &Result{Text: text}, nil
}

var _ Engine = (*TesseractEngine)(nil)
