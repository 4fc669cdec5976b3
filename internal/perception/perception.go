package perception

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/emupilot-labs/emupilot/internal/config"
	"github.com/emupilot-labs/emupilot/internal/metrics"
	"github.com/emupilot-labs/emupilot/internal/ocr"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

// Capturer provides the screen frames the perceiver reads. The bridge
// dispatcher satisfies it.
type Capturer interface {
	Screencap(ctx context.Context) (image.Image, error)
}

// Observation is the outcome of one perceive cycle over a named region.
type Observation struct {
	// Region is the name of the observed region.
	Region string
	// Text is the normalized recognized text (lowercase, collapsed whitespace).
	Text string
	// RawText is the text exactly as recognized.
	RawText string
}

// Matches reports whether any of the expected keywords occurs in the
// observation, returning the first keyword that did. Matching is
// case-insensitive substring containment over the normalized text, which
// tolerates the partial and noisy reads OCR produces on stylized game fonts.
func (o *Observation) Matches(keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(o.Text, Normalize(kw)) {
			return kw, true
		}
	}
	return "", false
}

// Normalize lowercases text and collapses all whitespace runs to single
// spaces so keyword matching is stable across OCR line breaks.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Perceiver runs the capture -> crop -> preprocess -> recognize pipeline for
// one instance, using the region table from the instance's profile.
type Perceiver struct {
	instance string
	capturer Capturer
	engine   ocr.Engine
	regions  map[string]config.Region
	metrics  *metrics.EngineMetrics
	log      eplog.Logger
}

// NewPerceiver builds a perceiver over the given capturer and OCR engine.
// metrics may be nil.
func NewPerceiver(instance string, capturer Capturer, engine ocr.Engine, regions map[string]config.Region, m *metrics.EngineMetrics, log eplog.Logger) *Perceiver {
	return &Perceiver{
		instance: instance,
		capturer: capturer,
		engine:   engine,
		regions:  regions,
		metrics:  m,
		log:      log.With("component", "Perception", "instance", instance),
	}
}

// Perceive captures a frame and recognizes the named region. An empty region
// name recognizes the full frame with default preprocessing.
func (p *Perceiver) Perceive(ctx context.Context, regionName string) (*Observation, error) {
	frame, err := p.capturer.Screencap(ctx)
	if err != nil {
		return nil, err
	}
	return p.PerceiveFrame(ctx, frame, regionName)
}

// PerceiveFrame recognizes the named region of an already captured frame.
func (p *Perceiver) PerceiveFrame(ctx context.Context, frame image.Image, regionName string) (*Observation, error) {
	region := config.Region{Grayscale: true}
	if regionName != "" {
		var ok bool
		region, ok = p.regions[regionName]
		if !ok {
			return nil, fmt.Errorf("region '%s' is not defined for instance '%s'", regionName, p.instance)
		}
	} else {
		bounds := frame.Bounds()
		region.Width = bounds.Dx()
		region.Height = bounds.Dy()
	}

	prepared, err := Prepare(frame, region)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare region '%s': %w", regionName, err)
	}

	result, err := p.engine.Recognize(ctx, prepared)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && p.metrics != nil {
			p.metrics.OCRTimeouts.Inc()
		}
		return nil, err
	}

	obs := &Observation{
		Region:  regionName,
		RawText: result.Text,
		Text:    Normalize(result.Text),
	}
	p.log.Debugf("Region '%s' recognized as %q", regionName, obs.Text)
	return obs, nil
}

// RecordMiss counts a perceive cycle whose observation matched none of the
// expected labels. The state machine calls it before bumping its stall
// counter.
func (p *Perceiver) RecordMiss() {
	if p.metrics != nil {
		p.metrics.PerceptionMisses.WithLabelValues(p.instance).Inc()
	}
}

// Prepare crops the frame to the region and applies its preprocessing:
// grayscale conversion and, when a positive threshold is set, binarization.
// The crop is clamped to the frame bounds; a region entirely outside the
// frame is an error.
func Prepare(frame image.Image, region config.Region) (image.Image, error) {
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height)
	rect = rect.Intersect(frame.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region %dx%d at (%d,%d) lies outside the %v frame",
			region.Width, region.Height, region.X, region.Y, frame.Bounds())
	}

	if !region.Grayscale && region.Threshold == 0 {
		cropped := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		for y := 0; y < rect.Dy(); y++ {
			for x := 0; x < rect.Dx(); x++ {
				cropped.Set(x, y, frame.At(rect.Min.X+x, rect.Min.Y+y))
			}
		}
		return cropped, nil
	}

	gray := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			gray.Set(x, y, color.GrayModel.Convert(frame.At(rect.Min.X+x, rect.Min.Y+y)))
		}
	}
	if region.Threshold > 0 {
		for i, v := range gray.Pix {
			if int(v) >= region.Threshold {
				gray.Pix[i] = 0xFF
			} else {
				gray.Pix[i] = 0x00
			}
		}
	}
	return gray, nil
}
