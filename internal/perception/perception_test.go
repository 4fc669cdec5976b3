package perception

import (
	"context"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emupilot-labs/emupilot/internal/config"
	"github.com/emupilot-labs/emupilot/internal/logger"
	"github.com/emupilot-labs/emupilot/internal/ocr"
)

type fakeCapturer struct {
	frame image.Image
	err   error
}

func (c *fakeCapturer) Screencap(context.Context) (image.Image, error) {
	return c.frame, c.err
}

type fakeEngine struct {
	text string
	err  error
	// last holds the image handed to the most recent Recognize call.
	last image.Image
}

func (e *fakeEngine) Recognize(_ context.Context, img image.Image) (*ocr.Result, error) {
	e.last = img
	if e.err != nil {
		return nil, e.err
	}
	return &ocr.Result{Text: e.text}, nil
}

func testFrame(w, h int, fill color.Color) image.Image {
	frame := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.Set(x, y, fill)
		}
	}
	return frame
}

func newTestPerceiver(t *testing.T, capturer Capturer, engine ocr.Engine, regions map[string]config.Region) *Perceiver {
	t.Helper()
	log := logger.NewLogger("error", "text", io.Discard)
	return NewPerceiver("alpha", capturer, engine, regions, nil, log)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "alliance help", Normalize("  Alliance\n HELP  "))
	assert.Equal(t, "", Normalize("   \n\t "))
}

func TestObservationMatches(t *testing.T) {
	obs := &Observation{Text: Normalize("Governor Profile\nPower: 12,345")}

	kw, ok := obs.Matches([]string{"kingdom map", "governor profile"})
	require.True(t, ok)
	assert.Equal(t, "governor profile", kw)

	_, ok = obs.Matches([]string{"alliance", "tavern"})
	assert.False(t, ok)

	_, ok = obs.Matches(nil)
	assert.False(t, ok)
}

func TestPerceiveUsesConfiguredRegion(t *testing.T) {
	frame := testFrame(100, 50, color.White)
	engine := &fakeEngine{text: "Daily Objectives"}
	regions := map[string]config.Region{
		"header": {X: 10, Y: 5, Width: 60, Height: 20, Grayscale: true},
	}
	p := newTestPerceiver(t, &fakeCapturer{frame: frame}, engine, regions)

	obs, err := p.Perceive(context.Background(), "header")
	require.NoError(t, err)
	assert.Equal(t, "daily objectives", obs.Text)
	assert.Equal(t, "Daily Objectives", obs.RawText)

	// The engine must see the cropped region, not the whole frame.
	require.NotNil(t, engine.last)
	assert.Equal(t, image.Rect(0, 0, 60, 20), engine.last.Bounds())
}

func TestPerceiveUnknownRegion(t *testing.T) {
	p := newTestPerceiver(t, &fakeCapturer{frame: testFrame(10, 10, color.White)}, &fakeEngine{}, nil)

	_, err := p.Perceive(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region 'missing' is not defined")
}

func TestPrepareClampsToFrame(t *testing.T) {
	frame := testFrame(20, 20, color.White)

	img, err := Prepare(frame, config.Region{X: 15, Y: 15, Width: 10, Height: 10, Grayscale: true})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 5), img.Bounds())

	_, err = Prepare(frame, config.Region{X: 30, Y: 30, Width: 10, Height: 10})
	require.Error(t, err)
}

func TestPrepareThresholdBinarizes(t *testing.T) {
	frame := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	frame.Set(0, 0, color.NRGBA{R: 250, G: 250, B: 250, A: 255})
	frame.Set(1, 0, color.NRGBA{R: 10, G: 10, B: 10, A: 255})

	img, err := Prepare(frame, config.Region{Width: 2, Height: 1, Grayscale: true, Threshold: 128})
	require.NoError(t, err)

	gray, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(0xFF), gray.Pix[0])
	assert.Equal(t, uint8(0x00), gray.Pix[1])
}
