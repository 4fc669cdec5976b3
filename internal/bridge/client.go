package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/emupilot-labs/emupilot/internal/command"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

// Client talks to one emulator instance through the adb binary. Every call
// shells out with `-s <endpoint>` so commands can never land on another
// instance's bridge. The client itself is not serialized; the Dispatcher
// layers the per-instance ordering discipline on top.
type Client struct {
	adbPath  string
	instance string
	endpoint string
	runner   command.Runner
	log      eplog.Logger
	frames   *frameCache
}

// NewClient creates a bridge client bound to one instance endpoint.
func NewClient(adbPath, instance, endpoint string, runner command.Runner, log eplog.Logger) *Client {
	if runner == nil {
		runner = command.NewRunner()
	}
	return &Client{
		adbPath:  adbPath,
		instance: instance,
		endpoint: endpoint,
		runner:   runner,
		log:      log.With("component", "Bridge", "instance", instance),
		frames:   newFrameCache(),
	}
}

// Endpoint returns the bridge serial this client is bound to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connect establishes the adb connection to the instance endpoint.
// Connection refusal is a DeviceUnavailableError: the endpoint is down, not
// merely rejecting one command.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.runner.Run(ctx, c.adbPath, []string{"connect", c.endpoint}, nil)
	if err != nil {
		return eperrors.NewDeviceUnavailableError(c.instance, c.endpoint, err)
	}
	// adb reports refusal on stdout with exit code 0, so inspect the output.
	out := result.Stdout
	if result.ExitCode != 0 || strings.Contains(out, "cannot connect") || strings.Contains(out, "failed to connect") {
		return eperrors.NewDeviceUnavailableError(c.instance, c.endpoint,
			fmt.Errorf("adb connect: %s", strings.TrimSpace(out+" "+result.Stderr)))
	}
	c.log.Debugf("Connected to bridge endpoint %s", c.endpoint)
	return nil
}

// run executes one adb command against the bound endpoint.
func (c *Client) run(ctx context.Context, verb string, args ...string) (*command.CommandResult, error) {
	full := append([]string{"-s", c.endpoint}, args...)
	result, err := c.runner.Run(ctx, c.adbPath, full, nil)
	if err != nil {
		// The adb process could not run at all; treat the endpoint as gone.
		return nil, eperrors.NewDeviceUnavailableError(c.instance, c.endpoint, err)
	}
	if result.ExitCode != 0 {
		return nil, eperrors.NewDispatchError(c.instance, verb,
			fmt.Errorf("exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}
	return result, nil
}

// Screencap captures the full screen as a raw RGBA frame.
// The device emits a 12-byte header (little-endian width, height, pixel
// format) followed by width*height*4 bytes of pixels.
func (c *Client) Screencap(ctx context.Context) (image.Image, error) {
	result, err := c.run(ctx, "screencap", "exec-out", "screencap")
	if err != nil {
		return nil, err
	}
	raw := result.RawStdout
	if len(raw) < 16 {
		return nil, eperrors.NewDispatchError(c.instance, "screencap",
			fmt.Errorf("short frame: %d bytes", len(raw)))
	}
	width := int(binary.LittleEndian.Uint32(raw[0:4]))
	height := int(binary.LittleEndian.Uint32(raw[4:8]))
	pix := raw[12:]
	if width <= 0 || height <= 0 || len(pix) < width*height*4 {
		return nil, eperrors.NewDispatchError(c.instance, "screencap",
			fmt.Errorf("malformed frame: %dx%d with %d pixel bytes", width, height, len(pix)))
	}

	img := &image.NRGBA{
		Pix:    pix[:width*height*4],
		Stride: width * 4, // bytes
		Rect:   image.Rect(0, 0, width, height),
	}
	c.frames.put(img)
	return img, nil
}

// LastFrame returns the most recent captured frame, if any. The frame is
// decoded from the compressed cache, so the caller owns the returned image.
func (c *Client) LastFrame() (image.Image, bool) {
	return c.frames.get()
}

// Tap issues a tap at the given screen coordinate.
func (c *Client) Tap(ctx context.Context, x, y int) error {
	_, err := c.run(ctx, "tap", "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// Swipe issues a swipe between two points over durationMs milliseconds.
func (c *Client) Swipe(ctx context.Context, x, y, x2, y2, durationMs int) error {
	_, err := c.run(ctx, "swipe", "shell", "input", "swipe",
		strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(durationMs))
	return err
}

// KeyBack issues the back key, used by recovery navigation.
func (c *Client) KeyBack(ctx context.Context) error {
	_, err := c.run(ctx, "back", "shell", "input", "keyevent", "KEYCODE_BACK")
	return err
}

// LaunchApp starts the application. With an explicit activity the launch goes
// through `am start -n`; otherwise the launcher intent is fired via monkey.
func (c *Client) LaunchApp(ctx context.Context, pkg, activity string) error {
	if activity != "" {
		_, err := c.run(ctx, "launch", "shell", "am", "start", "-n", pkg+"/"+activity)
		return err
	}
	_, err := c.run(ctx, "launch", "shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// CloseApp force-stops the application.
func (c *Client) CloseApp(ctx context.Context, pkg string) error {
	_, err := c.run(ctx, "close", "shell", "am", "force-stop", pkg)
	return err
}
