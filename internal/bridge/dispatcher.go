package bridge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emupilot-labs/emupilot/internal/retry"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	epevents "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

const (
	// retryBaseDelay is the initial backoff between dispatch attempts.
	retryBaseDelay = 250 * time.Millisecond
	// retryMaxDelay caps the backoff growth.
	retryMaxDelay = 2 * time.Second
)

// Dispatcher serializes bridge commands for one instance. A single mutex
// guarantees the ordering invariant: commands issued for an instance execute
// strictly in submission order, with the configured settle delay observed
// after each input command before the next may start.
//
// Rejected commands (DispatchError) are retried with backoff up to the
// configured attempt count; exhausting the attempts escalates to
// DeviceUnavailableError, which is fatal for the owning worker.
type Dispatcher struct {
	client   *Client
	settle   time.Duration
	attempts int
	retry    *retry.Helper
	bus      epevents.Bus
	log      eplog.Logger

	mu         sync.Mutex
	dispatched atomic.Int64
}

// NewDispatcher wraps the given client. attempts is the total number of tries
// per command (first try included); settle is slept after each successful
// input command.
func NewDispatcher(client *Client, settle time.Duration, attempts int, bus epevents.Bus, log eplog.Logger) *Dispatcher {
	if attempts < 1 {
		attempts = 1
	}
	return &Dispatcher{
		client:   client,
		settle:   settle,
		attempts: attempts,
		retry:    retry.NewHelper(log),
		bus:      bus,
		log:      log.With("component", "Dispatcher", "instance", client.instance),
	}
}

// Dispatched returns the number of commands successfully sent so far.
func (d *Dispatcher) Dispatched() int64 {
	return d.dispatched.Load()
}

// Connect brings up the bridge connection. Serialized like any other command
// but without a settle delay.
func (d *Dispatcher) Connect(ctx context.Context) error {
	return d.dispatch(ctx, "connect", false, func(ctx context.Context) error {
		return d.client.Connect(ctx)
	})
}

// Tap sends a tap and waits out the settle delay.
func (d *Dispatcher) Tap(ctx context.Context, x, y int) error {
	return d.dispatch(ctx, "tap", true, func(ctx context.Context) error {
		return d.client.Tap(ctx, x, y)
	})
}

// Swipe sends a swipe and waits out the settle delay.
func (d *Dispatcher) Swipe(ctx context.Context, x, y, x2, y2, durationMs int) error {
	return d.dispatch(ctx, "swipe", true, func(ctx context.Context) error {
		return d.client.Swipe(ctx, x, y, x2, y2, durationMs)
	})
}

// KeyBack sends the back key and waits out the settle delay.
func (d *Dispatcher) KeyBack(ctx context.Context) error {
	return d.dispatch(ctx, "back", true, func(ctx context.Context) error {
		return d.client.KeyBack(ctx)
	})
}

// LaunchApp starts the application and waits out the settle delay.
func (d *Dispatcher) LaunchApp(ctx context.Context, pkg, activity string) error {
	return d.dispatch(ctx, "launch", true, func(ctx context.Context) error {
		return d.client.LaunchApp(ctx, pkg, activity)
	})
}

// CloseApp force-stops the application.
func (d *Dispatcher) CloseApp(ctx context.Context, pkg string) error {
	return d.dispatch(ctx, "close", true, func(ctx context.Context) error {
		return d.client.CloseApp(ctx, pkg)
	})
}

// Screencap captures a frame. Captures share the serialization lock with input
// commands so a frame is never read mid-gesture, but no settle delay applies.
func (d *Dispatcher) Screencap(ctx context.Context) (image.Image, error) {
	var img image.Image
	err := d.dispatch(ctx, "screencap", false, func(ctx context.Context) error {
		var capErr error
		img, capErr = d.client.Screencap(ctx)
		return capErr
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// LastFrame returns the most recent captured frame without touching the device.
func (d *Dispatcher) LastFrame() (image.Image, bool) {
	return d.client.LastFrame()
}

// SaveLastFrame writes the most recent captured frame as a PNG under dir and
// returns the written path. The device is not touched; the frame comes out of
// the capture cache. label distinguishes dumps from different tasks.
func (d *Dispatcher) SaveLastFrame(dir, label string) (string, error) {
	img, ok := d.LastFrame()
	if !ok {
		return "", fmt.Errorf("no frame captured for instance '%s' yet", d.client.instance)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create frame dump directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.png",
		fileComponent(d.client.instance), fileComponent(label),
		time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create frame dump file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("failed to encode frame dump: %w", err)
	}
	return path, nil
}

// fileComponent keeps instance display names filesystem-safe.
func fileComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// dispatch runs one command under the serialization lock, with retries for
// rejected commands and escalation once the attempts are exhausted.
func (d *Dispatcher) dispatch(ctx context.Context, verb string, settle bool, op func(ctx context.Context) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.retry.Do(ctx, retry.Config{
		Attempts:      d.attempts,
		Delay:         retryBaseDelay,
		MaxDelay:      retryMaxDelay,
		BackoffFactor: 2.0,
		Jitter:        0.1,
		OnError:       true,
		Label:         "Bridge command '" + verb + "':",
	}, op)
	if err != nil {
		var dispErr *eperrors.DispatchError
		if errors.As(err, &dispErr) {
			// The device kept rejecting the command; give up on the endpoint.
			err = eperrors.NewDeviceUnavailableError(d.client.instance, d.client.endpoint, err)
		}
		if eperrors.IsDeviceUnavailable(err) && d.bus != nil {
			d.bus.Emit(epevents.Event{
				Type:      epevents.DeviceLost,
				Timestamp: time.Now().UTC(),
				Instance:  d.client.instance,
				Payload:   map[string]interface{}{"endpoint": d.client.endpoint, "verb": verb},
			})
		}
		return err
	}

	d.dispatched.Add(1)
	if d.bus != nil {
		d.bus.Emit(epevents.Event{
			Type:      epevents.CommandDispatched,
			Timestamp: time.Now().UTC(),
			Instance:  d.client.instance,
			Payload:   map[string]interface{}{"verb": verb},
		})
	}

	if settle && d.settle > 0 {
		select {
		case <-time.After(d.settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
