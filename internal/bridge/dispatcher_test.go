package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emupilot-labs/emupilot/internal/command"
	"github.com/emupilot-labs/emupilot/internal/logger"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
)

// fakeRunner records every invocation and replays scripted results keyed by
// the joined argument string.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*command.CommandResult
	errs    map[string]error
	// failures maps an argument-string prefix to a number of times the command
	// should exit non-zero before succeeding.
	failures map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results:  make(map[string]*command.CommandResult),
		errs:     make(map[string]error),
		failures: make(map[string]int),
	}
}

func (r *fakeRunner) Run(_ context.Context, _ string, args []string, _ io.Reader) (*command.CommandResult, error) {
	key := strings.Join(args, " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)

	for prefix, remaining := range r.failures {
		if strings.HasPrefix(key, prefix) && remaining > 0 {
			r.failures[prefix] = remaining - 1
			return &command.CommandResult{ExitCode: 1, Stderr: "injected failure"}, nil
		}
	}
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	if res, ok := r.results[key]; ok {
		return res, nil
	}
	return &command.CommandResult{ExitCode: 0}, nil
}

func (r *fakeRunner) callList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestDispatcher(t *testing.T, runner command.Runner, attempts int) *Dispatcher {
	t.Helper()
	log := logger.NewLogger("error", "text", io.Discard)
	client := NewClient("adb", "alpha", "127.0.0.1:5555", runner, log)
	return NewDispatcher(client, 0, attempts, nil, log)
}

func TestDispatcherSerializesCommandsInOrder(t *testing.T) {
	runner := newFakeRunner()
	d := newTestDispatcher(t, runner, 1)
	ctx := context.Background()

	require.NoError(t, d.Tap(ctx, 10, 20))
	require.NoError(t, d.Swipe(ctx, 1, 2, 3, 4, 300))
	require.NoError(t, d.KeyBack(ctx))

	calls := runner.callList()
	require.Len(t, calls, 3)
	assert.Equal(t, "-s 127.0.0.1:5555 shell input tap 10 20", calls[0])
	assert.Equal(t, "-s 127.0.0.1:5555 shell input swipe 1 2 3 4 300", calls[1])
	assert.Equal(t, "-s 127.0.0.1:5555 shell input keyevent KEYCODE_BACK", calls[2])
	assert.Equal(t, int64(3), d.Dispatched())
}

func TestDispatcherRetriesRejectedCommand(t *testing.T) {
	runner := newFakeRunner()
	runner.failures["-s 127.0.0.1:5555 shell input tap"] = 1
	d := newTestDispatcher(t, runner, 2)

	err := d.Tap(context.Background(), 5, 5)
	require.NoError(t, err)
	assert.Len(t, runner.callList(), 2)
	assert.Equal(t, int64(1), d.Dispatched())
}

func TestDispatcherEscalatesToDeviceUnavailable(t *testing.T) {
	runner := newFakeRunner()
	runner.failures["-s 127.0.0.1:5555 shell input tap"] = 10
	d := newTestDispatcher(t, runner, 2)

	err := d.Tap(context.Background(), 5, 5)
	require.Error(t, err)
	assert.True(t, eperrors.IsDeviceUnavailable(err))

	var devErr *eperrors.DeviceUnavailableError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "alpha", devErr.Instance)
	assert.Equal(t, "127.0.0.1:5555", devErr.Endpoint)
	assert.Len(t, runner.callList(), 2)
	assert.Equal(t, int64(0), d.Dispatched())
}

func TestDispatcherLaunchAndClose(t *testing.T) {
	runner := newFakeRunner()
	d := newTestDispatcher(t, runner, 1)
	ctx := context.Background()

	require.NoError(t, d.LaunchApp(ctx, "com.example.game", "com.example.engine.MainActivity"))
	require.NoError(t, d.CloseApp(ctx, "com.example.game"))
	require.NoError(t, d.LaunchApp(ctx, "com.example.game", ""))

	calls := runner.callList()
	require.Len(t, calls, 3)
	assert.Equal(t, "-s 127.0.0.1:5555 shell am start -n com.example.game/com.example.engine.MainActivity", calls[0])
	assert.Equal(t, "-s 127.0.0.1:5555 shell am force-stop com.example.game", calls[1])
	assert.Equal(t, "-s 127.0.0.1:5555 shell monkey -p com.example.game -c android.intent.category.LAUNCHER 1", calls[2])
}

// rawFrame builds the wire form of a screencap: 12-byte header (LE width,
// height, pixel format) followed by RGBA pixels.
func rawFrame(width, height int) []byte {
	buf := make([]byte, 12+width*height*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(width))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(height))
	binary.LittleEndian.PutUint32(buf[8:12], 1) // RGBA_8888
	for i := 12; i < len(buf); i += 4 {
		buf[i] = byte(i % 251)
		buf[i+3] = 0xFF
	}
	return buf
}

func TestDispatcherScreencapDecodesFrame(t *testing.T) {
	runner := newFakeRunner()
	runner.results["-s 127.0.0.1:5555 exec-out screencap"] = &command.CommandResult{
		ExitCode:  0,
		RawStdout: rawFrame(4, 3),
	}
	d := newTestDispatcher(t, runner, 1)

	img, err := d.Screencap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	// The frame cache round-trips through snappy and must match the capture.
	cached, ok := d.LastFrame()
	require.True(t, ok)
	require.Equal(t, img.Bounds(), cached.Bounds())
	orig := img.(*image.NRGBA)
	decoded := cached.(*image.NRGBA)
	assert.Equal(t, orig.Pix, decoded.Pix)
}

func TestDispatcherSaveLastFrame(t *testing.T) {
	runner := newFakeRunner()
	runner.results["-s 127.0.0.1:5555 exec-out screencap"] = &command.CommandResult{
		ExitCode:  0,
		RawStdout: rawFrame(4, 3),
	}
	d := newTestDispatcher(t, runner, 1)
	dir := t.TempDir()

	// Nothing captured yet: nothing to save.
	_, err := d.SaveLastFrame(dir, "donation")
	require.Error(t, err)

	_, err = d.Screencap(context.Background())
	require.NoError(t, err)

	path, err := d.SaveLastFrame(dir, "donation")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), "alpha_donation_")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	saved, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), saved.Bounds())
}

func TestDispatcherObservesSettleDelay(t *testing.T) {
	runner := newFakeRunner()
	log := logger.NewLogger("error", "text", io.Discard)
	client := NewClient("adb", "alpha", "127.0.0.1:5555", runner, log)
	const settle = 100 * time.Millisecond
	d := NewDispatcher(client, settle, 1, nil, log)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, d.Tap(ctx, 1, 2))
	assert.GreaterOrEqual(t, time.Since(start), settle, "input commands must wait out the settle delay")

	// Connect is not an input command; no settle applies.
	start = time.Now()
	require.NoError(t, d.Connect(ctx))
	assert.Less(t, time.Since(start), settle)
}

func TestDispatcherScreencapRejectsMalformedFrame(t *testing.T) {
	runner := newFakeRunner()
	runner.results["-s 127.0.0.1:5555 exec-out screencap"] = &command.CommandResult{
		ExitCode:  0,
		RawStdout: []byte{0x01, 0x02, 0x03},
	}
	d := newTestDispatcher(t, runner, 1)

	_, err := d.Screencap(context.Background())
	require.Error(t, err)
	// A malformed frame is a rejected command; with attempts exhausted it
	// surfaces as device unavailability.
	assert.True(t, eperrors.IsDeviceUnavailable(err))
}

func TestClientConnectReportsRefusal(t *testing.T) {
	runner := newFakeRunner()
	runner.results["connect 127.0.0.1:5555"] = &command.CommandResult{
		ExitCode: 0,
		Stdout:   "cannot connect to 127.0.0.1:5555: Connection refused",
	}
	log := logger.NewLogger("error", "text", io.Discard)
	client := NewClient("adb", "alpha", "127.0.0.1:5555", runner, log)

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, eperrors.IsDeviceUnavailable(err))
}

func TestClientRunnerStartFailureIsDeviceUnavailable(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["-s 127.0.0.1:5555 shell input tap 1 1"] = fmt.Errorf("exec: adb: not found")
	d := newTestDispatcher(t, runner, 1)

	err := d.Tap(context.Background(), 1, 1)
	require.Error(t, err)
	assert.True(t, eperrors.IsDeviceUnavailable(err))
}
