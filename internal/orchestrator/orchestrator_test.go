package orchestrator

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intcommand "github.com/emupilot-labs/emupilot/internal/command"
	"github.com/emupilot-labs/emupilot/internal/completion"
	"github.com/emupilot-labs/emupilot/internal/config"
	"github.com/emupilot-labs/emupilot/internal/logger"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	epv1 "github.com/emupilot-labs/emupilot/pkg/emupilot/v1"
	epcompletion "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

// recordingRunner records every external command invocation. Endpoints listed
// in failing reject every adb command addressed to them; screencap, when set,
// is replayed as the raw stdout of every capture command.
type recordingRunner struct {
	mu        sync.Mutex
	calls     []string
	failing   map[string]bool
	screencap []byte
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{failing: make(map[string]bool)}
}

func (r *recordingRunner) Run(_ context.Context, _ string, args []string, _ io.Reader) (*intcommand.CommandResult, error) {
	key := strings.Join(args, " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
	for endpoint := range r.failing {
		if strings.Contains(key, endpoint) {
			return &intcommand.CommandResult{ExitCode: 1, Stderr: "device offline"}, nil
		}
	}
	if r.screencap != nil && strings.Contains(key, "exec-out screencap") {
		return &intcommand.CommandResult{ExitCode: 0, RawStdout: r.screencap}, nil
	}
	return &intcommand.CommandResult{ExitCode: 0}, nil
}

func (r *recordingRunner) callsFor(endpoint string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, call := range r.calls {
		if strings.Contains(call, endpoint) {
			out = append(out, call)
		}
	}
	return out
}

// actionScript is a perception-free script: it taps once and verifies without
// sampling any region, so tests need no fake frames.
type actionScript struct{}

func (s *actionScript) Kind() string                           { return "noop_tap" }
func (s *actionScript) Configure(map[string]interface{}) error { return nil }
func (s *actionScript) Recovery() []eptask.Action              { return []eptask.Action{eptask.Back()} }

func (s *actionScript) Steps() []eptask.Step {
	return []eptask.Step{
		{Phase: eptask.ExecutingAction, Actions: []eptask.Action{eptask.Tap(50, 60)}},
		{Phase: eptask.Verifying},
	}
}

// slowScript holds its worker inside a long scripted wait, giving a cancel
// request a window to land.
type slowScript struct{}

func (s *slowScript) Kind() string                           { return "slow_wait" }
func (s *slowScript) Configure(map[string]interface{}) error { return nil }
func (s *slowScript) Recovery() []eptask.Action              { return nil }

func (s *slowScript) Steps() []eptask.Step {
	return []eptask.Step{
		{Phase: eptask.ExecutingAction, Actions: []eptask.Action{eptask.Wait(30000)}},
		{Phase: eptask.Verifying},
	}
}

// stuckScript never sees its expected label, so its stall budget trips on the
// first perceive cycle when max_stall_cycles is 1.
type stuckScript struct{}

func (s *stuckScript) Kind() string                           { return "stuck_verify" }
func (s *stuckScript) Configure(map[string]interface{}) error { return nil }
func (s *stuckScript) Recovery() []eptask.Action              { return nil }

func (s *stuckScript) Steps() []eptask.Step {
	return []eptask.Step{
		{Phase: eptask.Verifying, Region: "screen_state", Expect: []string{"victory"}},
	}
}

func testConfig(profiles ...config.Profile) *config.Config {
	return &config.Config{
		SchemaVersion: "1.0.0",
		ADBPath:       "adb",
		Profiles:      profiles,
		// Zero timing keeps tests fast: no settle, no stagger, no load wait.
	}
}

func testProfile(name string, port int) config.Profile {
	return config.Profile{
		Name:    name,
		Host:    "127.0.0.1",
		Port:    port,
		Package: "com.example.game",
		Tasks:   []string{"noop_tap"},
	}
}

func setupOrchestrator(t *testing.T, cfg *config.Config, runner *recordingRunner,
	store epcompletion.Store) *Orchestrator {
	t.Helper()
	registry := inttask.NewStaticRegistry()
	require.NoError(t, registry.Register("noop_tap", func() eptask.Script { return &actionScript{} }))
	require.NoError(t, registry.Register("slow_wait", func() eptask.Script { return &slowScript{} }))
	require.NoError(t, registry.Register("stuck_verify", func() eptask.Script { return &stuckScript{} }))

	log := logger.NewLogger("error", "text", io.Discard)
	o, err := New(cfg, log,
		epv1.WithCompletionStore(store),
		epv1.WithTaskRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, o.SetCommandRunner(runner))
	return o
}

func TestRunExecutesAllProfiles(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555), testProfile("beta", 5565))
	runner := newRecordingRunner()
	store := completion.NewMemoryStore()
	o := setupOrchestrator(t, cfg, runner, store)

	report, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.OverallStatus)
	assert.Equal(t, 2, report.TotalTasks)
	assert.Equal(t, 2, report.CompletedTasks)
	require.Len(t, report.Instances, 2)
	assert.Equal(t, StatusCompleted, report.Instances["alpha"].Status)
	assert.Equal(t, StatusCompleted, report.Instances["beta"].Status)

	for _, name := range []string{"alpha", "beta"} {
		done, err := store.IsDone(name, "noop_tap", epcompletion.Today())
		require.NoError(t, err)
		assert.True(t, done, "instance %s should be marked done", name)
	}
}

func TestRunNeverCrossesEndpoints(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555), testProfile("beta", 5565))
	runner := newRecordingRunner()
	o := setupOrchestrator(t, cfg, runner, completion.NewMemoryStore())

	_, err := o.Run(context.Background(), nil)
	require.NoError(t, err)

	// Every command addressed to an endpoint must carry that endpoint's -s
	// serial; the recorded call lists for the two endpoints are disjoint by
	// construction, so it suffices that both received their own traffic.
	alpha := runner.callsFor("127.0.0.1:5555")
	beta := runner.callsFor("127.0.0.1:5565")
	assert.NotEmpty(t, alpha)
	assert.NotEmpty(t, beta)
	for _, call := range alpha {
		assert.NotContains(t, call, "127.0.0.1:5565")
	}
}

func TestRunFailureDomainsAreIndependent(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555), testProfile("beta", 5565))
	runner := newRecordingRunner()
	runner.failing["127.0.0.1:5555"] = true
	store := completion.NewMemoryStore()
	o := setupOrchestrator(t, cfg, runner, store)

	report, err := o.Run(context.Background(), nil)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, StatusFailed, report.OverallStatus)
	assert.Equal(t, StatusFailed, report.Instances["alpha"].Status)
	// The beta worker is untouched by alpha's device loss.
	assert.Equal(t, StatusCompleted, report.Instances["beta"].Status)

	done, err := store.IsDone("beta", "noop_tap", epcompletion.Today())
	require.NoError(t, err)
	assert.True(t, done)
	done, err = store.IsDone("alpha", "noop_tap", epcompletion.Today())
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRunSelectsNamedInstances(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555), testProfile("beta", 5565))
	runner := newRecordingRunner()
	o := setupOrchestrator(t, cfg, runner, completion.NewMemoryStore())

	report, err := o.Run(context.Background(), []string{"beta"})
	require.NoError(t, err)
	require.Len(t, report.Instances, 1)
	assert.Contains(t, report.Instances, "beta")
	assert.Empty(t, runner.callsFor("127.0.0.1:5555"))
}

func TestRunRejectsUnknownInstance(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555))
	o := setupOrchestrator(t, cfg, newRecordingRunner(), completion.NewMemoryStore())

	_, err := o.Run(context.Background(), []string{"gamma"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown instance 'gamma'")
}

func TestRunSkipsTasksAlreadyDone(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555))
	runner := newRecordingRunner()
	store := completion.NewMemoryStore()
	_, err := store.MarkDone("alpha", "noop_tap", epcompletion.Today())
	require.NoError(t, err)
	o := setupOrchestrator(t, cfg, runner, store)

	report, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedTasks)
	assert.Equal(t, 0, report.CompletedTasks)

	// The gate fires before launch: only the connect command reaches the bridge.
	calls := runner.callsFor("127.0.0.1:5555")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "connect")
}

func TestCancelAllAbortsWorkers(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555))
	// A long game-load wait gives CancelAll a window to interrupt.
	cfg.Timing.GameLoadWaitSeconds = 30
	runner := newRecordingRunner()
	o := setupOrchestrator(t, cfg, runner, completion.NewMemoryStore())

	done := make(chan *epv1.RunReport, 1)
	go func() {
		report, _ := o.Run(context.Background(), nil)
		done <- report
	}()

	// Wait for the worker to appear in the status stream, then cancel it.
	require.Eventually(t, func() bool {
		statuses := o.Status()
		return len(statuses) == 1 && statuses[0].Running
	}, 5*time.Second, 10*time.Millisecond)
	o.CancelAll()

	select {
	case report := <-done:
		require.NotNil(t, report)
		assert.Equal(t, StatusAborted, report.OverallStatus)
		assert.Equal(t, 1, report.AbortedTasks)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after CancelAll")
	}
	assert.Empty(t, o.Status(), "no workers should remain after the run")
}

func TestCancelOneInstanceLeavesOthersAlone(t *testing.T) {
	alpha := testProfile("alpha", 5555)
	alpha.Tasks = []string{"slow_wait"}
	cfg := testConfig(alpha, testProfile("beta", 5565))
	runner := newRecordingRunner()
	store := completion.NewMemoryStore()
	o := setupOrchestrator(t, cfg, runner, store)

	done := make(chan *epv1.RunReport, 1)
	go func() {
		report, _ := o.Run(context.Background(), nil)
		done <- report
	}()

	// Wait for alpha to sit inside its scripted wait, then cancel it by name.
	require.Eventually(t, func() bool {
		for _, s := range o.Status() {
			if s.Instance == "alpha" && s.Running && s.State == eptask.ExecutingAction.String() {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	require.Error(t, o.Cancel("gamma"), "cancelling an unknown instance must fail")
	require.NoError(t, o.Cancel("alpha"))

	select {
	case report := <-done:
		require.NotNil(t, report)
		assert.Equal(t, StatusAborted, report.Instances["alpha"].Status)
		assert.Equal(t, StatusCompleted, report.Instances["beta"].Status)
		assert.Equal(t, 1, report.AbortedTasks)
		assert.Equal(t, 1, report.CompletedTasks)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after Cancel")
	}

	// Only the untouched instance is recorded done.
	doneBeta, err := store.IsDone("beta", "noop_tap", epcompletion.Today())
	require.NoError(t, err)
	assert.True(t, doneBeta)
	doneAlpha, err := store.IsDone("alpha", "slow_wait", epcompletion.Today())
	require.NoError(t, err)
	assert.False(t, doneAlpha)
}

// rawScreencapFrame builds the wire form of a capture: 12-byte header
// (LE width, height, pixel format) followed by RGBA pixels.
func rawScreencapFrame(width, height int) []byte {
	buf := make([]byte, 12+width*height*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(width))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(height))
	binary.LittleEndian.PutUint32(buf[8:12], 1) // RGBA_8888
	for i := 12; i < len(buf); i += 4 {
		buf[i+3] = 0xFF
	}
	return buf
}

func TestFailedTaskSavesDebugFrame(t *testing.T) {
	profile := testProfile("alpha", 5555)
	profile.Tasks = []string{"stuck_verify"}
	profile.Regions = map[string]config.Region{
		"screen_state": {X: 0, Y: 0, Width: 2, Height: 2},
	}
	cfg := testConfig(profile)
	cfg.OCR.DebugDir = t.TempDir()
	cfg.Recovery.MaxStallCycles = 1
	runner := newRecordingRunner()
	runner.screencap = rawScreencapFrame(4, 3)
	o := setupOrchestrator(t, cfg, runner, completion.NewMemoryStore())

	report, err := o.Run(context.Background(), nil)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, StatusFailed, report.Instances["alpha"].Status)

	dumps, err := filepath.Glob(filepath.Join(cfg.OCR.DebugDir, "*.png"))
	require.NoError(t, err)
	require.Len(t, dumps, 1, "the stuck frame should be dumped for inspection")
	raw, err := os.ReadFile(dumps[0])
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Contains(t, filepath.Base(dumps[0]), "alpha_stuck_verify_")
}

func TestStatusReflectsWorkerState(t *testing.T) {
	cfg := testConfig(testProfile("alpha", 5555))
	cfg.Timing.GameLoadWaitSeconds = 30
	o := setupOrchestrator(t, cfg, newRecordingRunner(), completion.NewMemoryStore())

	assert.Empty(t, o.Status())

	done := make(chan struct{})
	go func() {
		_, _ = o.Run(context.Background(), nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		statuses := o.Status()
		if len(statuses) != 1 {
			return false
		}
		s := statuses[0]
		return s.Instance == "alpha" && s.Running && s.Task == "noop_tap" &&
			s.State == eptask.Launching.String()
	}, 5*time.Second, 10*time.Millisecond)

	o.CancelAll()
	<-done
}
