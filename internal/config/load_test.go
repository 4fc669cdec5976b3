package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
schemaVersion: "1.0.0"
adb_path: /usr/bin/adb
store_path: /tmp/daily_tasks.json
ocr:
  timeout_seconds: 5
  debug_dir: /tmp/ocr-debug
timing:
  settle_delay_ms: 500
  stagger_seconds: 3
recovery:
  max_stall_cycles: 4
  max_retries: 1
profiles:
  - name: "Main"
    port: 5555
    package: com.example.game
    activity: com.example.engine.MainActivity
    tasks: [donation, expedition]
    params:
      donation:
        donate_taps: 8
    regions:
      screen_state:
        x: 0
        y: 0
        width: 400
        height: 60
        grayscale: true
        threshold: 128
  - name: "Alt"
    host: 127.0.0.1
    port: 5565
    package: com.example.game
    tasks: [donation]
`

func TestLoadConfigValid(t *testing.T) {
	cfg, err := LoadConfig([]byte(validConfigYAML), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/adb", cfg.ADBPath)
	assert.Equal(t, "/tmp/daily_tasks.json", cfg.StorePath)
	assert.Equal(t, "/tmp/ocr-debug", cfg.OCR.DebugDir)
	require.Len(t, cfg.Profiles, 2)
	assert.Equal(t, "127.0.0.1:5555", cfg.Profiles[0].Endpoint())
	assert.Equal(t, []string{"donation", "expedition"}, cfg.Profiles[0].Tasks)
	assert.Equal(t, 8, cfg.Profiles[0].TaskParams("donation")["donate_taps"])
	assert.Empty(t, cfg.Profiles[0].TaskParams("expedition"))

	region, ok := cfg.Profiles[0].Regions["screen_state"]
	require.True(t, ok)
	assert.True(t, region.Grayscale)
	assert.Equal(t, 128, region.Threshold)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	minimal := `
schemaVersion: "1.0.0"
profiles:
  - name: Main
    port: 5555
    package: com.example.game
    tasks: [donation]
`
	cfg, err := LoadConfig([]byte(minimal), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultADBPath, cfg.ADBPath)
	assert.Equal(t, DefaultStorePath, cfg.StorePath)
	assert.Equal(t, DefaultTesseractPath, cfg.OCR.TesseractPath)
	assert.Equal(t, DefaultOCRTimeoutSeconds, cfg.OCR.TimeoutSeconds)
	assert.Equal(t, DefaultSettleDelayMs, cfg.Timing.SettleDelayMs)
	assert.Equal(t, DefaultStaggerSeconds, cfg.Timing.StaggerSeconds)
	assert.Equal(t, DefaultMaxStallCycles, cfg.Recovery.MaxStallCycles)
	assert.Equal(t, DefaultMaxRetries, cfg.Recovery.MaxRetries)
	assert.Equal(t, DefaultHost, cfg.Profiles[0].Host)
}

func TestLoadConfigRejectsUnknownField(t *testing.T) {
	bad := `
schemaVersion: "1.0.0"
banana: true
profiles:
  - name: Main
    port: 5555
    package: com.example.game
    tasks: [donation]
`
	_, err := LoadConfig([]byte(bad), "test.yaml")
	require.Error(t, err)
}

func TestLoadConfigRejectsIncompatibleSchemaVersion(t *testing.T) {
	bad := `
schemaVersion: "2.0.0"
profiles:
  - name: Main
    port: 5555
    package: com.example.game
    tasks: [donation]
`
	_, err := LoadConfig([]byte(bad), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compatible")
}

func TestLoadConfigRejectsDuplicateEndpoints(t *testing.T) {
	bad := `
schemaVersion: "1.0.0"
profiles:
  - name: Main
    port: 5555
    package: com.example.game
    tasks: [donation]
  - name: Alt
    port: 5555
    package: com.example.game
    tasks: [donation]
`
	_, err := LoadConfig([]byte(bad), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by profile")
}

func TestLoadConfigRejectsParamsForDisabledTask(t *testing.T) {
	bad := `
schemaVersion: "1.0.0"
profiles:
  - name: Main
    port: 5555
    package: com.example.game
    tasks: [donation]
    params:
      expedition:
        campaign_x: 1
`
	_, err := LoadConfig([]byte(bad), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the enabled task list")
}

func TestLoadConfigRejectsDuplicateTasks(t *testing.T) {
	bad := `
schemaVersion: "1.0.0"
profiles:
  - name: Main
    port: 5555
    package: com.example.game
    tasks: [donation, donation]
`
	_, err := LoadConfig([]byte(bad), "test.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enabled more than once")
}

func TestLoadConfigRejectsEmpty(t *testing.T) {
	_, err := LoadConfig(nil, "test.yaml")
	require.Error(t, err)
}
