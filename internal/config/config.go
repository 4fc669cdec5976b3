package config

import (
	"fmt"
	"time"
)

// Defaults applied when the corresponding field is absent from the config file.
const (
	DefaultADBPath             = "adb"
	DefaultTesseractPath       = "tesseract"
	DefaultHost                = "127.0.0.1"
	DefaultOCRTimeoutSeconds   = 10
	DefaultSettleDelayMs       = 1000
	DefaultStaggerSeconds      = 5
	DefaultGameLoadWaitSeconds = 30
	DefaultMaxStallCycles      = 3
	DefaultMaxRetries          = 2
	DefaultStorePath           = "daily_tasks.json"
)

// Config represents the top-level structure of an emupilot config YAML file.
// It is produced by the external configuration editor; the engine only reads it.
type Config struct {
	SchemaVersion string         `yaml:"schemaVersion"`
	ADBPath       string         `yaml:"adb_path,omitempty"`
	StorePath     string         `yaml:"store_path,omitempty"`
	OCR           OCRConfig      `yaml:"ocr,omitempty"`
	Timing        TimingConfig   `yaml:"timing,omitempty"`
	Recovery      RecoveryConfig `yaml:"recovery,omitempty"`
	Profiles      []Profile      `yaml:"profiles"`

	// FilePath is an internal field for storing the source file path for context
	// in logging and error messages. It is not parsed from the YAML.
	FilePath string `yaml:"-"`
}

// OCRConfig configures the external OCR capability.
type OCRConfig struct {
	TesseractPath  string `yaml:"tesseract_path,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	// DebugDir, when set, receives a PNG of the last captured frame every time
	// a task fails, so the screen the perceiver was stuck on can be inspected
	// offline. Empty disables the dump.
	DebugDir string `yaml:"debug_dir,omitempty"`
}

// Timeout returns the bounded-time contract for one OCR invocation.
func (o OCRConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// TimingConfig configures the engine's pacing.
type TimingConfig struct {
	// SettleDelayMs is the pause after every dispatched command before the
	// perception unit may re-sample, to avoid reading mid-animation frames.
	SettleDelayMs int `yaml:"settle_delay_ms,omitempty"`
	// StaggerSeconds is the fixed delay between consecutive worker starts.
	StaggerSeconds int `yaml:"stagger_seconds,omitempty"`
	// GameLoadWaitSeconds bounds the wait for the game process to reach the
	// login screen after launch.
	GameLoadWaitSeconds int `yaml:"game_load_wait_seconds,omitempty"`
}

// SettleDelay returns the post-command settle delay.
func (t TimingConfig) SettleDelay() time.Duration {
	return time.Duration(t.SettleDelayMs) * time.Millisecond
}

// Stagger returns the worker start stagger offset.
func (t TimingConfig) Stagger() time.Duration {
	return time.Duration(t.StaggerSeconds) * time.Second
}

// GameLoadWait returns the bounded game-load wait.
func (t TimingConfig) GameLoadWait() time.Duration {
	return time.Duration(t.GameLoadWaitSeconds) * time.Second
}

// RecoveryConfig bundles the stuck-detection thresholds. The exact values are
// deliberately tunable rather than hard-coded.
type RecoveryConfig struct {
	// MaxStallCycles is the number of consecutive no-progress perception
	// cycles tolerated before the state machine enters Recovering.
	MaxStallCycles int `yaml:"max_stall_cycles,omitempty"`
	// MaxRetries is the number of recovery rounds tolerated before a task is
	// marked Failed.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Region is a screen rectangle plus preprocessing flags, used by the
// perception unit to crop captures before OCR.
type Region struct {
	X         int  `yaml:"x"`
	Y         int  `yaml:"y"`
	Width     int  `yaml:"width"`
	Height    int  `yaml:"height"`
	Grayscale bool `yaml:"grayscale,omitempty"`
	// Threshold binarizes the grayscale crop at the given luminance (1-255).
	// Zero disables thresholding.
	Threshold int `yaml:"threshold,omitempty"`
}

// Profile represents one configured emulator instance. Immutable for the
// duration of a run; owned by the orchestrator.
type Profile struct {
	// Name is the display identity; also the instance key in the completion store.
	Name string `yaml:"name"`
	// Host/Port form the device-bridge endpoint. Host defaults to loopback.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port"`
	// EmulatorInstance is the emulator-side instance identifier, if any.
	EmulatorInstance string `yaml:"emulator_instance,omitempty"`
	// Package/Activity identify the game application.
	Package  string `yaml:"package"`
	Activity string `yaml:"activity,omitempty"`
	// CloseAfterRun force-stops the game app once the worker finishes.
	CloseAfterRun bool `yaml:"close_after_run,omitempty"`
	// Tasks is the enabled task kind set, executed in order.
	Tasks []string `yaml:"tasks"`
	// Params holds per-task parameter maps, keyed by task kind.
	Params map[string]map[string]interface{} `yaml:"params,omitempty"`
	// Regions holds the named perception regions referenced by task scripts.
	Regions map[string]Region `yaml:"regions,omitempty"`
}

// Endpoint returns the device-bridge serial ("host:port") for this profile.
func (p *Profile) Endpoint() string {
	host := p.Host
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("%s:%d", host, p.Port)
}

// TaskParams returns the parameter map for one task kind, never nil.
func (p *Profile) TaskParams(kind string) map[string]interface{} {
	if params, ok := p.Params[kind]; ok && params != nil {
		return params
	}
	return map[string]interface{}{}
}

// ApplyDefaults fills zero-valued fields with engine defaults.
func (c *Config) ApplyDefaults() {
	if c.ADBPath == "" {
		c.ADBPath = DefaultADBPath
	}
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath
	}
	if c.OCR.TesseractPath == "" {
		c.OCR.TesseractPath = DefaultTesseractPath
	}
	if c.OCR.TimeoutSeconds <= 0 {
		c.OCR.TimeoutSeconds = DefaultOCRTimeoutSeconds
	}
	if c.Timing.SettleDelayMs <= 0 {
		c.Timing.SettleDelayMs = DefaultSettleDelayMs
	}
	if c.Timing.StaggerSeconds <= 0 {
		c.Timing.StaggerSeconds = DefaultStaggerSeconds
	}
	if c.Timing.GameLoadWaitSeconds <= 0 {
		c.Timing.GameLoadWaitSeconds = DefaultGameLoadWaitSeconds
	}
	if c.Recovery.MaxStallCycles <= 0 {
		c.Recovery.MaxStallCycles = DefaultMaxStallCycles
	}
	if c.Recovery.MaxRetries <= 0 {
		c.Recovery.MaxRetries = DefaultMaxRetries
	}
	for i := range c.Profiles {
		if c.Profiles[i].Host == "" {
			c.Profiles[i].Host = DefaultHost
		}
	}
}

// ProfileByName returns the profile with the given display name, if present.
func (c *Config) ProfileByName(name string) (*Profile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}
