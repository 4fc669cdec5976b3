package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	emupilot "github.com/emupilot-labs/emupilot/pkg/emupilot/v1"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"

	"github.com/emupilot-labs/emupilot/internal/completion"
	"github.com/emupilot-labs/emupilot/internal/config"
	"github.com/emupilot-labs/emupilot/internal/events"
	"github.com/emupilot-labs/emupilot/internal/logger"
	"github.com/emupilot-labs/emupilot/internal/metrics"
	"github.com/emupilot-labs/emupilot/internal/orchestrator"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	"github.com/emupilot-labs/emupilot/internal/tracing"

	_ "github.com/emupilot-labs/emupilot/tasks/build"
	_ "github.com/emupilot-labs/emupilot/tasks/charswitch"
	_ "github.com/emupilot-labs/emupilot/tasks/donation"
	_ "github.com/emupilot-labs/emupilot/tasks/expedition"
)

const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUsageError      = 2
	ExitTimeout         = 124
	ExitSigIntBase      = 128
	ExitSigInt          = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm         = ExitSigIntBase + int(syscall.SIGTERM)
	DefaultLogLevel     = "info"
	DefaultLogFmt       = "text"
	DefaultEventBusSize = 256
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "validate":
			runValidateCommand(os.Args[2:])
			return
		case "reset":
			os.Exit(runResetCommand(os.Args[2:]))
		case "--version", "-version":
			if len(os.Args) == 2 {
				printVersion()
				os.Exit(ExitSuccess)
			}
		}
	}
	exitCode := runExecuteCommand(os.Args[1:])
	os.Exit(exitCode)
}

func printVersion() {
	fmt.Printf("emupilot version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) {
	validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := validateFlags.String("config", "", "Path to the instance config YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -config <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates the structure and schema compatibility of an emupilot config.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing validate flags: %v\n", err)
		os.Exit(ExitUsageError)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required for validation")
		validateFlags.Usage()
		os.Exit(ExitUsageError)
	}

	log := logger.NewLogger(*logLevel, "text", os.Stderr)
	log.Infof("Validating config: %s", *configPath)

	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		var validationErr *eperrors.ValidationError
		var configErr *eperrors.ConfigError
		if errors.As(err, &validationErr) {
			log.Errorf("Config validation failed:\n%s", validationErr.Error())
		} else if errors.As(err, &configErr) {
			log.Errorf("Config error:\n%s", configErr.Error())
		} else {
			log.Errorf("Failed to load or validate config: %v", err)
		}
		os.Exit(ExitFailure)
	}

	// Validation also checks that every enabled task kind is actually
	// registered, which the schema alone cannot know.
	registry := inttask.DefaultStaticRegistryGetter
	ok := true
	for i := range cfg.Profiles {
		for _, kind := range cfg.Profiles[i].Tasks {
			if _, err := registry.Get(kind); err != nil {
				log.Errorf("Profile '%s': %v", cfg.Profiles[i].Name, err)
				ok = false
			}
		}
	}
	if !ok {
		os.Exit(ExitFailure)
	}

	log.Infof("Config validation successful: %s (%d profile(s))", *configPath, len(cfg.Profiles))
	os.Exit(ExitSuccess)
}

// runResetCommand clears daily completion records, optionally scoped to one
// instance and/or one task kind.
func runResetCommand(args []string) int {
	resetFlags := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := resetFlags.String("config", "", "Path to the instance config YAML file (required)")
	instance := resetFlags.String("instance", "", "Only reset records for this instance (default: all)")
	taskKind := resetFlags.String("task", "", "Only reset records for this task kind (default: all)")
	logLevel := resetFlags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")

	resetFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s reset -config <path> [-instance <name>] [-task <kind>]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Clears daily completion records so tasks run again today.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		resetFlags.PrintDefaults()
	}

	if err := resetFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required")
		resetFlags.Usage()
		return ExitUsageError
	}

	log := logger.NewLogger(*logLevel, "text", os.Stderr)
	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		return ExitFailure
	}

	store, err := completion.NewFileStore(cfg.StorePath, log)
	if err != nil {
		log.Errorf("Failed to open completion store: %v", err)
		return ExitFailure
	}
	defer store.Close()

	if err := store.Reset(*instance, *taskKind); err != nil {
		log.Errorf("Failed to reset completion records: %v", err)
		return ExitFailure
	}

	scope := "all instances and tasks"
	if *instance != "" || *taskKind != "" {
		scope = fmt.Sprintf("instance=%q task=%q", *instance, *taskKind)
	}
	log.Infof("Completion records reset (%s)", scope)
	return ExitSuccess
}

func runExecuteCommand(args []string) int {
	execFlags := flag.NewFlagSet("emupilot", flag.ExitOnError)
	configPath := execFlags.String("config", "", "Path to the instance config YAML file (required)")
	instanceList := execFlags.String("instances", "", "Comma-separated instance names to run (default: all profiles)")
	force := execFlags.Bool("force", false, "Re-execute tasks already recorded done today")
	logLevel := execFlags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	logFormat := execFlags.String("log-format", DefaultLogFmt, "Log format (text, json)")
	versionFlag := execFlags.Bool("version", false, "Print version information and exit")

	execFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...] -config <path>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Runs the enabled daily tasks on the configured emulator instances.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		execFlags.PrintDefaults()
	}

	if err := execFlags.Parse(args); err != nil {
		return ExitUsageError
	}

	if *versionFlag {
		printVersion()
		return ExitSuccess
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required")
		execFlags.Usage()
		return ExitUsageError
	}
	if *logFormat != "text" && *logFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: -log-format must be 'text' or 'json'")
		return ExitUsageError
	}

	var logWriter io.Writer = os.Stderr
	log := logger.NewLogger(*logLevel, *logFormat, logWriter)
	log = log.With("emupilot_version", version)

	log.Infof("Emupilot v%s starting...", version)
	log.Debugf("Log level: %s", *logLevel)
	log.Debugf("Log format: %s", *logFormat)

	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		log.Errorf("Failed to load config '%s': %v", *configPath, err)
		return ExitFailure
	}

	eventBus := events.NewChannelEventBus(DefaultEventBusSize, log)
	defer eventBus.Close()
	metricsProvider := metrics.NewPrometheusRegistryProvider()
	tracerProvider, err := tracing.NewProviderFromEnv(context.Background())
	if err != nil {
		log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
		tracerProvider, _ = tracing.NewNoOpProvider()
	}

	orch, err := orchestrator.New(cfg, log,
		emupilot.WithEventBus(eventBus),
		emupilot.WithTaskRegistry(inttask.DefaultStaticRegistryGetter),
		emupilot.WithMetricsRegistryProvider(metricsProvider),
		emupilot.WithTracerProvider(tracerProvider),
		emupilot.WithForce(*force),
	)
	if err != nil {
		log.Errorf("Failed to create orchestrator: %v", err)
		return ExitFailure
	}
	defer orch.Close()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	listener := events.NewMetricsEventListener(eventBus, orch.EngineMetrics(), log)
	go listener.Start(runCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	// Stop must run before close, or a signal delivered in between is a send
	// on a closed channel.
	defer close(sigChan)
	defer signal.Stop(sigChan)

	var receivedSignal os.Signal
	var sigMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			cancelRun()
		case <-runCtx.Done():
			log.Debugf("Signal handler exiting because run context is done.")
		}
	}()
	defer wg.Wait()

	var instances []string
	if *instanceList != "" {
		for _, name := range strings.Split(*instanceList, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				instances = append(instances, trimmed)
			}
		}
	}

	log.Infof("Starting run...")
	report, runErr := orch.Run(runCtx, instances)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if shutdownErr := tracerProvider.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnf("Error shutting down tracer provider: %v", shutdownErr)
	}

	printReportSummary(log, report, runErr)

	sigMu.Lock()
	finalSignal := receivedSignal
	sigMu.Unlock()
	return determineExitCode(report, runErr, finalSignal, log)
}

func printReportSummary(log eplog.Logger, report *emupilot.RunReport, runErr error) {
	if report == nil {
		log.Warnf("Run finished but no report was generated (likely due to early failure).")
		if runErr != nil {
			logRunErrorReason(log, runErr)
		}
		return
	}

	statusLine := fmt.Sprintf("Run finished. Status: %s", report.OverallStatus)
	duration := report.Duration.Truncate(time.Millisecond)
	summaryLine := fmt.Sprintf("Duration: %v. Tasks: Total=%d, Completed=%d, Skipped=%d, Failed=%d, Aborted=%d",
		duration,
		report.TotalTasks, report.CompletedTasks, report.SkippedTasks,
		report.FailedTasks, report.AbortedTasks)

	if report.OverallStatus == orchestrator.StatusFailed || runErr != nil {
		log.Errorf("%s. %s", statusLine, summaryLine)
		if report.Error != "" {
			log.Errorf("Overall Error: %s", report.Error)
		} else if runErr != nil {
			logRunErrorReason(log, runErr)
		}
		logFailedTasks(log, report)
	} else {
		log.Infof("%s. %s", statusLine, summaryLine)
	}
}

func logRunErrorReason(log eplog.Logger, runErr error) {
	if errors.Is(runErr, context.Canceled) {
		log.Warnf("Run Reason: Cancelled.")
	} else if errors.Is(runErr, context.DeadlineExceeded) {
		log.Errorf("Run Reason: Timeout.")
	} else {
		log.Errorf("Run Error: %v", runErr)
	}
}

func logFailedTasks(log eplog.Logger, report *emupilot.RunReport) {
	if report.FailedTasks == 0 {
		return
	}
	log.Warnf("Failed Task Details:")
	for instance, result := range report.Instances {
		for _, tr := range result.TaskResults {
			if tr.Status == orchestrator.StatusFailed {
				log.Errorf("  - Instance '%s' task '%s': %s", instance, tr.Kind, tr.Error)
			}
		}
	}
}

func determineExitCode(report *emupilot.RunReport, runErr error, sig os.Signal, log eplog.Logger) int {
	exitCode := ExitSuccess

	if runErr != nil {
		exitCode = ExitFailure
		if errors.Is(runErr, context.Canceled) && sig != nil {
			switch sig {
			case syscall.SIGINT:
				exitCode = ExitSigInt
				log.Warnf("Run interrupted by signal: SIGINT")
			case syscall.SIGTERM:
				exitCode = ExitSigTerm
				log.Warnf("Run terminated by signal: SIGTERM")
			default:
				log.Warnf("Run terminated by signal: %v", sig)
			}
		} else if errors.Is(runErr, context.DeadlineExceeded) {
			exitCode = ExitTimeout
			log.Errorf("Run timed out.")
		}
	} else if sig != nil {
		// Workers wound down cooperatively after the signal; still report the
		// interruption to the caller.
		switch sig {
		case syscall.SIGTERM:
			exitCode = ExitSigTerm
		default:
			exitCode = ExitSigInt
		}
		log.Warnf("Run interrupted by signal: %v", sig)
	} else if report != nil && report.OverallStatus == orchestrator.StatusFailed {
		log.Errorf("Run finished but reported overall status as Failed.")
		exitCode = ExitFailure
	} else {
		log.Infof("Run completed successfully.")
		exitCode = ExitSuccess
	}
	return exitCode
}
