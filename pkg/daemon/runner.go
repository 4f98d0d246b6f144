package daemon

import (
	"context"
	goerrors "errors"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/config"
	"github.com/core-tools/hsu-zapret-go/pkg/connectivity"
	"github.com/core-tools/hsu-zapret-go/pkg/control"
	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/events"
	"github.com/core-tools/hsu-zapret-go/pkg/installation"
	"github.com/core-tools/hsu-zapret-go/pkg/lifecycle"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
	"github.com/core-tools/hsu-zapret-go/pkg/processrunner"
)

// ShutdownTimeout bounds the stop performed when the daemon exits
const ShutdownTimeout = 5 * time.Second

type RunOptions struct {
	Config      *config.Config // Used as is when set, otherwise ConfigFile is loaded
	ConfigFile  string
	Listen      string // Overrides control.listen when set
	Autostart   string // Mode to start right after the API is up
	RunDuration int    // Seconds to run, 0 means until signalled
}

func Run(ctx context.Context, options RunOptions, logger logging.Logger) error {
	logger.Infof("Zapret manager daemon starting...")

	logger.Infof("Platform: OS=%s, Arch=%s, CPUs=%d, Go=%s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())

	// Components outlive the run duration so the final stop can still execute
	componentCtx := context.WithoutCancel(ctx)
	operationCtx, cancelOperation := context.WithCancel(ctx)
	defer cancelOperation()

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", options.RunDuration)
		var cancelTimeout context.CancelFunc
		operationCtx, cancelTimeout = context.WithTimeout(operationCtx, time.Duration(options.RunDuration)*time.Second)
		defer cancelTimeout()
	}

	cfg := options.Config
	if cfg == nil {
		loaded, err := LoadAndValidateConfig(options.ConfigFile)
		if err != nil {
			return err
		}
		if options.ConfigFile == "" {
			logger.Infof("No configuration file given, using defaults")
		} else {
			logger.Infof("Configuration loaded successfully from %s", options.ConfigFile)
		}
		cfg = loaded
	}
	if options.Listen != "" {
		listenCopy := *cfg
		listenCopy.Control.Listen = options.Listen
		cfg = &listenCopy
	}

	var autostart lifecycle.Mode
	var err error
	if options.Autostart != "" {
		autostart, err = lifecycle.ParseMode(options.Autostart)
		if err != nil {
			return err
		}
	}

	manager, err := NewManager(cfg, logger)
	if err != nil {
		var notFound *installation.NotFoundError
		if goerrors.As(err, &notFound) {
			logger.Errorf("Install zapret into one of the following directories:")
			for _, candidate := range notFound.Candidates {
				logger.Errorf("  %s", candidate)
			}
		}
		return err
	}
	logger.Infof("Managing installation: %s", manager.Installation())

	server := control.NewServer(manager, logger)
	serverCtx, stopServer := context.WithCancel(componentCtx)
	defer stopServer()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Run(serverCtx, cfg.Control.Listen)
	}()

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	var wg sync.WaitGroup
	if autostart != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if manager.Start(componentCtx, autostart) {
				logger.Infof("Autostarted in mode %s", autostart)
			} else {
				logger.Errorf("Autostart in mode %s failed", autostart)
			}
		}()
	}

	logger.Infof("Zapret manager daemon is ready")

	var runErr error
	select {
	case receivedSignal := <-sig:
		logger.Infof("Zapret manager daemon received signal: %v", receivedSignal)
	case <-operationCtx.Done():
		logger.Infof("Zapret manager daemon run finished")
	case runErr = <-serverDone:
		if runErr != nil {
			logger.Errorf("Control API stopped: %v", runErr)
		}
		serverDone = nil
	}

	logger.Infof("Waiting for autostart to finish...")
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(componentCtx, ShutdownTimeout)
	defer cancelShutdown()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Failed to stop the service on shutdown: %v", err)
	}

	stopServer()
	if serverDone != nil {
		if err := <-serverDone; err != nil && runErr == nil {
			runErr = err
		}
	}

	logger.Infof("Zapret manager daemon stopped")
	return runErr
}

// LoadAndValidateConfig loads a configuration file, or the defaults for an empty path
func LoadAndValidateConfig(configFile string) (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(configFile)
	if err != nil {
		return nil, errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return cfg, nil
}

// NewManager wires the runner, prober and event bus described by cfg into a lifecycle manager.
// Every event is mirrored into logger.
func NewManager(cfg *config.Config, logger logging.Logger) (*lifecycle.Manager, error) {
	runner, err := processrunner.NewRunner(cfg.Process.RunnerOptions(), logger)
	if err != nil {
		return nil, err
	}
	prober, err := connectivity.NewProber(cfg.Probe.ProberOptions(), logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	MirrorEvents(bus, logger)

	return lifecycle.NewManager(lifecycle.Options{
		Locator:         cfg.Installation.Locator(logger),
		Runner:          runner,
		Prober:          prober,
		Bus:             bus,
		ScriptExtension: cfg.Installation.ScriptExtension,
		StopScript:      cfg.Installation.StopScript,
		UpdateScript:    cfg.Installation.UpdateScript,
		ConfigFile:      cfg.Installation.ConfigFile,
		Elevate:         cfg.Process.ElevateEnabled(),
	}, logger)
}

// MirrorEvents writes bus events to logger: manager messages at info or error,
// relayed script output at debug or error
func MirrorEvents(bus *events.Bus, logger logging.Logger) {
	bus.SubscribeLogs(func(e events.LogEvent) {
		switch {
		case e.Level == events.LevelError:
			logger.Errorf("[%s] %s", e.Source, e.Message)
		case e.Source == events.SourceManager:
			logger.Infof("[%s] %s", e.Source, e.Message)
		default:
			logger.Debugf("[%s] %s", e.Source, e.Message)
		}
	})
	bus.SubscribeState(func(e events.StateEvent) {
		logger.Infof("Service running: %t", e.Running)
	})
}
