package lifecycle

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/connectivity"
	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/events"
	"github.com/core-tools/hsu-zapret-go/pkg/installation"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
	"github.com/core-tools/hsu-zapret-go/pkg/processrunner"
	"github.com/core-tools/hsu-zapret-go/pkg/runstate"

	"github.com/google/uuid"
)

const (
	DefaultStopScript   = "service"
	DefaultUpdateScript = "update"
	DefaultConfigFile   = "config"

	shutdownRetryInterval = 100 * time.Millisecond
)

var (
	// ErrAlreadyRunning rejects a start while the service is believed running
	ErrAlreadyRunning = errors.NewValidationError("service is already running", nil)

	// ErrNotRunning rejects a stop while the service is believed stopped
	ErrNotRunning = errors.NewValidationError("service is not running", nil)
)

type Locator interface {
	Locate() (installation.Installation, error)
}

type Prober interface {
	Test(ctx context.Context, name string) *connectivity.ProbeResult
	TestAll(ctx context.Context) []*connectivity.ProbeResult
	Targets() []connectivity.Target
}

type Options struct {
	Locator Locator
	Runner  processrunner.Runner
	Prober  Prober
	Bus     *events.Bus

	// ScriptExtension is appended to mode and entry point names, e.g. ".bat"
	ScriptExtension string
	StopScript      string
	UpdateScript    string
	ConfigFile      string

	// Elevate requests administrator rights for every spawned process
	Elevate bool
}

// OperationRecord describes the most recent lifecycle operation
type OperationRecord struct {
	Operation    string    `json:"operation"`
	Mode         Mode      `json:"mode,omitempty"`
	Success      bool      `json:"success"`
	Rejected     bool      `json:"rejected,omitempty"`
	Running      bool      `json:"running"` // Run state right after the operation
	Error        string    `json:"error,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type Status struct {
	Installation  string           `json:"installation"`
	Running       bool             `json:"running"`
	State         runstate.State   `json:"state"`
	Busy          bool             `json:"busy"`
	LastOperation *OperationRecord `json:"last_operation,omitempty"`
}

// Manager owns the run state of the bypass service and serializes its entry points.
// Only one external process is in flight per manager; a concurrent request is rejected as busy.
type Manager struct {
	options      Options
	installation installation.Installation
	runner       processrunner.Runner
	prober       Prober
	bus          *events.Bus
	state        *runstate.Machine
	logger       logging.Logger

	operationMutex sync.Mutex
	busy           atomic.Bool
	configMutex    sync.Mutex

	lastMutex sync.RWMutex
	last      *OperationRecord
}

// NewManager discovers the installation once. Failure to find one is fatal.
func NewManager(options Options, logger logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if options.Locator == nil {
		options.Locator = installation.NewDefaultLocator(logger)
	}
	if options.Bus == nil {
		options.Bus = events.NewBus(logger)
	}
	if options.Runner == nil {
		runner, err := processrunner.NewRunner(processrunner.DefaultOptions(), logger)
		if err != nil {
			return nil, err
		}
		options.Runner = runner
	}
	if options.Prober == nil {
		prober, err := connectivity.NewProber(connectivity.DefaultOptions(), logger)
		if err != nil {
			return nil, err
		}
		options.Prober = prober
	}
	if options.ScriptExtension == "" {
		options.ScriptExtension = installation.DefaultScriptExtension
	}
	if options.StopScript == "" {
		options.StopScript = DefaultStopScript
	}
	if options.UpdateScript == "" {
		options.UpdateScript = DefaultUpdateScript
	}
	if options.ConfigFile == "" {
		options.ConfigFile = DefaultConfigFile
	}

	install, err := options.Locator.Locate()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		options:      options,
		installation: install,
		runner:       options.Runner,
		prober:       options.Prober,
		bus:          options.Bus,
		state:        runstate.NewMachine("zapret", logger),
		logger:       logger,
	}
	m.publishInfo("", fmt.Sprintf("Installation found at %s", install.Dir()))
	return m, nil
}

func (m *Manager) Installation() installation.Installation {
	return m.installation
}

func (m *Manager) Bus() *events.Bus {
	return m.bus
}

func (m *Manager) IsRunning() bool {
	return m.state.Running()
}

func (m *Manager) Status() Status {
	status := Status{
		Installation: m.installation.Dir(),
		Running:      m.state.Running(),
		State:        m.state.Current(),
		Busy:         m.busy.Load(),
	}
	m.lastMutex.RLock()
	if m.last != nil {
		last := *m.last
		status.LastOperation = &last
	}
	m.lastMutex.RUnlock()
	return status
}

// Start runs <mode><ext> with the "start" argument and marks the service running on success
func (m *Manager) Start(ctx context.Context, mode Mode) bool {
	return m.StartOperation(ctx, mode).Success
}

// StartOperation is Start returning the record of this very call
func (m *Manager) StartOperation(ctx context.Context, mode Mode) OperationRecord {
	record := m.begin("start")
	record.Mode = mode
	err := m.start(ctx, mode, record)
	return m.finish(record, err)
}

// Stop runs the stop entry point with the "stop" argument and marks the service stopped on success
func (m *Manager) Stop(ctx context.Context) bool {
	return m.StopOperation(ctx).Success
}

func (m *Manager) StopOperation(ctx context.Context) OperationRecord {
	record := m.begin("stop")
	err := m.stop(ctx, record)
	return m.finish(record, err)
}

// Update runs the update entry point without arguments. The run state is not affected.
func (m *Manager) Update(ctx context.Context) bool {
	return m.UpdateOperation(ctx).Success
}

func (m *Manager) UpdateOperation(ctx context.Context) OperationRecord {
	record := m.begin("update")
	err := m.update(ctx, record)
	return m.finish(record, err)
}

// Test probes one named target. It does not interact with the running service.
func (m *Manager) Test(ctx context.Context, target string) *connectivity.ProbeResult {
	return m.prober.Test(ctx, target)
}

func (m *Manager) TestAll(ctx context.Context) []*connectivity.ProbeResult {
	return m.prober.TestAll(ctx)
}

func (m *Manager) Targets() []connectivity.Target {
	return m.prober.Targets()
}

// Shutdown stops the service if it is believed running. An operation in flight
// is waited for until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	for {
		if !m.IsRunning() {
			return nil
		}

		record := m.begin("stop")
		err := m.stop(ctx, record)
		if !errors.IsType(err, errors.ErrorTypeBusy) {
			m.finish(record, err)
			return err
		}

		select {
		case <-ctx.Done():
			return errors.NewCancelledError("shutdown interrupted while an operation was in progress", ctx.Err())
		case <-time.After(shutdownRetryInterval):
		}
	}
}

func (m *Manager) start(ctx context.Context, mode Mode, record *OperationRecord) error {
	if !mode.Valid() {
		_, err := ParseMode(string(mode))
		return err
	}
	unlock, err := m.acquire("start")
	if err != nil {
		return err
	}
	defer unlock()

	if m.state.Running() {
		return ErrAlreadyRunning
	}

	script, err := m.entryPoint(string(mode))
	if err != nil {
		return err
	}

	if err := m.state.Transition(runstate.StateStarting, "start", nil); err != nil {
		return err
	}
	if err := m.execute(ctx, record, script, "start"); err != nil {
		m.transition(runstate.StateStopped, "start", err)
		return err
	}
	m.transition(runstate.StateRunning, "start", nil)
	m.bus.PublishState(events.NewStateEvent(true))
	m.publishInfo(record.InvocationID, fmt.Sprintf("Service started in mode %s", mode))
	return nil
}

func (m *Manager) stop(ctx context.Context, record *OperationRecord) error {
	unlock, err := m.acquire("stop")
	if err != nil {
		return err
	}
	defer unlock()

	if !m.state.Running() {
		return ErrNotRunning
	}

	script, err := m.entryPoint(m.options.StopScript)
	if err != nil {
		return err
	}

	if err := m.state.Transition(runstate.StateStopping, "stop", nil); err != nil {
		return err
	}
	if err := m.execute(ctx, record, script, "stop"); err != nil {
		m.transition(runstate.StateRunning, "stop", err)
		return err
	}
	m.transition(runstate.StateStopped, "stop", nil)
	m.bus.PublishState(events.NewStateEvent(false))
	m.publishInfo(record.InvocationID, "Service stopped")
	return nil
}

func (m *Manager) update(ctx context.Context, record *OperationRecord) error {
	unlock, err := m.acquire("update")
	if err != nil {
		return err
	}
	defer unlock()

	script, err := m.entryPoint(m.options.UpdateScript)
	if err != nil {
		return err
	}

	m.publishInfo("", "Updating ipset lists")
	if err := m.execute(ctx, record, script); err != nil {
		return err
	}
	m.publishInfo(record.InvocationID, "Update finished")
	return nil
}

// acquire is the busy gate shared by every operation that spawns a process
func (m *Manager) acquire(operation string) (func(), error) {
	if !m.operationMutex.TryLock() {
		return nil, errors.NewBusyError("another operation is in progress", nil).
			WithContext("operation", operation)
	}
	m.busy.Store(true)
	return func() {
		m.busy.Store(false)
		m.operationMutex.Unlock()
	}, nil
}

func (m *Manager) entryPoint(name string) (string, error) {
	file := name + m.options.ScriptExtension
	path := m.installation.Join(file)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", errors.NewScriptNotFoundError(fmt.Sprintf("entry point %s not found", file), err).
			WithContext("path", path)
	}
	return path, nil
}

func (m *Manager) execute(ctx context.Context, record *OperationRecord, script string, args ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	record.InvocationID = id

	m.logger.Debugf("Executing entry point, id: %s, script: %s, args: %v", id, script, args)

	result, err := m.runner.Run(ctx, processrunner.Invocation{
		ID:      id,
		Script:  script,
		Args:    args,
		WorkDir: m.installation.Dir(),
		Elevate: m.options.Elevate,
		OnLine: func(line processrunner.Line) {
			m.relay(id, line)
		},
	})
	if err != nil {
		return err
	}

	m.logger.Debugf("Entry point finished, id: %s, pid: %d, exit code: %d, duration: %v",
		id, result.PID, result.ExitCode, result.Duration)
	return nil
}

func (m *Manager) relay(id string, line processrunner.Line) {
	if line.Stream == processrunner.StreamStderr {
		m.bus.PublishLog(events.NewLogEvent(events.LevelError, events.SourceStderr, id, line.Text))
		return
	}
	m.bus.PublishLog(events.NewLogEvent(events.LevelInfo, events.SourceStdout, id, line.Text))
}

func (m *Manager) transition(to runstate.State, operation string, cause error) {
	if err := m.state.Transition(to, operation, cause); err != nil {
		m.logger.Errorf("Run state transition rejected: %v", err)
	}
}

func (m *Manager) begin(operation string) *OperationRecord {
	return &OperationRecord{
		Operation: operation,
		StartedAt: time.Now(),
	}
}

// finish converts the operation outcome into events and returns a copy of the record
func (m *Manager) finish(record *OperationRecord, err error) OperationRecord {
	record.FinishedAt = time.Now()
	record.Success = err == nil
	record.Running = m.state.Running()

	if err != nil {
		record.Error = err.Error()
		if isRejection(err) {
			record.Rejected = true
			m.publishInfo(record.InvocationID, fmt.Sprintf("%s rejected: %s", capitalize(record.Operation), rejectionReason(err)))
		} else {
			m.publishError(record.InvocationID, fmt.Sprintf("%s failed: %v", capitalize(record.Operation), err))
		}
	}

	m.lastMutex.Lock()
	m.last = record
	m.lastMutex.Unlock()

	return *record
}

func (m *Manager) publishInfo(id, message string) {
	m.bus.PublishLog(events.NewLogEvent(events.LevelInfo, events.SourceManager, id, message))
}

func (m *Manager) publishError(id, message string) {
	m.bus.PublishLog(events.NewLogEvent(events.LevelError, events.SourceManager, id, message))
}

func isRejection(err error) bool {
	return goerrors.Is(err, ErrAlreadyRunning) ||
		goerrors.Is(err, ErrNotRunning) ||
		errors.IsType(err, errors.ErrorTypeBusy) ||
		errors.IsType(err, errors.ErrorTypeNotFound)
}

func rejectionReason(err error) string {
	var domainErr *errors.DomainError
	if goerrors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
