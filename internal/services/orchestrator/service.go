package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nl2sqlgen-client/internal/api"
	"nl2sqlgen-client/internal/models"
)

// Message shown when the event stream drops while a job is in flight. The
// job may still be running server-side; only our view of it is gone.
const transportLostMessage = "connection to the generation service was lost; the job may still be running on the server"

var (
	// ErrInvalidConfig wraps submittability violations; nothing was sent
	// to the backend when Submit returns it.
	ErrInvalidConfig = errors.New("invalid task configuration")

	// ErrRunActive is returned when a command is not valid in the current phase
	ErrRunActive = errors.New("a generation run is already active")

	// ErrNotCancellable is returned by Cancel outside Submitting/Running
	ErrNotCancellable = errors.New("no cancellable run in progress")
)

// Service owns the job state machine. Every user command and every stream
// callback is serialized under one mutex, so transitions never interleave.
// Responses to network calls that outlive their run are discarded by
// comparing run IDs.
type Service struct {
	ctx      context.Context
	runner   Runner
	streams  StreamOpener
	settings SettingsSaver
	logger   *zap.Logger

	mu        sync.Mutex
	state     *jobState
	handle    StreamHandle
	listeners []func(Snapshot)
}

// NewService creates an orchestrator in the Idle phase
func NewService(ctx context.Context, runner Runner, streams StreamOpener, settings SettingsSaver, logger *zap.Logger) *Service {
	return &Service{
		ctx:      ctx,
		runner:   runner,
		streams:  streams,
		settings: settings,
		logger:   logger.Named("orchestrator"),
		state:    &jobState{phase: PhaseIdle},
	}
}

// GetState returns a copy of the current run projection
func (s *Service) GetState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.snapshot()
}

// Subscribe registers a listener invoked with a fresh snapshot after every
// applied state change. Listeners run outside the orchestrator lock and may
// call GetState.
func (s *Service) Subscribe(listener func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Submit validates the configuration, attaches to the event stream and
// starts a generation run. Valid only from Idle or a terminal phase; the
// previous run's state is discarded, never merged. Returns the new run ID.
func (s *Service) Submit(cfg models.TaskConfig) (string, error) {
	s.mu.Lock()

	if s.state.phase != PhaseIdle && !s.state.phase.IsTerminal() {
		phase := s.state.phase
		s.mu.Unlock()
		return "", fmt.Errorf("%w (phase %s)", ErrRunActive, phase)
	}

	if err := cfg.Validate(); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if s.settings != nil && s.settings.Remember() {
		if err := s.settings.SaveTask(cfg); err != nil {
			s.logger.Warn("failed to save settings", zap.Error(err))
		}
	}

	runID := uuid.New().String()

	// Previous channel must be gone before a new one exists
	s.closeStreamLocked()

	handle, err := s.streams.Open(
		func(ev models.JobEvent) { s.handleEvent(runID, ev) },
		func(streamErr error) { s.handleStreamError(runID, streamErr) },
	)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	s.handle = handle
	s.state = &jobState{
		runID:   runID,
		phase:   PhaseSubmitting,
		dialect: cfg.Generate.Dialect,
	}
	snap := s.state.snapshot()
	s.mu.Unlock()

	s.logger.Info("submitting generation run",
		zap.String("run_id", runID),
		zap.String("dialect", cfg.Generate.Dialect),
		zap.Int("total_samples", cfg.Generate.TotalSamples))

	go func() {
		taskID, startErr := s.runner.StartGeneration(s.ctx, cfg)
		s.onStartResult(runID, taskID, startErr)
	}()

	s.notify(snap)
	return runID, nil
}

// Cancel requests cancellation of the active run. Best effort: if the
// backend already reached a terminal state, a later server status event
// overrides the locally applied Cancelled phase.
func (s *Service) Cancel() error {
	s.mu.Lock()

	if s.state.phase != PhaseSubmitting && s.state.phase != PhaseRunning {
		phase := s.state.phase
		s.mu.Unlock()
		return fmt.Errorf("%w (phase %s)", ErrNotCancellable, phase)
	}

	runID := s.state.runID
	s.state.phase = PhaseCancelled
	s.state.result = &Result{ErrorMessage: "cancelled by user"}
	s.closeStreamLocked()
	snap := s.state.snapshot()
	s.mu.Unlock()

	s.logger.Info("cancelling generation run", zap.String("run_id", runID))

	go func() {
		if err := s.runner.CancelGeneration(s.ctx); err != nil {
			// The backend may already be terminal; nothing to apply
			s.logger.Warn("cancel request failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	s.notify(snap)
	return nil
}

// onStartResult folds the asynchronous start-generation response. Responses
// for superseded runs are discarded.
func (s *Service) onStartResult(runID, taskID string, err error) {
	s.mu.Lock()

	if s.state.runID != runID {
		s.mu.Unlock()
		s.logger.Debug("discarding stale start response", zap.String("run_id", runID))
		return
	}

	if err != nil {
		if s.state.phase.IsTerminal() {
			// Cancelled (or server-terminated) before the start call
			// resolved; keep the terminal outcome.
			s.mu.Unlock()
			return
		}

		kind := FailureJob
		if errors.Is(err, api.ErrUnreachable) {
			kind = FailureTransport
		}
		s.state.phase = PhaseFailed
		s.state.result = &Result{ErrorMessage: err.Error(), FailureKind: kind}
		s.closeStreamLocked()
		snap := s.state.snapshot()
		s.mu.Unlock()

		s.logger.Warn("generation start failed", zap.String("run_id", runID), zap.Error(err))
		s.notify(snap)
		return
	}

	s.state.taskID = taskID
	snap := s.state.snapshot()
	s.mu.Unlock()

	s.logger.Info("generation accepted", zap.String("run_id", runID), zap.String("task_id", taskID))
	s.notify(snap)
}

// handleEvent folds one stream event into the run state
func (s *Service) handleEvent(runID string, ev models.JobEvent) {
	s.mu.Lock()

	if s.state.runID != runID {
		s.mu.Unlock()
		return
	}

	if s.state.phase.IsTerminal() {
		// In-flight frames race the terminal transition and are ignored,
		// with one exception: a server-reported terminal status overrides
		// a locally applied Cancelled (the server's word is authoritative).
		if s.state.phase == PhaseCancelled && ev.Type == models.EventStatus && isTerminalStatus(ev.Status.Status) {
			s.applyTerminalStatusLocked(ev.Status)
			snap := s.state.snapshot()
			s.mu.Unlock()
			s.notify(snap)
			return
		}
		s.mu.Unlock()
		return
	}

	// First delivered event confirms stream attachment
	if s.state.phase == PhaseSubmitting {
		s.state.phase = PhaseRunning
	}

	switch ev.Type {
	case models.EventLog:
		s.state.logs = append(s.state.logs, formatLogLine(ev.Log))

	case models.EventProgress:
		// Clamp monotonic even though the backend promises it: an
		// out-of-order regression is dropped, never applied.
		if ev.Progress.Progress < s.state.progress || ev.Progress.Step < s.state.currentStep {
			s.logger.Warn("dropping regressed progress event",
				zap.Float64("progress", ev.Progress.Progress),
				zap.Int("step", ev.Progress.Step),
				zap.Float64("current_progress", s.state.progress),
				zap.Int("current_step", s.state.currentStep))
			s.mu.Unlock()
			return
		}
		s.state.progress = ev.Progress.Progress
		s.state.currentStep = ev.Progress.Step
		if ev.Progress.TotalSteps > 0 {
			s.state.totalSteps = ev.Progress.TotalSteps
		}
		if ev.Progress.StepName != "" {
			s.state.stepName = ev.Progress.StepName
		}

	case models.EventStatus:
		if isTerminalStatus(ev.Status.Status) {
			s.applyTerminalStatusLocked(ev.Status)
		}
		// status=running carries nothing beyond attachment confirmation
	}

	snap := s.state.snapshot()
	s.mu.Unlock()
	s.notify(snap)
}

// handleStreamError folds the single transport error notification. Losing
// the stream fails the run on the client because the job is no longer
// observable, not because the backend reported failure.
func (s *Service) handleStreamError(runID string, err error) {
	s.mu.Lock()

	if s.state.runID != runID || s.state.phase.IsTerminal() {
		s.mu.Unlock()
		return
	}

	s.state.phase = PhaseFailed
	s.state.result = &Result{
		ErrorMessage: transportLostMessage,
		FailureKind:  FailureTransport,
	}
	s.closeStreamLocked()
	snap := s.state.snapshot()
	s.mu.Unlock()

	s.logger.Warn("lost event stream during run", zap.String("run_id", runID), zap.Error(err))
	s.notify(snap)
}

// applyTerminalStatusLocked moves the run to the server-reported terminal
// phase. Caller holds the mutex.
func (s *Service) applyTerminalStatusLocked(status *models.StatusEvent) {
	switch status.Status {
	case models.StatusCompleted:
		s.state.phase = PhaseCompleted
		s.state.result = &Result{
			SamplesGenerated: status.Details.SamplesGenerated,
			SamplesValid:     status.Details.SamplesValid,
		}

	case models.StatusFailed:
		message := status.ErrorMessage
		if message == "" {
			message = "generation failed"
		}
		s.state.phase = PhaseFailed
		s.state.result = &Result{ErrorMessage: message, FailureKind: FailureJob}
	}

	s.closeStreamLocked()
}

func isTerminalStatus(status string) bool {
	return status == models.StatusCompleted || status == models.StatusFailed
}

// closeStreamLocked tears down the active channel. Caller holds the mutex.
func (s *Service) closeStreamLocked() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

// Close releases the event stream; the orchestrator is not usable afterwards
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStreamLocked()
}

func (s *Service) notify(snap Snapshot) {
	s.mu.Lock()
	listeners := make([]func(Snapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(snap)
	}
}

// formatLogLine renders a stream log event the way the progress panel shows
// it: a short clock time prefix and the message.
func formatLogLine(ev *models.LogEvent) string {
	clock := ""
	if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		clock = ts.Format("15:04:05")
	} else if i := strings.IndexByte(ev.Timestamp, 'T'); i >= 0 && len(ev.Timestamp) >= i+9 {
		clock = ev.Timestamp[i+1 : i+9]
	}
	return fmt.Sprintf("[%s] %s", clock, ev.Message)
}
