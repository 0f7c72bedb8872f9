package orchestrator

import (
	"context"

	"nl2sqlgen-client/internal/models"
)

// Phase is the discrete state of the task lifecycle
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// IsTerminal reports whether no further transitions leave this phase.
// A new run always starts a fresh state.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Failure kinds distinguish a backend-reported job failure from a loss of
// client-side visibility. A transport failure does not mean the job failed.
const (
	FailureJob       = "job"
	FailureTransport = "transport"
)

// Result is populated only when a run reaches a terminal phase
type Result struct {
	SamplesGenerated int    `json:"samples_generated,omitempty"`
	SamplesValid     int    `json:"samples_valid,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	FailureKind      string `json:"failure_kind,omitempty"`
}

// Snapshot is an immutable copy of the run projection handed to observers
type Snapshot struct {
	RunID       string   `json:"run_id"`
	TaskID      string   `json:"task_id,omitempty"`
	Phase       Phase    `json:"phase"`
	Progress    float64  `json:"progress"`
	CurrentStep int      `json:"current_step"`
	TotalSteps  int      `json:"total_steps"`
	StepName    string   `json:"step_name,omitempty"`
	Dialect     string   `json:"dialect,omitempty"`
	Logs        []string `json:"logs"`
	Result      *Result  `json:"result,omitempty"`
}

// Runner starts and cancels generation jobs on the backend.
// api.Client satisfies it.
type Runner interface {
	StartGeneration(ctx context.Context, cfg models.TaskConfig) (string, error)
	CancelGeneration(ctx context.Context) error
}

// StreamHandle is an open event channel owned by this orchestrator
type StreamHandle interface {
	Close()
	Dropped() int64
}

// StreamOpener attaches to the backend event stream. stream.Client
// satisfies it via an adapter in the app layer.
type StreamOpener interface {
	Open(onEvent func(models.JobEvent), onErr func(error)) (StreamHandle, error)
}

// SettingsSaver persists last-used configuration when remembering is
// enabled. settings.Service satisfies it.
type SettingsSaver interface {
	Remember() bool
	SaveTask(cfg models.TaskConfig) error
}

// jobState is the authoritative projection of one run. Exactly one instance
// exists per run and only the orchestrator mutates it.
type jobState struct {
	runID       string
	taskID      string
	phase       Phase
	progress    float64
	currentStep int
	totalSteps  int
	stepName    string
	dialect     string
	logs        []string
	result      *Result
}

func (st *jobState) snapshot() Snapshot {
	logs := make([]string, len(st.logs))
	copy(logs, st.logs)

	snap := Snapshot{
		RunID:       st.runID,
		TaskID:      st.taskID,
		Phase:       st.phase,
		Progress:    st.progress,
		CurrentStep: st.currentStep,
		TotalSteps:  st.totalSteps,
		StepName:    st.stepName,
		Dialect:     st.dialect,
		Logs:        logs,
	}
	if st.result != nil {
		r := *st.result
		snap.Result = &r
	}
	return snap
}
