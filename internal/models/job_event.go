package models

import (
	"encoding/json"
	"fmt"
)

// Event kinds carried on the /ws/all stream
const (
	EventLog      = "log"
	EventProgress = "progress"
	EventStatus   = "status"
	EventPong     = "pong"
)

// Job status values reported by the backend
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// LogEvent is a single backend log line
type LogEvent struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// ProgressEvent reports pipeline step advancement
type ProgressEvent struct {
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	StepName   string  `json:"step_name"`
	Progress   float64 `json:"progress"`
}

// StatusDetails carries run statistics embedded in a status event
type StatusDetails struct {
	SamplesGenerated int `json:"samples_generated"`
	SamplesValid     int `json:"samples_valid"`
}

// StatusEvent reports a job status change, possibly terminal
type StatusEvent struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message"`
	Details      StatusDetails `json:"details"`
}

// JobEvent is the decoded form of one stream frame. Exactly one of the
// pointer fields is set according to Type; pong frames have none.
type JobEvent struct {
	Type     string
	Log      *LogEvent
	Progress *ProgressEvent
	Status   *StatusEvent
}

// wireFrame covers every field any frame kind may carry. Status frames from
// the backend task manager wrap their payload in "data"; older frames put
// status fields at the top level, so both shapes are accepted.
type wireFrame struct {
	Type       string   `json:"type"`
	Timestamp  string   `json:"timestamp"`
	Level      string   `json:"level"`
	Message    string   `json:"message"`
	Step       int      `json:"step"`
	TotalSteps int      `json:"total_steps"`
	StepName   string   `json:"step_name"`
	Progress   float64  `json:"progress"`
	Status     string   `json:"status"`

	ErrorMessage string             `json:"error_message"`
	Data         *wireStatusData    `json:"data"`
	Details      *wireStatusDetails `json:"details"`
}

type wireStatusData struct {
	Status       string             `json:"status"`
	ErrorMessage string             `json:"error_message"`
	Details      *wireStatusDetails `json:"details"`
}

type wireStatusDetails struct {
	SamplesGenerated int `json:"samples_generated"`
	SamplesValid     int `json:"samples_valid"`
}

// DecodeJobEvent parses one raw frame from the event stream. Frames that are
// not valid JSON or carry an unknown type return an error; the stream layer
// drops them without interrupting delivery.
func DecodeJobEvent(raw []byte) (JobEvent, error) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return JobEvent{}, fmt.Errorf("malformed frame: %w", err)
	}

	switch frame.Type {
	case EventLog:
		return JobEvent{
			Type: EventLog,
			Log: &LogEvent{
				Timestamp: frame.Timestamp,
				Level:     frame.Level,
				Message:   frame.Message,
			},
		}, nil

	case EventProgress:
		if frame.Progress < 0 || frame.Progress > 100 {
			return JobEvent{}, fmt.Errorf("progress out of range: %g", frame.Progress)
		}
		return JobEvent{
			Type: EventProgress,
			Progress: &ProgressEvent{
				Step:       frame.Step,
				TotalSteps: frame.TotalSteps,
				StepName:   frame.StepName,
				Progress:   frame.Progress,
			},
		}, nil

	case EventStatus:
		status := StatusEvent{Status: frame.Status, ErrorMessage: frame.ErrorMessage}
		details := frame.Details
		if frame.Data != nil {
			status.Status = frame.Data.Status
			status.ErrorMessage = frame.Data.ErrorMessage
			details = frame.Data.Details
		}
		if details != nil {
			status.Details = StatusDetails{
				SamplesGenerated: details.SamplesGenerated,
				SamplesValid:     details.SamplesValid,
			}
		}
		if status.Status == "" {
			return JobEvent{}, fmt.Errorf("status frame without status field")
		}
		return JobEvent{Type: EventStatus, Status: &status}, nil

	case EventPong:
		// Keepalive reply, nothing to deliver
		return JobEvent{Type: EventPong}, nil

	default:
		return JobEvent{}, fmt.Errorf("unknown frame type %q", frame.Type)
	}
}
