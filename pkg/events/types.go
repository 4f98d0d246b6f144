package events

import "time"

// Level of a log event
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Source identifies who produced a log line
type Source string

const (
	SourceManager Source = "manager"
	SourceStdout  Source = "stdout"
	SourceStderr  Source = "stderr"
)

// LogEvent is a single leveled text line broadcast to subscribers
type LogEvent struct {
	Time         time.Time `json:"time"`
	Level        Level     `json:"level"`
	Message      string    `json:"message"`
	Source       Source    `json:"source"`
	InvocationID string    `json:"invocation_id,omitempty"`
}

// StateEvent reports a run-state change
type StateEvent struct {
	Time    time.Time `json:"time"`
	Running bool      `json:"running"`
}

// NewLogEvent stamps a log event with the current time
func NewLogEvent(level Level, source Source, invocationID, message string) LogEvent {
	return LogEvent{
		Time:         time.Now(),
		Level:        level,
		Message:      message,
		Source:       source,
		InvocationID: invocationID,
	}
}

func NewStateEvent(running bool) StateEvent {
	return StateEvent{
		Time:    time.Now(),
		Running: running,
	}
}
