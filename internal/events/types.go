// Package events distributes process lifecycle and output events to any
// number of attached observers.
package events

import "time"

// Type identifies the kind of broadcast event.
type Type string

const (
	TypeConnected Type = "connected"
	TypeStarted   Type = "started"
	TypeOutput    Type = "output"
	TypeCompleted Type = "completed"
	TypeError     Type = "error"
)

// Event is a single broadcast notification. Data holds one of the typed
// payloads below, or the process record for started events.
type Event struct {
	Type      Type      `json:"type"`
	ProcessID string    `json:"processId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// OutputData carries one incremental output chunk.
type OutputData struct {
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

// CompletedData carries the terminal state of a process.
type CompletedData struct {
	Status   string     `json:"status"`
	ExitCode *int       `json:"exitCode"`
	EndTime  *time.Time `json:"endTime,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// ErrorData carries a spawn failure message.
type ErrorData struct {
	Error string `json:"error"`
}

// NewConnected builds the synthetic event every observer receives first.
func NewConnected() Event {
	return Event{Type: TypeConnected, Timestamp: time.Now().UTC()}
}

// NewStarted builds a started event. process is the record snapshot.
func NewStarted(processID string, process any) Event {
	return Event{Type: TypeStarted, ProcessID: processID, Timestamp: time.Now().UTC(), Data: process}
}

// NewOutput builds an output event for a single chunk.
func NewOutput(processID, stream, data string, ts time.Time) Event {
	return Event{
		Type:      TypeOutput,
		ProcessID: processID,
		Timestamp: ts,
		Data:      OutputData{Stream: stream, Data: data},
	}
}

// NewCompleted builds the terminal event emitted on exit or kill.
func NewCompleted(processID string, data CompletedData) Event {
	return Event{Type: TypeCompleted, ProcessID: processID, Timestamp: time.Now().UTC(), Data: data}
}

// NewError builds the event emitted when a process fails to spawn.
func NewError(processID, message string) Event {
	return Event{Type: TypeError, ProcessID: processID, Timestamp: time.Now().UTC(), Data: ErrorData{Error: message}}
}
