package process

import (
	"context"
	"time"

	"github.com/scriptdeck/scriptdeck/internal/events"
)

// Status is the lifecycle state of a process.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// canTransition encodes starting -> running -> {completed|failed|killed}.
// starting may also jump straight to a terminal state.
func canTransition(from, to Status) bool {
	switch from {
	case StatusStarting:
		return to == StatusRunning || to.IsTerminal()
	case StatusRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ProcessRecord describes one spawned process, live or historical.
type ProcessRecord struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Args        []string   `json:"args"`
	Cwd         string     `json:"cwd"`
	User        *string    `json:"user"`
	PID         *int       `json:"pid"`
	Status      Status     `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	ExitCode    *int       `json:"exitCode"`
	Error       string     `json:"error,omitempty"`
	Interactive bool       `json:"interactive,omitempty"`

	// TruncatedBytes counts output dropped from the live buffer. It is not
	// kept in history.
	TruncatedBytes int64 `json:"truncatedBytes,omitempty"`
}

// OutputChunk is a single piece of captured output.
type OutputChunk struct {
	Stream    string    `json:"stream"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// StartRequest contains parameters for starting a process. Command is run
// directly with Args; it is not passed through a shell.
type StartRequest struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	User        string            `json:"user,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Interactive bool              `json:"interactive,omitempty"`
}

// Emitter receives lifecycle and output events. Emit must not block.
type Emitter interface {
	Emit(evt events.Event)
}

// HistoryStore is the durable log of terminated processes.
type HistoryStore interface {
	Append(ctx context.Context, record ProcessRecord, output []OutputChunk) error
	// Get returns a NotFound AppError when the id was never recorded.
	Get(ctx context.Context, id string) (*ProcessRecord, []OutputChunk, error)
	// List returns records newest first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]ProcessRecord, error)
}
