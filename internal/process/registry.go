// Package process owns the registry of spawned script processes.
//
// The Registry assigns every process an id before the OS spawn, captures
// stdout and stderr into a byte-bounded ring buffer, forwards every state
// change and output chunk to an Emitter, accepts stdin writes and kills
// process groups with SIGTERM then SIGKILL escalation.
//
// Lifecycle:
//  1. Start registers a record in "starting" and spawns the process
//  2. On success the record becomes "running" and a started event is emitted
//  3. Reader goroutines stream output; the wait goroutine records the exit
//  4. The terminal record is appended to the history store and evicted from
//     the live registry after the retention period
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
	"github.com/scriptdeck/scriptdeck/internal/tracing"
)

const (
	tracerName = "scriptdeck-process"

	defaultKillGracePeriod = 2 * time.Second
	historyWriteTimeout    = 10 * time.Second

	// outputDrainTimeout bounds how long output is read after the process
	// exits. Background children that inherited stdout or stderr would
	// otherwise hold the streams open indefinitely.
	outputDrainTimeout = 2 * time.Second
	exitSettleDelay    = 100 * time.Millisecond
)

// Options tunes a Registry. Zero values fall back to defaults, except
// CompletedRetention where zero evicts terminal records immediately.
type Options struct {
	BufferMaxBytes     int64
	KillGracePeriod    time.Duration
	CompletedRetention time.Duration
}

// managedProcess is the registry's private state for one process.
type managedProcess struct {
	id     string
	buffer *ringBuffer

	// mu guards record, killRequested and evictTimer, and serializes
	// buffer appends with event emission.
	mu            sync.Mutex
	record        ProcessRecord
	killRequested bool
	evictTimer    *time.Timer

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pty     PtyHandle
	outputs []io.Closer

	// inputMu serializes stdin writes so concurrent inputs never interleave.
	inputMu sync.Mutex

	// done is closed once the record reaches a terminal state.
	done chan struct{}
}

func (p *managedProcess) snapshot() ProcessRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.record
	rec.TruncatedBytes = p.buffer.evictedBytes()
	return rec
}

// transitionLocked moves the record to status. It returns false and leaves
// the record untouched when the move is not allowed.
func (p *managedProcess) transitionLocked(status Status) bool {
	if !canTransition(p.record.Status, status) {
		return false
	}
	p.record.Status = status
	if status.IsTerminal() {
		end := time.Now().UTC()
		p.record.EndTime = &end
	}
	return true
}

// Registry manages spawned processes. All methods are safe for concurrent use.
type Registry struct {
	logger  *logger.Logger
	emitter Emitter
	history HistoryStore
	opts    Options

	mu        sync.RWMutex
	processes map[string]*managedProcess
	closing   bool

	// active counts processes that have not finished finalizing.
	active sync.WaitGroup
}

// NewRegistry creates a registry that reports to emitter and persists
// terminal records to history.
func NewRegistry(emitter Emitter, history HistoryStore, log *logger.Logger, opts Options) *Registry {
	if opts.BufferMaxBytes <= 0 {
		opts.BufferMaxBytes = defaultBufferMaxBytes
	}
	if opts.KillGracePeriod <= 0 {
		opts.KillGracePeriod = defaultKillGracePeriod
	}
	if opts.CompletedRetention < 0 {
		opts.CompletedRetention = 0
	}
	return &Registry{
		logger:    log.WithFields(zap.String("component", "process-registry")),
		emitter:   emitter,
		history:   history,
		opts:      opts,
		processes: make(map[string]*managedProcess),
	}
}

// Start registers and spawns a process and returns its id. The id is
// queryable as soon as Start returns. A spawn failure is not returned: it
// is recorded on the process as a failed status with the OS error message.
func (r *Registry) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Command == "" {
		return "", apperrors.ValidationError("command", "command is required")
	}

	id := uuid.New().String()
	cwd := req.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	record := ProcessRecord{
		ID:          id,
		Command:     req.Command,
		Args:        append([]string{}, req.Args...),
		Cwd:         cwd,
		Status:      StatusStarting,
		StartTime:   time.Now().UTC(),
		Interactive: req.Interactive,
	}
	if req.User != "" {
		user := req.User
		record.User = &user
	}
	proc := &managedProcess{
		id:     id,
		buffer: newRingBuffer(r.opts.BufferMaxBytes),
		record: record,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return "", apperrors.InvalidState("process registry is shutting down")
	}
	r.processes[id] = proc
	r.active.Add(1)
	r.mu.Unlock()

	log := r.logger.WithProcessID(id)
	log.Debug("process start requested",
		zap.String("command", req.Command),
		zap.Strings("args", req.Args),
		zap.String("cwd", cwd),
		zap.Bool("interactive", req.Interactive))

	_, span := tracing.StartSpan(ctx, tracerName, "process.start",
		attribute.String("process.id", id),
		attribute.String("process.command", req.Command),
		attribute.Bool("process.interactive", req.Interactive),
	)
	err := r.spawn(proc, req)
	tracing.EndSpan(span, err)

	if err != nil {
		log.Warn("process spawn failed", zap.Error(err))
		r.failSpawn(proc, err)
	}
	return id, nil
}

// spawn launches the OS process and starts the reader and wait goroutines.
func (r *Registry) spawn(proc *managedProcess, req StartRequest) error {
	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Cwd
	cmd.Env = mergeEnv(req.Env)

	var readers []namedReader
	if req.Interactive {
		handle, err := startPTY(cmd, defaultPTYCols, defaultPTYRows)
		if err != nil {
			return err
		}
		proc.pty = handle
		readers = append(readers, namedReader{stream: StreamStdout, r: handle})
	} else {
		setProcGroup(cmd)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to attach stdin: %w", err)
		}
		// os.Pipe rather than StdoutPipe: cmd.Wait then returns when the
		// process exits, not when every holder of the write ends is gone.
		stdout, stdoutW, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("failed to attach stdout: %w", err)
		}
		stderr, stderrW, err := os.Pipe()
		if err != nil {
			_ = stdout.Close()
			_ = stdoutW.Close()
			return fmt.Errorf("failed to attach stderr: %w", err)
		}
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW
		err = cmd.Start()
		// The child owns its copies of the write ends now.
		_ = stdoutW.Close()
		_ = stderrW.Close()
		if err != nil {
			_ = stdout.Close()
			_ = stderr.Close()
			return err
		}
		proc.outputs = []io.Closer{stdout, stderr}
		proc.stdin = stdin
		readers = append(readers,
			namedReader{stream: StreamStdout, r: stdout},
			namedReader{stream: StreamStderr, r: stderr})
	}
	proc.cmd = cmd

	pid := cmd.Process.Pid
	proc.mu.Lock()
	proc.record.PID = &pid
	proc.transitionLocked(StatusRunning)
	r.emitter.Emit(events.NewStarted(proc.id, proc.record))
	killPending := proc.killRequested
	proc.mu.Unlock()

	var readersDone sync.WaitGroup
	for _, nr := range readers {
		readersDone.Add(1)
		go func(nr namedReader) {
			defer readersDone.Done()
			r.readOutput(proc, nr.r, nr.stream)
		}(nr)
	}
	go r.wait(proc, &readersDone)

	if killPending {
		r.terminate(proc)
	}
	return nil
}

type namedReader struct {
	stream string
	r      io.Reader
}

func (r *Registry) failSpawn(proc *managedProcess, err error) {
	proc.mu.Lock()
	proc.transitionLocked(StatusFailed)
	proc.record.Error = err.Error()
	r.emitter.Emit(events.NewError(proc.id, err.Error()))
	proc.mu.Unlock()
	close(proc.done)

	go r.finalize(proc)
}

// wait records the terminal state once the process exits, then drains the
// remaining output before emitting the completed event. Output events
// always precede the completed event.
func (r *Registry) wait(proc *managedProcess, readersDone *sync.WaitGroup) {
	exitCode, signalName, err := waitExit(proc.cmd, proc.pty)

	drained := make(chan struct{})
	go func() {
		readersDone.Wait()
		close(drained)
	}()
	// Streams usually hit EOF right after exit. Waiting briefly keeps the
	// buffered output complete by the time the record turns terminal.
	settle := time.NewTimer(exitSettleDelay)
	select {
	case <-drained:
	case <-settle.C:
	}
	settle.Stop()

	proc.mu.Lock()
	status := StatusCompleted
	switch {
	case proc.killRequested:
		status = StatusKilled
	case err != nil:
		status = StatusFailed
	}
	if proc.transitionLocked(status) {
		if status != StatusKilled {
			code := exitCode
			proc.record.ExitCode = &code
		}
		if status == StatusFailed && signalName != "" {
			proc.record.Error = "terminated by signal " + signalName
		}
	}
	proc.mu.Unlock()
	close(proc.done)

	r.drainOutput(proc, drained)

	proc.mu.Lock()
	rec := proc.record
	r.emitter.Emit(events.NewCompleted(proc.id, events.CompletedData{
		Status:   string(rec.Status),
		ExitCode: rec.ExitCode,
		EndTime:  rec.EndTime,
		Error:    rec.Error,
	}))
	proc.mu.Unlock()

	r.logger.Debug("process exited",
		zap.String("process_id", proc.id),
		zap.String("status", string(rec.Status)),
		zap.Int("exit_code", exitCode),
		zap.Error(err))

	r.finalize(proc)
}

// drainOutput waits for the readers to reach EOF. Streams still held open
// by descendants after outputDrainTimeout are closed so the readers return.
func (r *Registry) drainOutput(proc *managedProcess, drained <-chan struct{}) {
	if proc.pty != nil && closePTYBeforeDrain {
		_ = proc.pty.Close()
	}

	timer := time.NewTimer(outputDrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		r.logger.Debug("output still open after exit, closing streams",
			zap.String("process_id", proc.id))
		for _, c := range proc.outputs {
			_ = c.Close()
		}
		if proc.pty != nil && !closePTYBeforeDrain {
			_ = proc.pty.Close()
		}
		<-drained
	}

	for _, c := range proc.outputs {
		_ = c.Close()
	}
	if proc.pty != nil && !closePTYBeforeDrain {
		_ = proc.pty.Close()
	}
}

// finalize writes the terminal record to history and schedules eviction
// from the live registry.
func (r *Registry) finalize(proc *managedProcess) {
	defer r.active.Done()

	rec := proc.snapshot()
	if r.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		err := r.history.Append(ctx, rec, proc.buffer.snapshot())
		cancel()
		if err != nil {
			// Keep the record live so it stays queryable.
			r.logger.Error("failed to persist process history",
				zap.String("process_id", proc.id),
				zap.Error(err))
			return
		}
	}

	if r.opts.CompletedRetention == 0 {
		r.evict(proc.id)
		return
	}
	proc.mu.Lock()
	proc.evictTimer = time.AfterFunc(r.opts.CompletedRetention, func() { r.evict(proc.id) })
	proc.mu.Unlock()
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processes, id)
}

func (r *Registry) get(id string) (*managedProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, ok := r.processes[id]
	return proc, ok
}

// GetInfo returns the record for id from the live registry, falling back
// to the history store.
func (r *Registry) GetInfo(ctx context.Context, id string) (*ProcessRecord, error) {
	if proc, ok := r.get(id); ok {
		rec := proc.snapshot()
		return &rec, nil
	}
	if r.history == nil {
		return nil, apperrors.NotFound("process", id)
	}
	rec, _, err := r.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetOutput returns the buffered output for a live or historical process.
func (r *Registry) GetOutput(ctx context.Context, id string) ([]OutputChunk, error) {
	if proc, ok := r.get(id); ok {
		return proc.buffer.snapshot(), nil
	}
	if r.history == nil {
		return nil, apperrors.NotFound("process", id)
	}
	_, output, err := r.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// Write forwards input unmodified to the standard input of a running
// process. Unknown ids return NotFound; known but not running processes
// return InvalidState.
func (r *Registry) Write(ctx context.Context, id, input string) error {
	proc, ok := r.get(id)
	if !ok {
		if _, err := r.GetInfo(ctx, id); err != nil {
			return err
		}
		return notRunning(fmt.Sprintf("process %s is not running", id), nil)
	}

	proc.mu.Lock()
	status := proc.record.Status
	var w io.Writer
	if proc.pty != nil {
		w = proc.pty
	} else if proc.stdin != nil {
		w = proc.stdin
	}
	proc.mu.Unlock()

	if status != StatusRunning || w == nil {
		return notRunning(fmt.Sprintf("process %s is not running (status: %s)", id, status), nil)
	}

	proc.inputMu.Lock()
	defer proc.inputMu.Unlock()
	if _, err := io.WriteString(w, input); err != nil {
		return notRunning(fmt.Sprintf("process %s is not accepting input", id), err)
	}
	return nil
}

// Resize changes the terminal size of a running interactive process.
// Unknown ids return NotFound; processes without a pseudo-terminal or that
// are no longer running return InvalidState.
func (r *Registry) Resize(ctx context.Context, id string, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return apperrors.ValidationError("size", "cols and rows must be positive")
	}
	proc, ok := r.get(id)
	if !ok {
		if _, err := r.GetInfo(ctx, id); err != nil {
			return err
		}
		return notRunning(fmt.Sprintf("process %s is not running", id), nil)
	}

	proc.mu.Lock()
	status := proc.record.Status
	handle := proc.pty
	proc.mu.Unlock()

	if handle == nil {
		return apperrors.InvalidState(fmt.Sprintf("process %s has no terminal", id))
	}
	if status != StatusRunning {
		return notRunning(fmt.Sprintf("process %s is not running (status: %s)", id, status), nil)
	}
	if err := handle.Resize(cols, rows); err != nil {
		return notRunning(fmt.Sprintf("failed to resize terminal of %s", id), err)
	}

	r.logger.Debug("resized terminal",
		zap.String("process_id", id),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))
	return nil
}

// Kill terminates the process group. It is idempotent: unknown, terminal
// and already-killed processes are a silent success. Kill returns without
// waiting; the wait goroutine records the killed state.
func (r *Registry) Kill(_ context.Context, id string) error {
	proc, ok := r.get(id)
	if !ok {
		return nil
	}

	proc.mu.Lock()
	if proc.record.Status.IsTerminal() || proc.killRequested {
		proc.mu.Unlock()
		return nil
	}
	proc.killRequested = true
	starting := proc.record.Status == StatusStarting
	proc.mu.Unlock()

	r.logger.Info("killing process", zap.String("process_id", id))
	if starting {
		// spawn terminates it as soon as the OS process exists.
		return nil
	}
	r.terminate(proc)
	return nil
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// after the grace period.
func (r *Registry) terminate(proc *managedProcess) {
	if proc.cmd == nil || proc.cmd.Process == nil {
		return
	}
	pid := proc.cmd.Process.Pid
	if err := terminateProcessGroup(pid); err != nil {
		_ = terminateProcess(proc.cmd.Process)
	}

	go func() {
		timer := time.NewTimer(r.opts.KillGracePeriod)
		defer timer.Stop()
		select {
		case <-proc.done:
		case <-timer.C:
			r.logger.Debug("grace period expired, force killing",
				zap.String("process_id", proc.id))
			if err := killProcessGroup(pid); err != nil {
				_ = proc.cmd.Process.Kill()
			}
		}
	}()
}

// List returns the live registry, newest first.
func (r *Registry) List() []ProcessRecord {
	r.mu.RLock()
	procs := make([]*managedProcess, 0, len(r.processes))
	for _, proc := range r.processes {
		procs = append(procs, proc)
	}
	r.mu.RUnlock()

	out := make([]ProcessRecord, 0, len(procs))
	for _, proc := range procs {
		out = append(out, proc.snapshot())
	}
	sortNewestFirst(out)
	return out
}

// History returns the durable log of terminated processes, newest first.
func (r *Registry) History(ctx context.Context, limit int) ([]ProcessRecord, error) {
	if r.history == nil {
		return []ProcessRecord{}, nil
	}
	return r.history.List(ctx, limit)
}

// ListAll merges the live registry with history. A live record wins over a
// history record with the same id.
func (r *Registry) ListAll(ctx context.Context) ([]ProcessRecord, error) {
	live := r.List()
	past, err := r.History(ctx, 0)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(live))
	out := make([]ProcessRecord, 0, len(live)+len(past))
	for _, rec := range live {
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	for _, rec := range past {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

// Shutdown rejects new processes, kills live ones and waits until every
// terminal record has been handed to the history store or ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	ids := make([]string, 0, len(r.processes))
	for id := range r.processes {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Kill(ctx, id)
	}

	finished := make(chan struct{})
	go func() {
		r.active.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for processes to exit: %w", ctx.Err())
	}

	r.mu.RLock()
	for _, proc := range r.processes {
		proc.mu.Lock()
		if proc.evictTimer != nil {
			proc.evictTimer.Stop()
		}
		proc.mu.Unlock()
	}
	r.mu.RUnlock()
	return err
}

func sortNewestFirst(records []ProcessRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
}

// ErrNotRunning is wrapped by the InvalidState errors Write and Resize
// return for processes that are not running.
var ErrNotRunning = errors.New("process not running")

func notRunning(message string, cause error) error {
	appErr := apperrors.InvalidState(message)
	appErr.Err = ErrNotRunning
	if cause != nil {
		appErr.Err = fmt.Errorf("%w: %w", ErrNotRunning, cause)
	}
	return appErr
}
