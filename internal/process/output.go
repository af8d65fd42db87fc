package process

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/events"
)

const readChunkSize = 4096

// readOutput streams one output source into the buffer and the emitter
// until EOF. Each chunk is appended and emitted under the process lock so
// observers see chunks in the order they were buffered.
func (r *Registry) readOutput(proc *managedProcess, reader io.Reader, stream string) {
	var pending []byte
	data := make([]byte, readChunkSize)
	for {
		n, err := reader.Read(data)
		if n > 0 {
			pending = append(pending, data[:n]...)
			var complete []byte
			complete, pending = splitUTF8(pending)
			if len(complete) > 0 {
				r.appendOutput(proc, stream, string(complete))
			}
		}
		if err != nil {
			if len(pending) > 0 {
				r.appendOutput(proc, stream, string(pending))
			}
			if !isExpectedReadEnd(err) {
				r.logger.Debug("process output read error",
					zap.String("process_id", proc.id),
					zap.String("stream", stream),
					zap.Error(err))
			}
			return
		}
	}
}

func (r *Registry) appendOutput(proc *managedProcess, stream, data string) {
	chunk := OutputChunk{Stream: stream, Data: data, Timestamp: time.Now().UTC()}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	proc.buffer.append(chunk)
	r.emitter.Emit(events.NewOutput(proc.id, chunk.Stream, chunk.Data, chunk.Timestamp))
}

// splitUTF8 splits b before a trailing incomplete UTF-8 sequence so a
// multi-byte character is never cut across two chunks.
func splitUTF8(b []byte) (complete, rest []byte) {
	// A rune is at most 4 bytes, so only the last 3 can start an
	// unfinished one.
	for i := len(b) - 1; i >= 0 && i >= len(b)-3; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], append([]byte(nil), b[i:]...)
	}
	return b, nil
}

// isExpectedReadEnd reports errors that simply mean the stream is over.
// A PTY master returns EIO once the child side closes.
func isExpectedReadEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO)
}
