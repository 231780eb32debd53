package logqueue

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// TimestampLayout prefixes lines that do not already start with a date.
const TimestampLayout = "2006-01-02 15:04:05"

// Sink receives one complete line without its trailing newline.
type Sink func(line string) error

// WriterSink writes each line followed by a newline to w.
func WriterSink(w io.Writer) Sink {
	return func(line string) error {
		_, err := io.WriteString(w, line+"\n")
		return err
	}
}

// LineWriter is an io.Writer that buffers partial output and hands only
// complete lines to its sink. It is safe for concurrent use; each Write is
// applied atomically.
type LineWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	sink      Sink
	timestamp bool
	now       func() time.Time
}

// Option configures a LineWriter.
type Option func(*LineWriter)

// WithTimestamp prefixes lines that do not start with a year ("19" or "20")
// or a structured log time field with the local time.
func WithTimestamp() Option {
	return func(w *LineWriter) { w.timestamp = true }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *LineWriter) { w.now = now }
}

// NewLineWriter creates a LineWriter delivering to sink.
func NewLineWriter(sink Sink, opts ...Option) *LineWriter {
	w := &LineWriter{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write buffers p and emits every complete line it terminates.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := string(w.buf.Next(i + 1)[:i])
		if err := w.emit(line); err != nil {
			return len(p), err
		}
	}
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := w.buf.String()
	w.buf.Reset()
	return w.emit(line)
}

// Close flushes the writer.
func (w *LineWriter) Close() error {
	return w.Flush()
}

func (w *LineWriter) emit(line string) error {
	line = trimCR(line)
	if w.timestamp && line != "" && !hasDatePrefix(line) {
		line = fmt.Sprintf("%s - %s", w.now().Format(TimestampLayout), line)
	}
	return w.sink(line)
}

// hasDatePrefix reports whether line starts with a year or a slog time field.
func hasDatePrefix(line string) bool {
	if len(line) >= 2 && (line[:2] == "20" || line[:2] == "19") {
		return true
	}
	return strings.HasPrefix(line, "time=") || strings.HasPrefix(line, `{"time":`)
}

func trimCR(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
