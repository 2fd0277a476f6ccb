package log

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLogger appends events to an event log file. A new or empty file gets
// a header first; an existing log is appended to after its header has been
// checked. It is safe for concurrent use.
type FileLogger struct {
	path string

	mu      sync.Mutex
	file    *os.File
	stream  *streamWriter
	written int
	failed  int
	closed  bool
}

// NewFileLogger opens path for appending, creating it with mode 0644 if
// needed.
func NewFileLogger(path string) (*FileLogger, error) {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if err := checkHeader(path); err != nil {
			return nil, fmt.Errorf("cannot append to %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &FileLogger{path: path, file: f, stream: newStreamWriter(f)}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := l.stream.writeHeader(time.Now()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return l, nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = newStreamReader(f)
	return err
}

// Path returns the file being written.
func (l *FileLogger) Path() string { return l.path }

// Log writes an event. Failures are counted, never returned.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.stream.writeEvent(event); err != nil {
		l.failed++
		return
	}
	l.written++
}

// Counts returns the number of events written and the number that failed.
func (l *FileLogger) Counts() (written, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written, l.failed
}

// Close syncs and closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	syncErr := l.file.Sync()
	if err := l.file.Close(); err != nil {
		return err
	}
	return syncErr
}

var _ Logger = (*FileLogger)(nil)
