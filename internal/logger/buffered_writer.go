package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	DefaultBufferSize    = 32 * 1024
	DefaultFlushInterval = 5 * time.Second

	// LogFilePermissions keeps log files owner-readable only; they may
	// contain entity ids and remote URLs.
	LogFilePermissions = 0o600
)

var errWriterClosed = errors.New("log writer is closed")

// BufferedFileWriter appends to a file through a buffer that a background
// goroutine flushes periodically. It is safe for concurrent use.
type BufferedFileWriter struct {
	path string

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type writerOptions struct {
	bufferSize    int
	flushInterval time.Duration
}

// BufferedWriterOption configures a BufferedFileWriter
type BufferedWriterOption func(*writerOptions)

// WithBufferSize sets the buffer size for the writer
func WithBufferSize(size int) BufferedWriterOption {
	return func(o *writerOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithFlushInterval sets the auto-flush interval.
func WithFlushInterval(interval time.Duration) BufferedWriterOption {
	return func(o *writerOptions) {
		if interval > 0 {
			o.flushInterval = interval
		}
	}
}

// NewBufferedFileWriter opens path for appending and starts the flush loop.
func NewBufferedFileWriter(path string, opts ...BufferedWriterOption) (*BufferedFileWriter, error) {
	o := writerOptions{bufferSize: DefaultBufferSize, flushInterval: DefaultFlushInterval}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w := &BufferedFileWriter{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, o.bufferSize),
		stop: make(chan struct{}),
	}
	w.wg.Go(func() { w.flushEvery(o.flushInterval) })
	return w, nil
}

func (w *BufferedFileWriter) flushEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// errors surface on the next Write
			_ = w.Flush()
		}
	}
}

// Write writes data to the buffer.
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return 0, errWriterClosed
	}
	return w.buf.Write(p)
}

// Flush pushes buffered bytes to the OS without fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *BufferedFileWriter) flushLocked() error {
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// Close stops the flush loop, then flushes, syncs and closes the file.
// Calling it twice is safe.
func (w *BufferedFileWriter) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()

		w.mu.Lock()
		defer w.mu.Unlock()

		errs := []error{w.flushLocked()}
		if syncErr := w.file.Sync(); syncErr != nil {
			errs = append(errs, fmt.Errorf("failed to sync file: %w", syncErr))
		}
		if closeErr := w.file.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("failed to close file: %w", closeErr))
		}
		w.buf = nil
		err = errors.Join(errs...)
	})
	return err
}

// FilePath returns the path of the underlying file
func (w *BufferedFileWriter) FilePath() string {
	return w.path
}

// Buffered returns the number of bytes not yet handed to the OS
func (w *BufferedFileWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return 0
	}
	return w.buf.Buffered()
}

var _ io.WriteCloser = (*BufferedFileWriter)(nil)
