package logger

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LineWriter forwards everything written to it as log lines at the given
// level. Partial lines are buffered until a newline arrives or Flush is
// called.
type LineWriter struct {
	mu     sync.Mutex
	level  LogLevel
	module string
	buf    bytes.Buffer
}

// NewLineWriter returns a LineWriter tagged with module.
func NewLineWriter(level LogLevel, module string) *LineWriter {
	return &LineWriter{level: level, module: module}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(idx+1), "\r\n"))
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	if line == "" || defaultLogger == nil {
		return
	}
	defaultLogger.log(w.level, w.module, "%s", line)
}

// OpenOutput returns the writer the global logger should use. With an empty
// path it is stderr; otherwise stderr is mirrored into a size-rotated file.
// The returned closer is nil when no file is involved.
func OpenOutput(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, err
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, file), file, nil
}
