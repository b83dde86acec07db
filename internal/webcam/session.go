// Package webcam owns the single long-running webcam detector and relays its
// stdout to the HTTP client that started it as a multipart JPEG stream.
package webcam

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/detect-gateway/internal/detector"
	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/internal/metrics"
	"github.com/dj-oyu/detect-gateway/internal/process"
	"github.com/dj-oyu/detect-gateway/pkg/types"
)

// MsgSpawnFailed is the client-visible message when the detector cannot start.
const MsgSpawnFailed = "Failed to start Python process"

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = &detector.Error{Kind: detector.KindConflict, Message: "Webcam detection is already running."}
	// ErrNotRunning is returned by Stop while idle.
	ErrNotRunning = &detector.Error{Kind: detector.KindConflict, Message: "No webcam detection process is running."}

	errStreamingUnsupported = errors.New("streaming unsupported")
)

// Publisher receives webcam lifecycle events.
type Publisher interface {
	Publish(ev types.Event)
}

// Status is a point-in-time view of the session.
type Status struct {
	Running   bool      `json:"running"`
	Pid       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Session is the process-wide webcam slot. At most one detector runs at a
// time; every Idle/Running decision is made under mu.
type Session struct {
	settings  detector.Settings
	outputDir string
	runner    process.Runner
	metrics   *metrics.Metrics
	events    Publisher

	mu        sync.Mutex
	proc      *process.Process
	startedAt time.Time
}

// NewSession creates an idle session. events may be nil.
func NewSession(settings detector.Settings, outputDir string, runner process.Runner, m *metrics.Metrics, events Publisher) *Session {
	return &Session{
		settings:  settings,
		outputDir: outputDir,
		runner:    runner,
		metrics:   m,
		events:    events,
	}
}

// Start launches the webcam detector and streams its output into w until
// the detector's stdout closes or the client goes away. Errors are returned
// only before anything has been written to w.
func (s *Session) Start(ctx context.Context, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errStreamingUnsupported
	}

	proc, err := s.launch()
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.relay(ctx, w, flusher, proc)
	return nil
}

// launch claims the slot and spawns the detector.
func (s *Session) launch() (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		logger.Warn("Webcam", "Start rejected: detector already running (pid=%d)", s.proc.Pid())
		return nil, ErrAlreadyRunning
	}

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		logger.Error("Webcam", "Cannot create output directory %s: %v", s.outputDir, err)
		return nil, detector.SpawnFailure(MsgSpawnFailed, err)
	}

	inv := s.settings.Invocation(detector.WebcamSource, s.outputDir, detector.WebcamRunName)
	logger.Info("Webcam", "Starting %s %s", inv.Executable(), strings.Join(inv.Args(), " "))

	proc, err := s.runner.Spawn(inv.Executable(), inv.Args())
	if err != nil {
		logger.Error("Webcam", "Failed to start detector: %v", err)
		return nil, detector.SpawnFailure(MsgSpawnFailed, err)
	}

	s.proc = proc
	s.startedAt = time.Now()
	s.metrics.SetWebcamRunning(true)

	go s.logStderr(proc)
	go s.watch(proc)

	s.publish(types.NewEvent(types.EventWebcamStarted))
	return proc, nil
}

// relay writes one multipart section per stdout chunk, exactly as read.
func (s *Session) relay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, proc *process.Process) {
	stdout := proc.Stdout()
	for {
		select {
		case chunk, ok := <-stdout:
			if !ok {
				logger.Info("Webcam", "Detector output closed, ending stream")
				return
			}
			if err := writeFrame(w, chunk); err != nil {
				logger.Debug("Webcam", "Client disconnected during write: %v", err)
				go discard(stdout)
				return
			}
			flusher.Flush()
			s.metrics.FrameRelayed(len(chunk))

		case <-ctx.Done():
			logger.Info("Webcam", "Client disconnected; detector keeps running until stopped")
			go discard(stdout)
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// discard keeps the pipe drained so the detector never blocks on a full
// stdout once nobody is watching.
func discard(ch <-chan []byte) {
	for range ch {
	}
}

func (s *Session) logStderr(proc *process.Process) {
	lw := logger.NewLineWriter(logger.INFO, "Webcam")
	for chunk := range proc.Stderr() {
		_, _ = lw.Write(chunk)
	}
	lw.Flush()
}

// watch returns the slot to Idle when the detector exits on its own.
func (s *Session) watch(proc *process.Process) {
	<-proc.Done()
	code := proc.ExitCode()

	s.mu.Lock()
	current := s.proc == proc
	if current {
		s.proc = nil
		s.metrics.SetWebcamRunning(false)
	}
	s.mu.Unlock()

	if current {
		logger.Info("Webcam", "Detector exited with code %d", code)
	} else {
		logger.Info("Webcam", "Stopped detector exited with code %d", code)
	}

	ev := types.NewEvent(types.EventWebcamStopped)
	ev.ExitCode = &code
	s.publish(ev)
}

// Stop terminates the running detector and returns the slot to Idle.
func (s *Session) Stop() error {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.proc = nil
	s.metrics.SetWebcamRunning(false)
	s.mu.Unlock()

	logger.Info("Webcam", "Stopping detector (pid=%d)", proc.Pid())
	if err := proc.Terminate(); err != nil {
		logger.Error("Webcam", "%v", err)
	}
	return nil
}

// Status reports whether a detector is running.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return Status{}
	}
	return Status{Running: true, Pid: s.proc.Pid(), StartedAt: s.startedAt}
}

// Close stops the detector if one is running.
func (s *Session) Close() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

func (s *Session) publish(ev types.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}
