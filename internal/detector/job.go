package detector

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/internal/metrics"
	"github.com/dj-oyu/detect-gateway/internal/process"
	"github.com/dj-oyu/detect-gateway/pkg/types"
)

// Upload is an image already saved to disk by the HTTP layer.
type Upload struct {
	Path     string
	Filename string
}

// ResultSet is the successful outcome of a job.
type ResultSet struct {
	JobID  string
	Images []types.ResultImage
}

// URLs returns the image URLs in listing order.
func (r *ResultSet) URLs() []string {
	urls := make([]string, len(r.Images))
	for i, img := range r.Images {
		urls[i] = img.URL
	}
	return urls
}

// JobHook observes job lifecycle transitions. Implementations must not
// block for long; they run on the request goroutine.
type JobHook interface {
	JobStarted(rec types.JobRecord)
	JobFinished(rec types.JobRecord)
}

// NewJobID returns 32 lowercase hex characters from a random UUID.
func NewJobID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Jobs runs detection jobs. It is safe for concurrent use; jobs share
// nothing except the output directory namespace.
type Jobs struct {
	settings  Settings
	outputDir string
	runner    process.Runner
	collector *Collector
	metrics   *metrics.Metrics
	hooks     []JobHook
}

// NewJobs creates a job runner writing job directories under outputDir.
func NewJobs(settings Settings, outputDir string, runner process.Runner, collector *Collector, m *metrics.Metrics, hooks ...JobHook) *Jobs {
	return &Jobs{
		settings:  settings,
		outputDir: outputDir,
		runner:    runner,
		collector: collector,
		metrics:   m,
		hooks:     hooks,
	}
}

// Run executes one detection job to completion. It is not cancelled when the
// client goes away: the detector always runs until it exits on its own.
func (j *Jobs) Run(up *Upload) (*ResultSet, error) {
	if up == nil || up.Path == "" {
		return nil, newError(KindClientInput, MsgNoImage, nil)
	}

	jobID := NewJobID()
	rec := types.JobRecord{
		ID:        jobID,
		Filename:  up.Filename,
		Status:    types.JobRunning,
		StartedAt: time.Now(),
	}
	j.metrics.JobStarted()
	for _, h := range j.hooks {
		h.JobStarted(rec)
	}

	result, err := j.execute(jobID, up)
	j.finish(rec, result, err)
	return result, err
}

func (j *Jobs) execute(jobID string, up *Upload) (*ResultSet, error) {
	jobDir := filepath.Join(j.outputDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		logger.Error("Job", "[%s] Cannot create output directory: %v", jobID, err)
		removeUpload(jobID, up.Path)
		return nil, SpawnFailure(MsgJobSpawnFailed, err)
	}

	inv := j.settings.Invocation(up.Path, jobDir, ResultsRunName)
	logger.Info("Job", "[%s] Running %s %s", jobID, inv.Executable(), strings.Join(inv.Args(), " "))

	proc, err := j.runner.Spawn(inv.Executable(), inv.Args())
	if err != nil {
		logger.Error("Job", "[%s] Failed to start detector: %v", jobID, err)
		removeUpload(jobID, up.Path)
		return nil, SpawnFailure(MsgJobSpawnFailed, err)
	}

	out := process.Collect(proc)
	if out.Stdout != "" {
		logger.Debug("Job", "[%s] detector stdout: %s", jobID, out.Stdout)
	}
	if out.Stderr != "" {
		logger.Debug("Job", "[%s] detector stderr: %s", jobID, out.Stderr)
	}
	logger.Info("Job", "[%s] Detector exited with code %d", jobID, out.ExitCode)

	removeUpload(jobID, up.Path)

	if out.ExitCode != 0 {
		logger.Error("Job", "[%s] Detection failed: %s", jobID, out.Stderr)
		return nil, &Error{
			Kind:    KindExecution,
			Message: MsgDetectionFailed,
			Details: out.Stderr,
			Err:     proc.Err(),
		}
	}

	images, err := j.collector.Collect(jobID, ResultsRunName)
	if err != nil {
		logger.Error("Job", "[%s] %v", jobID, err)
		return nil, err
	}

	logger.Info("Job", "[%s] %d image(s) generated", jobID, len(images))
	return &ResultSet{JobID: jobID, Images: images}, nil
}

func (j *Jobs) finish(rec types.JobRecord, result *ResultSet, err error) {
	now := time.Now()
	rec.FinishedAt = &now

	kind := ""
	if err != nil {
		rec.Status = types.JobFailed
		rec.Error = err.Error()
		kind = "internal"
		var jobErr *Error
		if errors.As(err, &jobErr) {
			kind = string(jobErr.Kind)
		}
	} else {
		rec.Status = types.JobCompleted
		rec.Images = result.Images
	}

	j.metrics.JobFinished(kind, len(rec.Images), now.Sub(rec.StartedAt))
	for _, h := range j.hooks {
		h.JobFinished(rec)
	}
}

// removeUpload deletes the input file. Failures are logged only.
func removeUpload(jobID, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Job", "[%s] Failed to delete upload %s: %v", jobID, path, err)
	}
}
