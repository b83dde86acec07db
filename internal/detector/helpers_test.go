package detector

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dj-oyu/detect-gateway/internal/metrics"
	"github.com/dj-oyu/detect-gateway/internal/process"
	"github.com/dj-oyu/detect-gateway/pkg/types"
)

// argParser exposes $source, $project and $name to fake detector bodies.
const argParser = `
while [ $# -gt 0 ]; do
  case "$1" in
    --source) source="$2"; shift 2 ;;
    --project) project="$2"; shift 2 ;;
    --name) name="$2"; shift 2 ;;
    *) shift ;;
  esac
done
`

// fakeDetector writes a shell script standing in for the detector program.
func fakeDetector(t *testing.T, body string) Settings {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "detect.sh")
	if err := os.WriteFile(script, []byte(argParser+body), 0755); err != nil {
		t.Fatalf("write fake detector: %v", err)
	}
	return Settings{
		Executable: sh,
		Script:     script,
		Weights:    "weights.pt",
		ImageSize:  640,
		Confidence: 0.25,
	}
}

func writeUpload(t *testing.T) *Upload {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload-1234")
	if err := os.WriteFile(path, []byte("fake image"), 0644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return &Upload{Path: path, Filename: "photo.jpg"}
}

func requireGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be deleted (stat err=%v)", path, err)
	}
}

type recordingHook struct {
	mu       sync.Mutex
	started  []types.JobRecord
	finished []types.JobRecord
}

func (h *recordingHook) JobStarted(rec types.JobRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, rec)
}

func (h *recordingHook) JobFinished(rec types.JobRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, rec)
}

func newTestJobs(t *testing.T, settings Settings, hooks ...JobHook) (*Jobs, string) {
	t.Helper()
	outputDir := filepath.Join(t.TempDir(), "output")
	jobs := NewJobs(settings, outputDir, process.NewExecRunner(""), NewCollector(outputDir, ""), metrics.New(), hooks...)
	return jobs, outputDir
}
