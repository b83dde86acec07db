package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/dj-oyu/detect-gateway/internal/detector"
	"github.com/dj-oyu/detect-gateway/internal/events"
	"github.com/dj-oyu/detect-gateway/internal/metrics"
	"github.com/dj-oyu/detect-gateway/internal/process"
	"github.com/dj-oyu/detect-gateway/internal/store"
	"github.com/dj-oyu/detect-gateway/internal/webcam"
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

type testGateway struct {
	srv       *httptest.Server
	outputDir string
	uploadDir string
	hub       *events.Hub
	metrics   *metrics.Metrics
}

// newTestGateway wires a full gateway around a fake detector script. The
// body runs for both /detect and /webcam; $source tells them apart.
func newTestGateway(t *testing.T, body string) *testGateway {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	script := filepath.Join(root, "detect.sh")
	if err := os.WriteFile(script, []byte(argParser+body), 0755); err != nil {
		t.Fatalf("write fake detector: %v", err)
	}
	return newGatewayWithSettings(t, root, detector.Settings{
		Executable: sh,
		Script:     script,
		Weights:    "weights.pt",
		ImageSize:  640,
		Confidence: 0.25,
	})
}

func newGatewayWithSettings(t *testing.T, root string, settings detector.Settings) *testGateway {
	t.Helper()
	outputDir := filepath.Join(root, "output")
	uploadDir := filepath.Join(root, "uploads")
	staticDir := filepath.Join(root, "public")
	if err := os.MkdirAll(staticDir, 0755); err != nil {
		t.Fatalf("mkdir static: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<h1>gateway</h1>"), 0644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	db, err := store.New(filepath.Join(root, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	hub := events.NewHub()
	go hub.Run()

	m := metrics.New()
	runner := process.NewExecRunner("")
	jobs := detector.NewJobs(settings, outputDir, runner, detector.NewCollector(outputDir, ""), m, db, hub)
	cam := webcam.NewSession(settings, outputDir, runner, m, hub)

	s := NewServer(Config{
		OutputDir: outputDir,
		UploadDir: uploadDir,
		StaticDir: staticDir,
	}, Deps{
		Jobs:    jobs,
		Webcam:  cam,
		History: db,
		Events:  http.HandlerFunc(hub.ServeWS),
		Metrics: m,
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = cam.Close()
		_ = hub.Close()
		srv.Close()
		_ = db.Close()
	})

	return &testGateway{srv: srv, outputDir: outputDir, uploadDir: uploadDir, hub: hub, metrics: m}
}

func (g *testGateway) url(path string) string {
	return g.srv.URL + path
}

// postImage uploads data under field as a multipart form.
func (g *testGateway) postImage(t *testing.T, field, filename string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	resp, err := http.Post(g.url("/detect"), mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /detect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSONMap(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return payload
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

func requireString(t *testing.T, payload map[string]any, key, want string) {
	t.Helper()
	got, ok := payload[key].(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", key, payload[key])
	}
	if got != want {
		t.Fatalf("%s = %q, want %q", key, got, want)
	}
}

func requireSlice(t *testing.T, payload map[string]any, key string) []any {
	t.Helper()
	val, ok := payload[key].([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", key, payload[key])
	}
	return val
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func detectorSettingsMissing(root string) detector.Settings {
	return detector.Settings{
		Executable: filepath.Join(root, "no-such-python"),
		Script:     "detect.py",
		Weights:    "weights.pt",
		ImageSize:  640,
		Confidence: 0.25,
	}
}
