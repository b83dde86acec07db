package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestJobCounters(t *testing.T) {
	m := New()

	m.JobStarted()
	m.JobStarted()
	m.JobFinished("", 3, 2*time.Second)
	m.JobFinished("execution", 0, time.Second)

	if got := m.ActiveJobs.Load(); got != 0 {
		t.Fatalf("ActiveJobs = %d", got)
	}
	if got := m.ImagesServed.Load(); got != 3 {
		t.Fatalf("ImagesServed = %d", got)
	}

	body := scrape(t, m)
	for _, needle := range []string{
		"gateway_jobs_started_total 2",
		"gateway_jobs_succeeded_total 1",
		"gateway_jobs_failed_total 1",
		`gateway_job_failures_total{kind="execution"} 1`,
		"gateway_job_duration_seconds_count 2",
	} {
		if !strings.Contains(body, needle) {
			t.Fatalf("metrics output missing %q\n%s", needle, body)
		}
	}
}

func TestWebcamCounters(t *testing.T) {
	m := New()
	m.SetWebcamRunning(true)
	m.FrameRelayed(100)
	m.FrameRelayed(50)
	m.SetWebcamRunning(false)

	body := scrape(t, m)
	for _, needle := range []string{
		"gateway_webcam_sessions_total 1",
		"gateway_webcam_running 0",
		"gateway_webcam_frames_relayed_total 2",
		"gateway_webcam_bytes_relayed_total 150",
	} {
		if !strings.Contains(body, needle) {
			t.Fatalf("metrics output missing %q\n%s", needle, body)
		}
	}
}
