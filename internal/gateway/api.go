package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/internal/store"
)

const (
	defaultJobLimit = 20
	maxJobLimit     = 100
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"webcam_running": s.webcam.Status().Running,
		"active_jobs":    s.metrics.ActiveJobs.Load(),
	})
}

// statusSnapshot uses only structpb-compatible value types.
func (s *Server) statusSnapshot() map[string]any {
	cam := s.webcam.Status()
	webcam := map[string]any{
		"running": cam.Running,
	}
	if cam.Running {
		webcam["pid"] = cam.Pid
		webcam["uptime_seconds"] = time.Since(cam.StartedAt).Seconds()
	}

	return map[string]any{
		"webcam": webcam,
		"jobs": map[string]any{
			"started":   s.metrics.JobsStarted.Load(),
			"succeeded": s.metrics.JobsSucceeded.Load(),
			"failed":    s.metrics.JobsFailed.Load(),
			"active":    s.metrics.ActiveJobs.Load(),
			"images":    s.metrics.ImagesServed.Load(),
		},
		"uptime_seconds": time.Since(s.started).Seconds(),
		"timestamp":      float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := s.statusSnapshot()

	if !wantsProtobuf(r) {
		w.Header().Set("X-Content-Format", "application/json")
		writeJSON(w, payload)
		return
	}

	msg, err := structpb.NewStruct(payload)
	if err != nil {
		logger.Error("HTTP", "Failed to build status struct: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Failed to encode status"}, http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		logger.Error("HTTP", "Failed to marshal status: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Failed to encode status"}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/protobuf")
	w.Header().Set("X-Content-Format", "application/protobuf")
	_, _ = w.Write(data)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Job history is disabled"}, http.StatusServiceUnavailable)
		return
	}

	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "Invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = min(n, maxJobLimit)
	}

	jobs, err := s.history.List(limit)
	if err != nil {
		logger.Error("HTTP", "Failed to list jobs: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Failed to read job history"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Job history is disabled"}, http.StatusServiceUnavailable)
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := s.history.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONWithStatus(w, map[string]any{"error": "Job not found"}, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("HTTP", "Failed to read job %s: %v", id, err)
		writeJSONWithStatus(w, map[string]any{"error": "Failed to read job history"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}
