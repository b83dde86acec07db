package gateway

import (
	"net/http"

	"github.com/dj-oyu/detect-gateway/internal/logger"
)

const (
	msgWebcamStopped = "Webcam detection stopped."
	msgInvalidAction = "Invalid action. Use ?action=start or ?action=stop"
)

func (s *Server) handleWebcam(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "start":
		// On success Start owns the response until the stream ends.
		if err := s.webcam.Start(r.Context(), w); err != nil {
			writeError(w, err)
		}

	case "stop":
		if err := s.webcam.Stop(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"message": msgWebcamStopped})

	default:
		logger.Warn("Webcam", "Invalid action %q", action)
		writeJSONWithStatus(w, map[string]any{"error": msgInvalidAction}, http.StatusBadRequest)
	}
}
