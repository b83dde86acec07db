package gateway

import (
	"errors"
	"net/http"

	"github.com/dj-oyu/detect-gateway/internal/detector"
	"github.com/dj-oyu/detect-gateway/internal/logger"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind detector.Kind) int {
	switch kind {
	case detector.KindClientInput, detector.KindConflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {error, details?}.
func writeError(w http.ResponseWriter, err error) {
	var de *detector.Error
	if !errors.As(err, &de) {
		logger.Error("HTTP", "Unhandled error: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Internal server error"}, http.StatusInternalServerError)
		return
	}

	payload := map[string]any{"error": de.Message}
	switch {
	case de.Kind == detector.KindExecution || de.Kind == detector.KindSpawn:
		payload["details"] = de.Details
	case de.Details != "":
		payload["details"] = de.Details
	}
	writeJSONWithStatus(w, payload, statusFor(de.Kind))
}
