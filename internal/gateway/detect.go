package gateway

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dj-oyu/detect-gateway/internal/detector"
	"github.com/dj-oyu/detect-gateway/internal/logger"
)

const (
	uploadField     = "image"
	msgUploadFailed = "Failed to save uploaded image"
	msgTooLarge     = "Uploaded image is too large"
)

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	up, err := s.saveUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONWithStatus(w, map[string]any{"error": msgTooLarge}, http.StatusRequestEntityTooLarge)
			return
		}
		var de *detector.Error
		if errors.As(err, &de) {
			writeError(w, err)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": msgUploadFailed}, http.StatusInternalServerError)
		return
	}

	result, err := s.jobs.Run(up)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"status": http.StatusOK,
		"image":  result.URLs(),
	})
}

// saveUpload copies the multipart "image" field into UploadDir. A request
// without that field yields a client input error; disk failures are returned
// as plain errors.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (*detector.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		logger.Debug("HTTP", "Multipart parse failed: %v", err)
		return nil, &detector.Error{Kind: detector.KindClientInput, Message: detector.MsgNoImage}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return nil, &detector.Error{Kind: detector.KindClientInput, Message: detector.MsgNoImage, Err: err}
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		logger.Error("HTTP", "Cannot create upload directory: %v", err)
		return nil, err
	}

	dst, err := os.CreateTemp(s.cfg.UploadDir, "upload-*"+uploadExt(header.Filename))
	if err != nil {
		logger.Error("HTTP", "Cannot create upload file: %v", err)
		return nil, err
	}

	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		logger.Error("HTTP", "Cannot write upload %s: %v", dst.Name(), err)
		_ = os.Remove(dst.Name())
		return nil, err
	}

	logger.Debug("HTTP", "Saved upload %q to %s", header.Filename, dst.Name())
	return &detector.Upload{Path: dst.Name(), Filename: header.Filename}, nil
}

// uploadExt keeps a short alphanumeric extension from the client file name
// so the detector can infer the format.
func uploadExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
