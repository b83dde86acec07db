// Package gateway exposes the detection gateway's HTTP surface.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/detect-gateway/internal/detector"
	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/internal/metrics"
	"github.com/dj-oyu/detect-gateway/internal/webcam"
	"github.com/dj-oyu/detect-gateway/pkg/types"
)

// Config holds the HTTP layer settings.
type Config struct {
	OutputDir      string
	UploadDir      string
	StaticDir      string
	MaxUploadBytes int64
}

// History is the read side of the job store.
type History interface {
	Get(id string) (types.JobRecord, error)
	List(limit int) ([]types.JobRecord, error)
}

// Deps are the components the handlers drive. History and Events may be nil.
type Deps struct {
	Jobs    *detector.Jobs
	Webcam  *webcam.Session
	History History
	Events  http.Handler
	Metrics *metrics.Metrics
}

// Server serves the gateway endpoints.
type Server struct {
	cfg     Config
	jobs    *detector.Jobs
	webcam  *webcam.Session
	history History
	events  http.Handler
	metrics *metrics.Metrics
	started time.Time
}

// NewServer returns a configured gateway server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	return &Server{
		cfg:     cfg,
		jobs:    deps.Jobs,
		webcam:  deps.Webcam,
		history: deps.History,
		events:  deps.Events,
		metrics: deps.Metrics,
		started: time.Now(),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/webcam", cors(s.handleWebcam)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/detect", cors(s.handleDetect)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", cors(s.handleStatus)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/jobs", cors(s.handleJobs)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/jobs/{id}", cors(s.handleJob)).Methods(http.MethodGet, http.MethodOptions)
	if s.events != nil {
		api.Handle("/events", s.events).Methods(http.MethodGet)
	}

	r.PathPrefix("/output/").Handler(http.StripPrefix("/output/", staticFiles(s.cfg.OutputDir))).
		Methods(http.MethodGet, http.MethodHead)
	if s.cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(staticFiles(s.cfg.StaticDir)).Methods(http.MethodGet, http.MethodHead)
	}

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("HTTP", "%s %s", r.Method, r.URL.RequestURI())
		next.ServeHTTP(w, r)
	})
}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// staticFiles serves dir. Directories are only served through their
// index.html; there are no listings.
func staticFiles(dir string) http.Handler {
	return http.FileServer(noListingFS{http.Dir(dir)})
}

type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		index, err := n.fs.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, os.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
