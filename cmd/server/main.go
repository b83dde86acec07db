package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/multierr"

	"github.com/dj-oyu/detect-gateway/internal/config"
	"github.com/dj-oyu/detect-gateway/internal/detector"
	"github.com/dj-oyu/detect-gateway/internal/events"
	"github.com/dj-oyu/detect-gateway/internal/gateway"
	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/internal/metrics"
	"github.com/dj-oyu/detect-gateway/internal/process"
	"github.com/dj-oyu/detect-gateway/internal/store"
	"github.com/dj-oyu/detect-gateway/internal/webcam"
)

// Server owns every long-lived component of the gateway.
type Server struct {
	cfg           config.Config
	wg            sync.WaitGroup
	metrics       *metrics.Metrics
	store         *store.DB
	hub           *events.Hub
	webcam        *webcam.Session
	httpServer    *http.Server
	metricsServer *http.Server
	logCloser     io.Closer
}

func main() {
	envFile := ".env"
	if v := os.Getenv("GATEWAY_ENV_FILE"); v != "" {
		envFile = v
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty to disable)")
	flag.StringVar(&cfg.PythonBin, "python", cfg.PythonBin, "Detector interpreter")
	flag.StringVar(&cfg.DetectScript, "script", cfg.DetectScript, "Detector script")
	flag.StringVar(&cfg.Weights, "weights", cfg.Weights, "Model weights passed to the detector")
	flag.IntVar(&cfg.ImageSize, "img", cfg.ImageSize, "Inference image size")
	flag.Float64Var(&cfg.Confidence, "conf", cfg.Confidence, "Confidence threshold")
	flag.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "Detector output directory (served at /output)")
	flag.StringVar(&cfg.UploadDir, "uploads", cfg.UploadDir, "Upload staging directory")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Static frontend directory (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Job history database (empty to disable)")
	flag.StringVar(&cfg.PublicBaseURL, "public-url", cfg.PublicBaseURL, "Base URL prepended to result image paths")
	flag.Int64Var(&cfg.MaxUploadBytes, "max-upload", cfg.MaxUploadBytes, "Maximum upload size in bytes")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this rotated file")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	output, logCloser, err := logger.OpenOutput(cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	logger.Init(level, output, cfg.LogColor)

	logger.Info("Main", "Detection gateway starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	srv.logCloser = logCloser

	srv.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
	if srv.logCloser != nil {
		_ = srv.logCloser.Close()
	}
}

// NewServer builds the gateway from cfg.
func NewServer(cfg config.Config) (*Server, error) {
	for _, dir := range []string{cfg.OutputDir, cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	m := metrics.New()
	hub := events.NewHub()

	var db *store.DB
	hooks := []detector.JobHook{hub}
	if cfg.DBPath != "" {
		var err error
		db, err = store.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open job history: %w", err)
		}
		hooks = append(hooks, db)
	}

	settings := detector.Settings{
		Executable: cfg.PythonBin,
		Script:     cfg.DetectScript,
		Weights:    cfg.Weights,
		ImageSize:  cfg.ImageSize,
		Confidence: cfg.Confidence,
	}
	runner := process.NewExecRunner("")
	collector := detector.NewCollector(cfg.OutputDir, cfg.PublicBaseURL)
	jobs := detector.NewJobs(settings, cfg.OutputDir, runner, collector, m, hooks...)
	cam := webcam.NewSession(settings, cfg.OutputDir, runner, m, hub)

	deps := gateway.Deps{
		Jobs:    jobs,
		Webcam:  cam,
		Events:  http.HandlerFunc(hub.ServeWS),
		Metrics: m,
	}
	if db != nil {
		deps.History = db
	}
	gw := gateway.NewServer(gateway.Config{
		OutputDir:      cfg.OutputDir,
		UploadDir:      cfg.UploadDir,
		StaticDir:      cfg.StaticDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, deps)

	s := &Server{
		cfg:     cfg,
		metrics: m,
		store:   db,
		hub:     hub,
		webcam:  cam,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: gw.Handler(),
		},
	}
	if cfg.MetricsAddr != "" {
		s.metricsServer = m.NewServer(cfg.MetricsAddr)
	}
	return s, nil
}

// Start runs the hub and the HTTP listeners in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	logger.Info("Main", "Detector: %s %s (weights=%s img=%d conf=%g)",
		s.cfg.PythonBin, s.cfg.DetectScript, s.cfg.Weights, s.cfg.ImageSize, s.cfg.Confidence)
	logger.Info("Main", "Output: %s, uploads: %s", s.cfg.OutputDir, s.cfg.UploadDir)

	s.serve("HTTP", s.httpServer)
	if s.metricsServer != nil {
		s.serve("Metrics", s.metricsServer)
	}
}

func (s *Server) serve(name string, srv *http.Server) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Info("Main", "%s server listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "%s server error: %v", name, err)
		}
	}()
}

// Shutdown stops the webcam, drains HTTP and closes the job history.
func (s *Server) Shutdown() error {
	var errs error

	// Ending the webcam process first lets its stream handler return.
	errs = multierr.Append(errs, s.webcam.Close())

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked, so Shutdown does not wait for them.
	errs = multierr.Append(errs, s.httpServer.Shutdown(ctx))
	if s.metricsServer != nil {
		errs = multierr.Append(errs, s.metricsServer.Shutdown(ctx))
	}
	errs = multierr.Append(errs, s.hub.Close())

	s.wg.Wait()

	if s.store != nil {
		errs = multierr.Append(errs, s.store.Close())
	}
	return errs
}
