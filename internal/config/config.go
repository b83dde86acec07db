package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config defines the runtime configuration for the detection gateway.
type Config struct {
	Addr        string
	MetricsAddr string

	// Detector invocation
	PythonBin    string
	DetectScript string
	Weights      string
	ImageSize    int
	Confidence   float64

	// Filesystem layout
	OutputDir string
	UploadDir string
	StaticDir string
	DBPath    string

	// PublicBaseURL is prepended to result image paths, e.g. "http://host:3000".
	PublicBaseURL  string
	MaxUploadBytes int64

	LogLevel string
	LogColor bool
	LogFile  string

	ShutdownTimeout time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":3000",
		MetricsAddr:     ":9090",
		PythonBin:       "python3",
		DetectScript:    "detect.py",
		Weights:         "best.pt",
		ImageSize:       640,
		Confidence:      0.25,
		OutputDir:       "output",
		UploadDir:       "uploads",
		StaticDir:       "public",
		DBPath:          "gateway.db",
		MaxUploadBytes:  32 << 20,
		LogLevel:        "info",
		LogColor:        true,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load applies an optional .env file and environment overrides on top of
// DefaultConfig. Values already present in the environment win over .env.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	cfg := DefaultConfig()
	cfg.Addr = getEnv("GATEWAY_ADDR", cfg.Addr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.PythonBin = getEnv("PYTHON_BIN", cfg.PythonBin)
	cfg.DetectScript = getEnv("DETECT_SCRIPT", cfg.DetectScript)
	cfg.Weights = getEnv("MODEL_WEIGHTS", cfg.Weights)
	cfg.ImageSize = getEnvAsInt("IMAGE_SIZE", cfg.ImageSize)
	cfg.Confidence = getEnvAsFloat("CONF_THRESHOLD", cfg.Confidence)
	cfg.OutputDir = getEnv("OUTPUT_DIR", cfg.OutputDir)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.StaticDir = getEnv("STATIC_DIR", cfg.StaticDir)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogColor = getEnvAsBool("LOG_COLOR", cfg.LogColor)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
