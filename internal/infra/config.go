package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents worker configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Render engine (ComfyUI) settings.
	ComfyUIHost string
	ComfyUIPort int
	ComfyUIPath string
	ManageComfy bool

	// Workflow templates.
	WorkflowDir string

	// Object storage. When S3Bucket is empty the worker falls back to a
	// local filesystem store (development only).
	S3Bucket       string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	StoragePath    string
	StorageBaseURL string

	ReadyTimeout     time.Duration
	ExecutionTimeout time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8000"),
		ComfyUIHost:      getEnv("COMFYUI_HOST", "127.0.0.1"),
		ComfyUIPort:      getEnvInt("COMFYUI_PORT", 8188),
		ComfyUIPath:      getEnv("COMFYUI_PATH", "/opt/comfyui"),
		ManageComfy:      getEnvBool("COMFYUI_MANAGED", true),
		WorkflowDir:      getEnv("WORKFLOW_DIR", "/opt/handler/workflows"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Region:         getEnv("S3_REGION", "auto"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:8000/static"),
		ReadyTimeout:     time.Second * time.Duration(getEnvInt("READY_TIMEOUT_SECONDS", 120)),
		ExecutionTimeout: time.Second * time.Duration(getEnvInt("EXECUTION_TIMEOUT_SECONDS", 300)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.S3Bucket != "" {
		if cfg.S3AccessKey == "" {
			return nil, fmt.Errorf("S3_ACCESS_KEY is required when S3_BUCKET is set")
		}
		if cfg.S3SecretKey == "" {
			return nil, fmt.Errorf("S3_SECRET_KEY is required when S3_BUCKET is set")
		}
	}

	if cfg.ComfyUIPort <= 0 || cfg.ComfyUIPort > 65535 {
		return nil, fmt.Errorf("COMFYUI_PORT %d is out of range", cfg.ComfyUIPort)
	}

	return cfg, nil
}

// ComfyUIBaseURL returns the HTTP base URL of the render engine.
func (c *Config) ComfyUIBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.ComfyUIHost, c.ComfyUIPort)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
