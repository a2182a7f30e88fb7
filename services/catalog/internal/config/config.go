package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location relative to the working
// directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	OCREndpoint       string `yaml:"ocrEndpoint"`
	OCRTimeoutSeconds int    `yaml:"ocrTimeoutSeconds"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	PreviewPages          int    `yaml:"previewPages"`
	MinNativePageRunes    int    `yaml:"minNativePageRunes"`
	PlaceholderCoverURL   string `yaml:"placeholderCoverURL"`
	PresignExpiryMinutes  int    `yaml:"presignExpiryMinutes"`
	RenderCommand         string `yaml:"renderCommand"`
	RenderDPI             int    `yaml:"renderDPI"`
	AdvanceLockTTLSeconds int    `yaml:"advanceLockTTLSeconds"`

	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	AllowedExtensions       []string `yaml:"allowedExtensions"`
	AllowedOrigins          []string `yaml:"allowedOrigins"`
	TrustedProxies          []string `yaml:"trustedProxies"`
	UploadRateLimit         int      `yaml:"uploadRateLimit"`
	UploadRateWindowSeconds int      `yaml:"uploadRateWindowSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("OCR_ENDPOINT"); v != "" {
		cfg.OCREndpoint = v
	}
	if v := os.Getenv("OCR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OCRTimeoutSeconds = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CATALOG_PREVIEW_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PreviewPages = n
		}
	}
	if v := os.Getenv("CATALOG_MIN_NATIVE_PAGE_RUNES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinNativePageRunes = n
		}
	}
	if v := os.Getenv("CATALOG_RENDER_COMMAND"); v != "" {
		cfg.RenderCommand = v
	}
	if v := os.Getenv("CATALOG_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CATALOG_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("CATALOG_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("CATALOG_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("CATALOG_UPLOAD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRateLimit = n
		}
	}
	if v := os.Getenv("CATALOG_UPLOAD_RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRateWindowSeconds = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.OCREndpoint == "" {
		return errors.New("config: ocrEndpoint is required (set in config.yaml or OCR_ENDPOINT)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.OCRTimeoutSeconds < 0 {
		return errors.New("config: ocrTimeoutSeconds must be >= 0")
	}
	if cfg.PreviewPages < 0 {
		return errors.New("config: previewPages must be >= 0")
	}
	if cfg.MinNativePageRunes < 0 {
		return errors.New("config: minNativePageRunes must be >= 0")
	}
	if cfg.PresignExpiryMinutes < 0 {
		return errors.New("config: presignExpiryMinutes must be >= 0")
	}
	if cfg.AdvanceLockTTLSeconds < 0 {
		return errors.New("config: advanceLockTTLSeconds must be >= 0")
	}
	if cfg.UploadRateLimit < 0 || cfg.UploadRateWindowSeconds < 0 {
		return errors.New("config: upload rate limit settings must be >= 0")
	}
	if cfg.UploadRateLimit > 0 && cfg.UploadRateWindowSeconds == 0 {
		return errors.New("config: uploadRateWindowSeconds is required when uploadRateLimit > 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
