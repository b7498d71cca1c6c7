// Package config loads the service configuration from YAML with environment
// overrides for secrets and deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	ParseServerURL string `yaml:"parseServerURL"`
	ParseAppID     string `yaml:"parseAppID"`
	ParseRESTKey   string `yaml:"parseRESTKey"`

	GeminiAPIKey    string `yaml:"geminiAPIKey"`
	GeminiBaseURL   string `yaml:"geminiBaseURL"`
	GenerationModel string `yaml:"generationModel"`

	TokenSecret string `yaml:"tokenSecret"`
	TokenTTL    string `yaml:"tokenTTL"`

	SnapshotDSN  string `yaml:"snapshotDSN"`
	SyncInterval string `yaml:"syncInterval"`
	SyncJitter   bool   `yaml:"syncJitter"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	NoteStream    string `yaml:"noteStream"`
	NoteGroup     string `yaml:"noteGroup"`
	NoteWorkers   int    `yaml:"noteWorkers"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	TutorRateLimitPerMinute    int      `yaml:"tutorRateLimitPerMinute"`
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
	if v := os.Getenv("PARSE_SERVER_URL"); v != "" {
		cfg.ParseServerURL = v
	}
	if v := os.Getenv("PARSE_APP_ID"); v != "" {
		cfg.ParseAppID = v
	}
	if v := os.Getenv("PARSE_REST_KEY"); v != "" {
		cfg.ParseRESTKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.GeminiBaseURL = v
	}
	if v := os.Getenv("GEMINI_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("EXAMPRO_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("EXAMPRO_SNAPSHOT_DSN"); v != "" {
		cfg.SnapshotDSN = v
	}
	if v := os.Getenv("EXAMPRO_SYNC_INTERVAL"); v != "" {
		cfg.SyncInterval = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
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
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("EXAMPRO_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = "gemini-3-flash-preview"
	}
	if cfg.SnapshotDSN == "" {
		cfg.SnapshotDSN = "exampro.db"
	}
	if cfg.NoteStream == "" {
		cfg.NoteStream = "exampro:notes"
	}
	if cfg.NoteGroup == "" {
		cfg.NoteGroup = "notegen"
	}
	if cfg.NoteWorkers <= 0 {
		cfg.NoteWorkers = 2
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.ParseServerURL == "" {
		return errors.New("config: parseServerURL is required (set in config.yaml or PARSE_SERVER_URL)")
	}
	if cfg.ParseAppID == "" {
		return errors.New("config: parseAppID is required (set in config.yaml or PARSE_APP_ID)")
	}
	if cfg.ParseRESTKey == "" {
		return errors.New("config: parseRESTKey is required (set in config.yaml or PARSE_REST_KEY)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.TokenSecret == "" {
		return errors.New("config: tokenSecret is required (set in config.yaml or EXAMPRO_TOKEN_SECRET)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting and the note queue")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required for proof uploads")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 || cfg.TutorRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseSyncInterval(cfg.SyncInterval); err != nil {
		return err
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return err
	}
	return nil
}

// ParseSyncInterval parses the optional heartbeat interval; zero means use
// the built-in default.
func ParseSyncInterval(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid syncInterval duration: %w", err)
	}
	if dur < time.Second {
		return 0, errors.New("config: syncInterval must be at least 1s")
	}
	return dur, nil
}

// ParseTokenTTL parses the optional session token lifetime.
func ParseTokenTTL(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	return dur, nil
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
