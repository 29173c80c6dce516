package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Email     EmailConfig
	AI        AIConfig
	API       APIConfig
	Pipeline  PipelineConfig
	OpsDBPath string
	LogLevel  string
	Reports   map[string]*ReportTypeConfig
}

type DatabaseConfig struct {
	URL string
}

type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional: DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
	StagingPrefix   string
	PresignTTL      time.Duration
}

type QueueConfig struct {
	Brokers       []string
	GroupID       string
	ListingsTopic string
	ReportsTopic  string
}

type EmailConfig struct {
	APIBase   string
	APIKey    string
	FromEmail string
	FromName  string
}

type AIConfig struct {
	APIBase     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type APIConfig struct {
	Addr string
}

type PipelineConfig struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	SweepCron     string
	SweepAfter    time.Duration
	CommandPoll   time.Duration
	MediaMaxBytes int64
}

// ReportTypeConfig is a per-report-type prompt/layout definition loaded
// from config/reports/*.yaml. Built-in defaults cover types without a file.
type ReportTypeConfig struct {
	Type         string   `yaml:"type"`
	DisplayName  string   `yaml:"display_name"`
	Focus        string   `yaml:"focus"`
	Instructions []string `yaml:"instructions"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("S3_BUCKET", "propflow"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			StagingPrefix:   getEnv("S3_STAGING_PREFIX", "staging/"),
			PresignTTL:      getEnvDuration("PRESIGN_TTL", time.Hour),
		},
		Queue: QueueConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			GroupID:       getEnv("KAFKA_GROUP_ID", "propflow-pipeline"),
			ListingsTopic: getEnv("KAFKA_LISTINGS_TOPIC", "listing-submissions"),
			ReportsTopic:  getEnv("KAFKA_REPORTS_TOPIC", "report-requests"),
		},
		Email: EmailConfig{
			APIBase:   getEnv("EMAIL_API_BASE", "https://api.sendgrid.com/v3"),
			APIKey:    os.Getenv("EMAIL_API_KEY"),
			FromEmail: getEnv("EMAIL_FROM", "no-reply@propflow.example"),
			FromName:  getEnv("EMAIL_FROM_NAME", "PropFlow"),
		},
		AI: AIConfig{
			APIBase:     getEnv("AI_API_BASE", "https://api.openai.com/v1"),
			APIKey:      os.Getenv("AI_API_KEY"),
			Model:       getEnv("AI_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("AI_MAX_TOKENS", 2048),
			Temperature: getEnvFloat("AI_TEMPERATURE", 0.4),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8080"),
		},
		Pipeline: PipelineConfig{
			MaxAttempts:   getEnvInt("STAGE_MAX_ATTEMPTS", 3),
			BackoffBase:   getEnvDuration("STAGE_BACKOFF_BASE", 500*time.Millisecond),
			SweepCron:     getEnv("SWEEP_CRON", "*/2 * * * *"),
			SweepAfter:    getEnvDuration("SWEEP_AFTER", 5*time.Minute),
			CommandPoll:   getEnvDuration("COMMAND_POLL", 5*time.Second),
			MediaMaxBytes: int64(getEnvInt("MEDIA_MAX_BYTES", 20*1024*1024)),
		},
		OpsDBPath: getEnv("OPS_DB_PATH", "pipeline.db"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Reports:   make(map[string]*ReportTypeConfig),
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.loadReportConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadReportConfigs() error {
	configDir := "config/reports"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var rt ReportTypeConfig
		if err := yaml.Unmarshal(data, &rt); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		c.Reports[rt.Type] = &rt
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
