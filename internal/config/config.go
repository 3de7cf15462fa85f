package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// envFiles maps ENVIRONMENT to the dotenv file loaded for it.
var envFiles = map[string]string{
	EnvDevelopment: ".env.dev",
	EnvProduction:  ".env.prod",
}

type Config struct {
	Environment string

	// HTTP Server
	Port               string
	MaxUploadBytes     int64
	MaxImages          int
	RateLimitPerMinute int

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID       string
	GoogleCategoriesSheetName string
	GoogleLedgerSheetName     string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string

	// Model
	GoogleAPIKey         string
	ModelName            string
	AgentTimeout         time.Duration
	AgentTemperature     float64
	AgentTopP            float64
	AgentTopK            int
	AgentMaxOutputTokens int
	AgentSessionIdleTTL  time.Duration

	// Extraction
	CategoryCacheTTL  time.Duration
	CategoryPolicy    string
	ImageMaxDimension int
	ImageJPEGQuality  int
	ImageMaxPixels    int

	// Worker
	SyncBatchSize        int
	SyncInterval         time.Duration
	CategorySyncInterval time.Duration

	// Backend selection
	DataBackend   string
	DataDirectory string
}

// LoadEnvironmentFile loads the dotenv file selected by ENVIRONMENT and
// returns the environment name. A missing file is not an error; variables
// already set in the process environment win over the file.
func LoadEnvironmentFile() (string, error) {
	env := strings.ToLower(getEnv("ENVIRONMENT", EnvDevelopment))
	file, ok := envFiles[env]
	if !ok {
		return env, fmt.Errorf("unrecognized ENVIRONMENT %q: must be %q or %q", env, EnvDevelopment, EnvProduction)
	}
	if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
		return env, fmt.Errorf("load %s: %w", file, err)
	}
	return env, nil
}

func Load() *Config {
	cfg := &Config{
		Environment: strings.ToLower(getEnv("ENVIRONMENT", EnvDevelopment)),

		Port:               getEnv("PORT", "8081"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 20<<20)),
		MaxImages:          getEnvInt("MAX_IMAGES", 10),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/lifeledger.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "lifeledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleCategoriesSheetName: getEnv("GOOGLE_CATEGORIES_SHEET_NAME", "Categories"),
		GoogleLedgerSheetName:     getEnv("GOOGLE_LEDGER_SHEET_NAME", "Ledger"),
		GoogleServiceAccountJSON:  getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile:  getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),

		GoogleAPIKey:         strings.TrimSpace(getEnv("GOOGLE_API_KEY", "")),
		ModelName:            getEnv("MODEL_NAME_GENAI", "gemini-2.0-flash"),
		AgentTimeout:         getEnvDuration("AGENT_TIMEOUT", 60*time.Second),
		AgentTemperature:     getEnvFloat("AGENT_TEMPERATURE", 0.3),
		AgentTopP:            getEnvFloat("AGENT_TOP_P", 0.8),
		AgentTopK:            getEnvInt("AGENT_TOP_K", 20),
		AgentMaxOutputTokens: getEnvInt("AGENT_MAX_OUTPUT_TOKENS", 2000),
		AgentSessionIdleTTL:  getEnvDuration("AGENT_SESSION_IDLE_TTL", 0),

		CategoryCacheTTL:  getEnvDuration("CATEGORY_CACHE_TTL", time.Minute),
		CategoryPolicy:    strings.ToLower(getEnv("CATEGORY_POLICY", "passthrough")),
		ImageMaxDimension: getEnvInt("IMAGE_MAX_DIMENSION", 1024),
		ImageJPEGQuality:  getEnvInt("IMAGE_JPEG_QUALITY", 85),
		ImageMaxPixels:    getEnvInt("IMAGE_MAX_PIXELS", 50_000_000),

		SyncBatchSize:        getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:         getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		CategorySyncInterval: getEnvDuration("CATEGORY_SYNC_INTERVAL", 24*time.Hour),

		DataBackend:   getEnv("DATA_BACKEND", "memory"),
		DataDirectory: getEnv("DATA_DIRECTORY", "data"),
	}

	return cfg
}

// ModelConfigured reports whether a model credential is present.
func (c *Config) ModelConfigured() bool {
	return c.GoogleAPIKey != ""
}

// SheetsConfigured reports whether a spreadsheet is available for sync.
func (c *Config) SheetsConfigured() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if _, ok := envFiles[c.Environment]; !ok {
		errors = append(errors, fmt.Sprintf("invalid environment '%s': must be '%s' or '%s'", c.Environment, EnvDevelopment, EnvProduction))
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sheets", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets backend")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.AgentTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid agent timeout %v: must be at least 1 second", c.AgentTimeout))
	} else if c.AgentTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid agent timeout %v: must be at most 10 minutes", c.AgentTimeout))
	}
	if c.AgentTemperature < 0 || c.AgentTemperature > 2 {
		errors = append(errors, fmt.Sprintf("invalid agent temperature %v: must be between 0 and 2", c.AgentTemperature))
	}
	if c.AgentTopP < 0 || c.AgentTopP > 1 {
		errors = append(errors, fmt.Sprintf("invalid agent top-p %v: must be between 0 and 1", c.AgentTopP))
	}
	if c.AgentTopK < 0 {
		errors = append(errors, fmt.Sprintf("invalid agent top-k %d: must not be negative", c.AgentTopK))
	}
	if c.AgentMaxOutputTokens < 1 {
		errors = append(errors, fmt.Sprintf("invalid agent max output tokens %d: must be at least 1", c.AgentMaxOutputTokens))
	}
	if c.AgentSessionIdleTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid session idle TTL %v: must not be negative", c.AgentSessionIdleTTL))
	}

	if c.CategoryPolicy != "passthrough" && c.CategoryPolicy != "coerce" {
		errors = append(errors, fmt.Sprintf("invalid category policy '%s': must be 'passthrough' or 'coerce'", c.CategoryPolicy))
	}
	if c.CategoryCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid category cache TTL %v: must not be negative", c.CategoryCacheTTL))
	}
	if c.ImageMaxDimension < 64 || c.ImageMaxDimension > 4096 {
		errors = append(errors, fmt.Sprintf("invalid image max dimension %d: must be between 64 and 4096", c.ImageMaxDimension))
	}
	if c.ImageMaxPixels < 1<<20 {
		errors = append(errors, fmt.Sprintf("invalid image max pixels %d: must be at least 1048576", c.ImageMaxPixels))
	}
	if c.ImageJPEGQuality < 1 || c.ImageJPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("invalid JPEG quality %d: must be between 1 and 100", c.ImageJPEGQuality))
	}
	if c.MaxUploadBytes < 1<<10 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be at least 1024", c.MaxUploadBytes))
	}
	if c.MaxImages < 0 {
		errors = append(errors, fmt.Sprintf("invalid max images %d: must not be negative", c.MaxImages))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	// Validate worker configuration
	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if c.CategorySyncInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid category sync interval %v: must be at least 1 minute", c.CategorySyncInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
