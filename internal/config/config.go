package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string
	PostgresDSN  string

	// Credential vault
	MasterKey     string
	MasterKeySalt string

	// AMQP (optional; empty URL disables the queue path)
	AMQPURL              string
	AMQPExchange         string
	AMQPQueue            string
	AMQPEventsRoutingKey string

	// Batch orchestration
	SyncBatchSize      int
	SyncMaxConcurrent  int
	SyncPacing         time.Duration
	SyncAccountTimeout time.Duration
	SyncWindowDays     int
	SyncMaxAttempts    int
	SyncViaQueue       bool

	// Queue worker
	QueueConcurrency   int
	QueueRatePerSecond float64
	QueueMaxRetries    int

	// Scheduler
	BankSyncSchedule  string
	StuckJobThreshold time.Duration
	LogRetention      time.Duration
	JobsSeedFile      string

	// Bank endpoints
	BankHTTPTimeout   time.Duration
	ZiraatEndpoint    string
	VakifbankEndpoint string
	HalkbankEndpoint  string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8082"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/banksync.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		MasterKey:     getEnv("MASTER_KEY", ""),
		MasterKeySalt: getEnv("MASTER_KEY_SALT", ""),

		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "banksync"),
		AMQPQueue:            getEnv("AMQP_QUEUE", "account_sync"),
		AMQPEventsRoutingKey: getEnv("AMQP_EVENTS_ROUTING_KEY", "job_events"),

		SyncBatchSize:      getEnvInt("SYNC_BATCH_SIZE", 50),
		SyncMaxConcurrent:  getEnvInt("SYNC_MAX_CONCURRENT", 10),
		SyncPacing:         getEnvDuration("SYNC_PACING", 200*time.Millisecond),
		SyncAccountTimeout: getEnvDuration("SYNC_ACCOUNT_TIMEOUT", 90*time.Second),
		SyncWindowDays:     getEnvInt("SYNC_WINDOW_DAYS", 3),
		SyncMaxAttempts:    getEnvInt("SYNC_MAX_ATTEMPTS", 2),
		SyncViaQueue:       getEnvBool("SYNC_VIA_QUEUE", false),

		QueueConcurrency:   getEnvInt("QUEUE_CONCURRENCY", 5),
		QueueRatePerSecond: getEnvFloat("QUEUE_RATE_PER_SECOND", 2),
		QueueMaxRetries:    getEnvInt("QUEUE_MAX_RETRIES", 3),

		BankSyncSchedule:  getEnv("BANK_SYNC_SCHEDULE", "0 */4 * * *"),
		StuckJobThreshold: getEnvDuration("STUCK_JOB_THRESHOLD", 2*time.Minute),
		LogRetention:      getEnvDuration("LOG_RETENTION", 30*24*time.Hour),
		JobsSeedFile:      getEnv("JOBS_SEED_FILE", ""),

		BankHTTPTimeout:   getEnvDuration("BANK_HTTP_TIMEOUT", 60*time.Second),
		ZiraatEndpoint:    getEnv("ZIRAAT_ENDPOINT", "https://hesap.ziraatbank.com.tr/HesapHareketleri.asmx"),
		VakifbankEndpoint: getEnv("VAKIFBANK_ENDPOINT", "https://kurumsal.vakifbank.com.tr/api/statement"),
		HalkbankEndpoint:  getEnv("HALKBANK_ENDPOINT", "https://kurumsal.halkbank.com.tr/statement/xml"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.MasterKey) == "" {
		errors = append(errors, "MASTER_KEY is required to decrypt bank credentials")
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errors = append(errors, "POSTGRES_DSN is required when using postgres backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [sqlite postgres]", c.DataBackend))
	}

	// Validate AMQP URL if provided
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
	} else if c.SyncViaQueue {
		errors = append(errors, "SYNC_VIA_QUEUE requires AMQP_URL")
	}

	if c.SyncBatchSize < 1 || c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be between 1 and 1000", c.SyncBatchSize))
	}
	if c.SyncMaxConcurrent < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync concurrency %d: must be at least 1", c.SyncMaxConcurrent))
	}
	if c.SyncPacing < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync pacing %v: must not be negative", c.SyncPacing))
	}
	if c.SyncAccountTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid account timeout %v: must be at least 1 second", c.SyncAccountTimeout))
	}
	if c.SyncWindowDays < 1 || c.SyncWindowDays > 90 {
		errors = append(errors, fmt.Sprintf("invalid sync window %d days: must be between 1 and 90", c.SyncWindowDays))
	}
	if c.SyncMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync attempts %d: must be at least 1", c.SyncMaxAttempts))
	}

	if c.QueueConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid queue concurrency %d: must be at least 1", c.QueueConcurrency))
	}
	if c.QueueRatePerSecond <= 0 {
		errors = append(errors, fmt.Sprintf("invalid queue rate %v: must be positive", c.QueueRatePerSecond))
	}
	if c.QueueMaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid queue retries %d: must not be negative", c.QueueMaxRetries))
	}

	if _, err := cron.ParseStandard(c.BankSyncSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid BANK_SYNC_SCHEDULE '%s': %v", c.BankSyncSchedule, err))
	}
	if c.StuckJobThreshold < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stuck job threshold %v: must be at least 1 second", c.StuckJobThreshold))
	}
	if c.LogRetention < time.Hour {
		errors = append(errors, fmt.Sprintf("invalid log retention %v: must be at least 1 hour", c.LogRetention))
	}
	if c.JobsSeedFile != "" {
		if _, err := os.Stat(c.JobsSeedFile); err != nil {
			errors = append(errors, fmt.Sprintf("jobs seed file '%s' is not readable: %v", c.JobsSeedFile, err))
		}
	}

	if c.BankHTTPTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid bank HTTP timeout %v: must be at least 1 second", c.BankHTTPTimeout))
	}
	for _, e := range []struct{ key, value string }{
		{"ZIRAAT_ENDPOINT", c.ZiraatEndpoint},
		{"VAKIFBANK_ENDPOINT", c.VakifbankEndpoint},
		{"HALKBANK_ENDPOINT", c.HalkbankEndpoint},
	} {
		if u, err := url.Parse(e.value); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be an absolute URL", e.key, e.value))
		}
	}

	// Return combined errors
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
