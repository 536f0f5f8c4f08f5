package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Ledger storage
	DataBackend  string
	SQLiteDBPath string

	// Offline cache
	OfflineCacheVersion string
	OfflineCacheBackend string
	OfflineCacheDBPath  string
	// OfflineOriginURL is where the app shell is fetched from. Empty serves
	// the embedded shell in process.
	OfflineOriginURL string
	OfflineFontURL   string

	// AMQP; an empty URL disables change events.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Backup worker
	BackupDir      string
	BackupDebounce time.Duration
	BackupKeep     int

	RateLimitPerMinute int
}

const defaultFontURL = "https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600&display=swap"

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spese.db"),

		OfflineCacheVersion: getEnv("OFFLINE_CACHE_VERSION", "v1"),
		OfflineCacheBackend: getEnv("OFFLINE_CACHE_BACKEND", "memory"),
		OfflineCacheDBPath:  getEnv("OFFLINE_CACHE_DB_PATH", "./data/offline-cache.db"),
		OfflineOriginURL:    getEnv("OFFLINE_ORIGIN_URL", ""),
		OfflineFontURL:      getEnv("OFFLINE_FONT_URL", defaultFontURL),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spese"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "spese_changes"),

		BackupDir:      getEnv("BACKUP_DIR", "./data/backups"),
		BackupDebounce: getEnvDuration("BACKUP_DEBOUNCE", 5*time.Second),
		BackupKeep:     getEnvInt("BACKUP_KEEP", 10),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
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

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}
	if c.DataBackend == "sqlite" {
		if msg := checkDBPath("SQLite database", c.SQLiteDBPath); msg != "" {
			errors = append(errors, msg+" when using sqlite backend")
		}
	}

	// Validate offline cache
	if c.OfflineCacheVersion == "" {
		errors = append(errors, "offline cache version cannot be empty")
	} else if strings.ContainsAny(c.OfflineCacheVersion, " /") {
		errors = append(errors, fmt.Sprintf("invalid offline cache version '%s': must not contain spaces or slashes", c.OfflineCacheVersion))
	}
	if !slices.Contains(validBackends, c.OfflineCacheBackend) {
		errors = append(errors, fmt.Sprintf("invalid offline cache backend '%s': must be one of %v", c.OfflineCacheBackend, validBackends))
	}
	if c.OfflineCacheBackend == "sqlite" {
		if msg := checkDBPath("offline cache database", c.OfflineCacheDBPath); msg != "" {
			errors = append(errors, msg+" when using sqlite offline cache")
		}
		if c.DataBackend == "sqlite" && c.OfflineCacheDBPath == c.SQLiteDBPath && c.SQLiteDBPath != "" {
			errors = append(errors, "offline cache database must not share the ledger database file")
		}
	}
	if c.OfflineOriginURL != "" {
		if msg := checkHTTPURL("offline origin URL", c.OfflineOriginURL); msg != "" {
			errors = append(errors, msg)
		}
	}
	if c.OfflineFontURL != "" {
		if msg := checkHTTPURL("offline font URL", c.OfflineFontURL); msg != "" {
			errors = append(errors, msg)
		}
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
	}

	// Validate backup worker
	if c.BackupDir == "" {
		errors = append(errors, "backup directory cannot be empty")
	}
	if c.BackupDebounce < 0 {
		errors = append(errors, fmt.Sprintf("invalid backup debounce %v: must not be negative", c.BackupDebounce))
	} else if c.BackupDebounce > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid backup debounce %v: must be at most 1 hour", c.BackupDebounce))
	}
	if c.BackupKeep < 1 {
		errors = append(errors, fmt.Sprintf("invalid backup keep %d: must be at least 1", c.BackupKeep))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	} else if c.RateLimitPerMinute > 100000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at most 100000 requests per minute", c.RateLimitPerMinute))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// checkDBPath returns a problem description, or "" when path is usable.
// The parent directory is created when missing.
func checkDBPath(what, path string) string {
	if path == "" {
		return what + " path cannot be empty"
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Sprintf("cannot create %s directory '%s': %v", what, dir, err)
			}
		}
	}
	return ""
}

func checkHTTPURL(what, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid %s '%s': %v", what, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("invalid %s scheme '%s': must be 'http' or 'https'", what, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Sprintf("invalid %s '%s': missing host", what, raw)
	}
	return ""
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
