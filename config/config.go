package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"docconvert/models"

	"github.com/joho/godotenv"
)

type Config struct {
	DocServerInternalURL string
	DocServerPublicURL   string
	DocServerSecret      string
	HostBaseURL          string
	HostInternalURL      string
	ConverterName        string

	HTTPAddr        string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PendingQueue    string
	ProcessingQueue string
	LockPrefix      string
	EventsChannel   string
	WorkerCount     int
	PollInterval    int
	LockTTL         int
	RequestTimeout  int
	DownloadTimeout int
	StagingDir      string

	S3Bucket       string
	S3Region       string
	AWSS3AccessKey string
	AWSS3SecretKey string
	S3Endpoint     string
	S3UsePathStyle bool
	DatabaseURL    string

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	redisPrefix := getEnv("REDIS_PREFIX", "")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "docconvert")
	dbUser := getEnv("DB_USERNAME", "docconvert")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	var dbURL string
	if dbPassword != "" {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
		)
	} else {
		dbURL = fmt.Sprintf(
			"host=%s port=%s dbname=%s user=%s sslmode=%s",
			dbHost, dbPort, dbName, dbUser, dbSSLMode,
		)
	}
	if dbSSLRootCert := getEnv("DB_SSLROOTCERT", ""); dbSSLRootCert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", dbSSLRootCert)
	}

	return &Config{
		DocServerInternalURL: strings.TrimRight(getEnv("DOCSERVER_INTERNAL_URL", ""), "/"),
		DocServerPublicURL:   strings.TrimRight(getEnv("DOCSERVER_PUBLIC_URL", ""), "/"),
		DocServerSecret:      getEnv("DOCSERVER_SECRET", ""),
		HostBaseURL:          strings.TrimRight(getEnv("HOST_BASE_URL", "http://localhost:8080"), "/"),
		HostInternalURL:      strings.TrimRight(getEnv("HOST_INTERNAL_URL", ""), "/"),
		ConverterName:        getEnv("CONVERTER_NAME", "documentserver"),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_CONVERSION_DB", 3),
		RedisPrefix:   redisPrefix,
		PendingQueue:  applyPrefix(getEnv("CONVERSION_PENDING_QUEUE", "conversion:pending"), redisPrefix),
		ProcessingQueue: applyPrefix(
			getEnv("CONVERSION_PROCESSING_QUEUE", "conversion:processing"),
			redisPrefix,
		),
		LockPrefix:      applyPrefix("conversion:lock:", redisPrefix),
		EventsChannel:   applyPrefix(getEnv("EVENTS_CHANNEL", "conversion:events"), redisPrefix),
		WorkerCount:     getEnvInt("CONVERSION_WORKER_COUNT", 3),
		PollInterval:    getEnvInt("POLL_INTERVAL", 60),
		LockTTL:         getEnvInt("LOCK_TTL", 600),
		RequestTimeout:  getEnvInt("REQUEST_TIMEOUT", 60),
		DownloadTimeout: getEnvInt("DOWNLOAD_TIMEOUT", 300),
		StagingDir:      getEnv("STAGING_DIR", "/tmp/conversions"),

		S3Bucket: getEnv("AWS_BUCKET", "docconvert"),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		DatabaseURL:    dbURL,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate reports the first setting that keeps the converter from talking
// to the document server. It never touches the network.
func (c *Config) Validate() error {
	if c.DocServerInternalURL == "" {
		return &models.ConfigurationError{Setting: "DOCSERVER_INTERNAL_URL", Reason: "not set"}
	}
	if c.HostBaseURL == "" {
		return &models.ConfigurationError{Setting: "HOST_BASE_URL", Reason: "not set"}
	}
	urls := []struct{ setting, value string }{
		{"DOCSERVER_INTERNAL_URL", c.DocServerInternalURL},
		{"DOCSERVER_PUBLIC_URL", c.DocServerPublicURL},
		{"HOST_BASE_URL", c.HostBaseURL},
		{"HOST_INTERNAL_URL", c.HostInternalURL},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &models.ConfigurationError{Setting: u.setting, Reason: fmt.Sprintf("invalid URL %q", u.value)}
		}
	}
	// A poll may spend a full request and a full download under one lock.
	if budget := c.RequestTimeoutDuration() + c.DownloadTimeoutDuration(); c.LockTimeout() <= budget {
		return &models.ConfigurationError{
			Setting: "LOCK_TTL",
			Reason:  fmt.Sprintf("%s must exceed REQUEST_TIMEOUT plus DOWNLOAD_TIMEOUT (%s)", c.LockTimeout(), budget),
		}
	}
	return nil
}

func (c *Config) PollEvery() time.Duration {
	if c.PollInterval <= 0 {
		return time.Minute
	}
	return time.Duration(c.PollInterval) * time.Second
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.LockTTL) * time.Second
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	if c.RequestTimeout <= 0 {
		return time.Minute
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) DownloadTimeoutDuration() time.Duration {
	if c.DownloadTimeout <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DownloadTimeout) * time.Second
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
