package config

import (
	"errors"
	"testing"
	"time"

	"docconvert/models"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DOCSERVER_INTERNAL_URL", "http://onlyoffice:80/")
	t.Setenv("DOCSERVER_PUBLIC_URL", "https://docs.example.com")
	t.Setenv("DOCSERVER_SECRET", "s3cret")
	t.Setenv("HOST_BASE_URL", "https://lms.example.com/")
	t.Setenv("HOST_INTERNAL_URL", "http://lms:8080")
	t.Setenv("REDIS_PREFIX", "app:")
	t.Setenv("CONVERSION_WORKER_COUNT", "5")
	t.Setenv("POLL_INTERVAL", "not-a-number")
	t.Setenv("S3_USE_PATH_STYLE_ENDPOINT", "yes")
	t.Setenv("S3_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-1")

	cfg := Load()

	if cfg.DocServerInternalURL != "http://onlyoffice:80" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.DocServerInternalURL)
	}
	if cfg.HostBaseURL != "https://lms.example.com" || cfg.HostInternalURL != "http://lms:8080" {
		t.Errorf("unexpected host URLs %q %q", cfg.HostBaseURL, cfg.HostInternalURL)
	}
	if cfg.DocServerSecret != "s3cret" || cfg.DocServerPublicURL != "https://docs.example.com" {
		t.Errorf("unexpected document server settings %+v", cfg)
	}
	if cfg.PendingQueue != "app:conversion:pending" || cfg.LockPrefix != "app:conversion:lock:" {
		t.Errorf("expected prefixed keys, got %q %q", cfg.PendingQueue, cfg.LockPrefix)
	}
	if cfg.WorkerCount != 5 {
		t.Errorf("expected 5 workers, got %d", cfg.WorkerCount)
	}
	if cfg.LockTTL != 600 || cfg.LockTimeout() != 10*time.Minute {
		t.Errorf("expected default lock TTL, got %d", cfg.LockTTL)
	}
	if cfg.PollInterval != 60 || cfg.PollEvery() != time.Minute {
		t.Errorf("expected default poll interval, got %d", cfg.PollInterval)
	}
	if !cfg.S3UsePathStyle || cfg.S3Region != "eu-west-1" {
		t.Errorf("unexpected S3 settings path=%v region=%q", cfg.S3UsePathStyle, cfg.S3Region)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantSetting string
	}{
		{name: "missing internal url", cfg: Config{HostBaseURL: "http://host"}, wantSetting: "DOCSERVER_INTERNAL_URL"},
		{name: "relative internal url", cfg: Config{DocServerInternalURL: "onlyoffice", HostBaseURL: "http://host"}, wantSetting: "DOCSERVER_INTERNAL_URL"},
		{name: "missing host url", cfg: Config{DocServerInternalURL: "http://ds"}, wantSetting: "HOST_BASE_URL"},
		{name: "bad rewrite url", cfg: Config{DocServerInternalURL: "http://ds", HostBaseURL: "http://host", HostInternalURL: "::"}, wantSetting: "HOST_INTERNAL_URL"},
		{
			name:        "lock shorter than a poll",
			cfg:         Config{DocServerInternalURL: "http://ds", HostBaseURL: "http://host", LockTTL: 300, RequestTimeout: 60, DownloadTimeout: 300},
			wantSetting: "LOCK_TTL",
		},
		{
			name:        "lock equal to a poll",
			cfg:         Config{DocServerInternalURL: "http://ds", HostBaseURL: "http://host", LockTTL: 90, RequestTimeout: 30, DownloadTimeout: 60},
			wantSetting: "LOCK_TTL",
		},
		{name: "lock longer than a poll", cfg: Config{DocServerInternalURL: "http://ds", HostBaseURL: "http://host", LockTTL: 91, RequestTimeout: 30, DownloadTimeout: 60}},
		{name: "valid", cfg: Config{DocServerInternalURL: "http://ds", HostBaseURL: "http://host"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantSetting == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %T %v", err, err)
			}
			if cfgErr.Setting != tc.wantSetting {
				t.Errorf("expected setting %s, got %s", tc.wantSetting, cfgErr.Setting)
			}
		})
	}
}
