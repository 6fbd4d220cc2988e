// Package config reads the scanner's infrastructure settings from the
// environment and the list of repositories to scan from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/yourorg/dependency-scanner/internal/model"
)

type Config struct {
	DatabaseURL string

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	S3Region      string
	ReportsBucket string

	TrivyPath    string
	BazelPath    string
	WorkspaceDir string
	ScanTimeout  time.Duration

	WorkerConcurrency      int
	HTTPAddr               string
	SlackWebhookURL        string
	RiskAssessmentSeverity model.Severity
	ReposFile              string
	Debug                  bool
}

// ArchiveEnabled reports whether raw reports are archived in S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Endpoint != ""
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Load reads the configuration from the environment. All problems are
// reported together.
func Load() (Config, error) {
	var (
		result *multierror.Error
		err    error
	)
	collect := func(e error) {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}

	cfg := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Region:        os.Getenv("S3_REGION"),
		ReportsBucket:   os.Getenv("REPORTS_BUCKET"),
		TrivyPath:       getString("TRIVY_PATH", "trivy"),
		BazelPath:       os.Getenv("BAZEL_PATH"),
		WorkspaceDir:    getString("WORKSPACE_DIR", "."),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		ReposFile:       getString("REPOS_FILE", "repos.yaml"),
	}
	cfg.S3UseSSL, err = getBool("S3_USE_SSL", false)
	collect(err)
	cfg.Debug, err = getBool("DEBUG", false)
	collect(err)
	cfg.ScanTimeout, err = getDuration("SCAN_TIMEOUT", 30*time.Minute)
	collect(err)
	cfg.WorkerConcurrency, err = getInt("WORKER_CONCURRENCY", 2)
	collect(err)
	cfg.RiskAssessmentSeverity, err = model.ParseSeverity(os.Getenv("RISK_ASSESSMENT_SEVERITY"))
	if err != nil {
		collect(fmt.Errorf("RISK_ASSESSMENT_SEVERITY: %w", err))
	}

	if cfg.WorkerConcurrency < 1 {
		collect(fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", cfg.WorkerConcurrency))
	}
	if cfg.ScanTimeout <= 0 {
		collect(fmt.Errorf("SCAN_TIMEOUT must be positive, got %s", cfg.ScanTimeout))
	}
	if cfg.ArchiveEnabled() && cfg.ReportsBucket == "" {
		collect(fmt.Errorf("REPORTS_BUCKET is required when S3_ENDPOINT is set"))
	}
	return cfg, result.ErrorOrNil()
}
