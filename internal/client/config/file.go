package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dmitrijs2005/eagleeye/internal/client/artifacts"
	"github.com/dmitrijs2005/eagleeye/internal/timex"
)

// fileConfig is the on-disk shape. It relies on timex.Duration so files can
// spell intervals as "3s".
type fileConfig struct {
	APIBaseURL        string             `json:"api_base_url" toml:"api_base_url"`
	PushURL           string             `json:"push_url" toml:"push_url"`
	DatabasePath      string             `json:"database_path" toml:"database_path"`
	RequestTimeout    timex.Duration     `json:"request_timeout" toml:"request_timeout"`
	BootstrapTimeout  timex.Duration     `json:"bootstrap_timeout" toml:"bootstrap_timeout"`
	ReconnectAttempts int                `json:"reconnect_attempts" toml:"reconnect_attempts"`
	ReconnectDelay    timex.Duration     `json:"reconnect_delay" toml:"reconnect_delay"`
	RequestsPerSecond float64            `json:"requests_per_second" toml:"requests_per_second"`
	LogLevel          string             `json:"log_level" toml:"log_level"`
	DownloadDir       string             `json:"download_dir" toml:"download_dir"`
	S3                artifacts.S3Config `json:"s3" toml:"s3"`
}

// parseFile overlays cfg with the non-zero values found in path.
func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.PushURL, fc.PushURL)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.DownloadDir, fc.DownloadDir)

	if fc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = fc.RequestTimeout.Duration
	}
	if fc.BootstrapTimeout.Duration > 0 {
		cfg.BootstrapTimeout = fc.BootstrapTimeout.Duration
	}
	if fc.ReconnectDelay.Duration > 0 {
		cfg.ReconnectDelay = fc.ReconnectDelay.Duration
	}
	if fc.ReconnectAttempts > 0 {
		cfg.ReconnectAttempts = fc.ReconnectAttempts
	}
	if fc.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = fc.RequestsPerSecond
	}

	setString(&cfg.S3.Bucket, fc.S3.Bucket)
	setString(&cfg.S3.Prefix, fc.S3.Prefix)
	setString(&cfg.S3.Region, fc.S3.Region)
	setString(&cfg.S3.Endpoint, fc.S3.Endpoint)
	setString(&cfg.S3.AccessKeyID, fc.S3.AccessKeyID)
	setString(&cfg.S3.SecretAccessKey, fc.S3.SecretAccessKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
