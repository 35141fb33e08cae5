package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/client/artifacts"
	"github.com/dmitrijs2005/eagleeye/internal/flagx"
)

// Config holds runtime settings for the client.
type Config struct {
	APIBaseURL   string
	PushURL      string
	DatabasePath string

	// Ephemeral keeps the session token in memory only; nothing is written
	// to DatabasePath.
	Ephemeral bool

	RequestTimeout    time.Duration
	BootstrapTimeout  time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	RequestsPerSecond float64

	LogLevel    string
	DownloadDir string

	// S3, when a bucket is set, replaces DownloadDir as the artifact sink.
	S3 artifacts.S3Config
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://localhost:5000/api"
	c.PushURL = "ws://localhost:5000/ws"
	c.DatabasePath = "eagleeye.db"
	c.RequestTimeout = 30 * time.Second
	c.BootstrapTimeout = 3 * time.Second
	c.ReconnectAttempts = 3
	c.ReconnectDelay = time.Second
	c.RequestsPerSecond = 10
	c.LogLevel = "info"
	c.DownloadDir = "downloads"
	c.S3 = artifacts.S3Config{}
}

// LoadConfig applies defaults, then the config file named by -c/-config (if
// any), then flags. args excludes the program name.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigFileFlag(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.APIBaseURL == "":
		return fmt.Errorf("config: api base URL is required")
	case c.BootstrapTimeout <= 0:
		return fmt.Errorf("config: bootstrap timeout must be positive, got %s", c.BootstrapTimeout)
	case c.ReconnectAttempts < 0:
		return fmt.Errorf("config: reconnect attempts must not be negative, got %d", c.ReconnectAttempts)
	}
	return nil
}
