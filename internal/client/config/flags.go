package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/flagx"
)

var ownFlags = []string{"-a", "-p", "-d", "-t", "-l", "-o", "-e"}

// parseFlags overlays cfg with command-line flags. Only the flags listed in
// ownFlags are looked at, so -c/-config and anything meant for other
// components pass through untouched.
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("eagleeye", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "base URL of the EagleEye API")
	fs.StringVar(&cfg.PushURL, "p", cfg.PushURL, "push channel URL")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path of the local database")
	timeout := fs.Int("t", int(cfg.BootstrapTimeout.Seconds()), "session bootstrap timeout (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.DownloadDir, "o", cfg.DownloadDir, "download directory")
	fs.BoolVar(&cfg.Ephemeral, "e", cfg.Ephemeral, "keep the session in memory only")

	if err := fs.Parse(flagx.FilterArgs(args, ownFlags)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	// -t is whole seconds; keep a sub-second value from the file unless the
	// flag was given.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			cfg.BootstrapTimeout = time.Duration(*timeout) * time.Second
		}
	})
	return nil
}
