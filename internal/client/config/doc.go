// Package config loads runtime configuration for the EagleEye client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     .toml are read as TOML, anything else as JSON.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the EagleEye API
//	-p string   push channel URL (ws://, wss:// or grpc://)
//	-d string   path of the local SQLite database
//	-t int      session bootstrap timeout (seconds)
//	-l string   log level: debug, info, warn or error
//	-o string   directory downloaded files are saved to
//	-e          keep the session token in memory, not in the database
//
// # File schema
//
// Durations use timex.Duration, so they can be strings like "3s" or, in
// JSON, integer nanoseconds:
//
//	{
//	  "api_base_url": "http://localhost:5000/api",
//	  "push_url": "ws://localhost:5000/ws",
//	  "bootstrap_timeout": "3s",
//	  "reconnect_attempts": 3,
//	  "s3": {"bucket": "media", "endpoint": "http://localhost:9000"}
//	}
//
// Only keys present with a non-zero value override the defaults.
package config
