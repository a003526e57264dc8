// Package config loads optional ini-format defaults for the bdserver
// and fsserver commands, the way pkg/od/parser.go loads EDS files:
// ini.Load, then GetKey(...).String()/Int64() per field. Config
// supplies the log level (which -v overrides) and a track delay that
// bdserver uses only when its positional track_us argument is 0; it
// never replaces any other positional argument (spec.md §6).
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Defaults holds the optional settings a server may load from an ini
// file before applying command-line flags on top.
type Defaults struct {
	TrackDelayMicros int64
	LogLevel         string
}

// DefaultDefaults returns the built-in fallback values used when no
// config file is given at all.
func DefaultDefaults() Defaults {
	return Defaults{TrackDelayMicros: 0, LogLevel: "info"}
}

// Load reads path as an ini file with a single [server] section:
//
//	[server]
//	track_delay_micros = 500
//	log_level = debug
//
// A missing key keeps DefaultDefaults' value for that field.
func Load(path string) (Defaults, error) {
	d := DefaultDefaults()

	cfg, err := ini.Load(path)
	if err != nil {
		return d, fmt.Errorf("config: load %s: %w", path, err)
	}

	section := cfg.Section("server")
	if key, err := section.GetKey("track_delay_micros"); err == nil {
		v, err := key.Int64()
		if err != nil {
			return d, fmt.Errorf("config: track_delay_micros: %w", err)
		}
		d.TrackDelayMicros = v
	}
	if key, err := section.GetKey("log_level"); err == nil {
		d.LogLevel = key.String()
	}

	return d, nil
}
