// Package config loads the service configuration from YAML with
// sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "5s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Source struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`

	// MinZoom gates viewport data loading; below it the map stays empty.
	MinZoom float64 `yaml:"min_zoom"`

	// CacheTTL bounds how long a viewport response may be reused.
	CacheTTL Duration `yaml:"cache_ttl"`

	// Default camera position for first-time visitors, "zoom/lat/lon".
	DefaultZoom float64 `yaml:"default_zoom"`
	DefaultLat  float64 `yaml:"default_lat"`
	DefaultLon  float64 `yaml:"default_lon"`

	Sources struct {
		PlanReg  Source `yaml:"planreg"`
		Issues   Source `yaml:"issues"`
		Photomap Source `yaml:"photomap"`
	} `yaml:"sources"`
}

func Default() Config {
	c := Config{
		HTTPAddr:    ":8081",
		LogLevel:    "info",
		MinZoom:     13,
		CacheTTL:    Duration(60 * time.Second),
		DefaultZoom: 14,
		DefaultLat:  52.2053,
		DefaultLon:  0.1218,
	}
	c.Sources.PlanReg.Timeout = Duration(10 * time.Second)
	c.Sources.Issues.Timeout = Duration(10 * time.Second)
	c.Sources.Photomap.Timeout = Duration(10 * time.Second)
	return c
}

// Load reads path when it exists; a missing path just yields defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if c.MinZoom < 0 {
		return c, fmt.Errorf("min_zoom must not be negative (got %v)", c.MinZoom)
	}
	return c, nil
}
