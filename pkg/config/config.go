// Package config reads the optional soil-sensor-map.yaml next to the
// binary. Everything in it can also be set with flags; flags win, the
// file overrides built-in defaults. A missing file is not an error —
// the flat-file conventions alone are enough to run.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML layout.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Map    MapConfig    `yaml:"map"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Port   int    `yaml:"port,omitempty"`
	Domain string `yaml:"domain,omitempty"`
}

// DataConfig points at the flat-file roots.
type DataConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// MapConfig holds the dashboard's initial view. Pointer fields tell a
// legitimate 0 (the equator, a fully transparent overlay) apart from a
// key the file never set.
type MapConfig struct {
	Lat            *float64 `yaml:"lat,omitempty"`
	Lng            *float64 `yaml:"lng,omitempty"`
	Zoom           *int     `yaml:"zoom,omitempty"`
	OverlayOpacity *float64 `yaml:"overlayOpacity,omitempty"`
}

// LoadOptional reads path if present. The zero Config comes back for a
// missing file so callers can merge unconditionally.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if v := c.Map.Lat; v != nil && (*v < -90 || *v > 90) {
		return fmt.Errorf("map.lat %v out of range", *v)
	}
	if v := c.Map.Lng; v != nil && (*v < -180 || *v > 180) {
		return fmt.Errorf("map.lng %v out of range", *v)
	}
	if v := c.Map.OverlayOpacity; v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("map.overlayOpacity %v out of [0,1]", *v)
	}
	return nil
}
