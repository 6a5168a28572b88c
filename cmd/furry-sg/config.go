package main

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the demo's YAML configuration.
type Config struct {
	// RefreshRate overrides the screen refresh rate in Hz.
	RefreshRate float64 `yaml:"refresh_rate"`
	// Scale is scene pixels per presented pixel.
	Scale  int    `yaml:"scale"`
	Filter string `yaml:"filter"`
	// FrameIntervalMS overrides the worker's frame interval.
	FrameIntervalMS int            `yaml:"frame_interval_ms"`
	LogFile         string         `yaml:"log_file"`
	LogLevel        string         `yaml:"log_level"`
	Windows         []WindowConfig `yaml:"windows"`
}

// WindowConfig describes one demo window.
type WindowConfig struct {
	Title      string `yaml:"title"`
	Background string `yaml:"background"`
	Color      string `yaml:"color"`
	// PeriodMS is the animation period.
	PeriodMS int `yaml:"period_ms"`
}

var palette = []string{"#e0435b", "#3fa7d6", "#59cd90", "#fac05e", "#a06cd5"}

func defaultConfig() Config {
	return Config{RefreshRate: 60, Scale: 1, Filter: "bilinear", LogLevel: "info"}
}

// loadConfig reads path when set and fills defaults. windows, when
// positive, pads or trims the window list.
func loadConfig(path string, windows int) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if windows <= 0 && len(cfg.Windows) == 0 {
		windows = 2
	}
	if windows > 0 {
		for len(cfg.Windows) < windows {
			cfg.Windows = append(cfg.Windows, WindowConfig{})
		}
		cfg.Windows = cfg.Windows[:windows]
	}
	for i := range cfg.Windows {
		w := &cfg.Windows[i]
		if w.Title == "" {
			w.Title = fmt.Sprintf("window %d", i+1)
		}
		if w.Background == "" {
			w.Background = "#101018"
		}
		if w.Color == "" {
			w.Color = palette[i%len(palette)]
		}
		if w.PeriodMS <= 0 {
			w.PeriodMS = 1500 + 500*i
		}
	}
	if cfg.Scale < 1 {
		cfg.Scale = 1
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	for i, w := range c.Windows {
		if _, err := parseColor(w.Background); err != nil {
			errs = append(errs, fmt.Errorf("windows[%d].background: %w", i, err))
		}
		if _, err := parseColor(w.Color); err != nil {
			errs = append(errs, fmt.Errorf("windows[%d].color: %w", i, err))
		}
	}
	switch strings.ToLower(c.Filter) {
	case "", "nearest", "bilinear", "catmullrom":
	default:
		errs = append(errs, fmt.Errorf("filter: unknown scaler %q", c.Filter))
	}
	return errors.Join(errs...)
}

// parseColor accepts "#rrggbb" and "#rgb".
func parseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
