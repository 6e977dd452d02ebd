package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// config is the bench's YAML file layout. Durations are Go duration strings.
type config struct {
	Cache struct {
		Capacity         int    `yaml:"capacity"`
		MinAge           string `yaml:"min_age"`
		MaxAge           string `yaml:"max_age"`
		LockTimeout      string `yaml:"lock_timeout"`
		ValidateInterval string `yaml:"validate_interval"`
		CoalesceLoads    bool   `yaml:"coalesce_loads"`
	} `yaml:"cache"`

	Workload struct {
		Workers  int     `yaml:"workers"`
		Duration string  `yaml:"duration"`
		Reads    int     `yaml:"reads"`
		Keys     int     `yaml:"keys"`
		ZipfS    float64 `yaml:"zipf_s"`
		LoadCost string  `yaml:"load_cost"`
	} `yaml:"workload"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"logging"`

	Metrics struct {
		Listen string `yaml:"listen"`
		Pprof  string `yaml:"pprof"`
	} `yaml:"metrics"`
}

func defaultConfig() *config {
	c := &config{}
	c.Cache.Capacity = 100_000
	c.Cache.MinAge = "1s"
	c.Cache.MaxAge = "1m"
	c.Cache.LockTimeout = "30s"
	c.Workload.Duration = "10s"
	c.Workload.Reads = 90
	c.Workload.Keys = 1_000_000
	c.Workload.ZipfS = 1.1
	c.Workload.LoadCost = "0s"
	c.Logging.Level = "info"
	c.Logging.MaxSizeMB = 64
	c.Logging.MaxBackups = 3
	c.Metrics.Listen = ":8080"
	return c
}

// loadConfig overlays the YAML at path (if any) onto the defaults.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// durations parses every duration string, reporting the first bad one.
type durations struct {
	minAge, maxAge, lockTimeout, validate, run, loadCost time.Duration
}

func (c *config) durations() (durations, error) {
	var d durations
	for _, f := range []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"cache.min_age", c.Cache.MinAge, &d.minAge},
		{"cache.max_age", c.Cache.MaxAge, &d.maxAge},
		{"cache.lock_timeout", c.Cache.LockTimeout, &d.lockTimeout},
		{"cache.validate_interval", c.Cache.ValidateInterval, &d.validate},
		{"workload.duration", c.Workload.Duration, &d.run},
		{"workload.load_cost", c.Workload.LoadCost, &d.loadCost},
	} {
		if f.in == "" {
			continue
		}
		v, err := time.ParseDuration(f.in)
		if err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = v
	}
	return d, nil
}

// newLogger builds a logfmt logger on stderr, or on a size-rotated file
// when logging.file is set, filtered by logging.level.
func (c *config) newLogger() log.Logger {
	var w io.Writer = os.Stderr
	if c.Logging.File != "" {
		w = &lumberjack.Logger{
			Filename:   c.Logging.File,
			MaxSize:    c.Logging.MaxSizeMB,
			MaxBackups: c.Logging.MaxBackups,
		}
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	switch c.Logging.Level {
	case "debug":
		return level.NewFilter(logger, level.AllowDebug())
	case "warn":
		return level.NewFilter(logger, level.AllowWarn())
	case "error":
		return level.NewFilter(logger, level.AllowError())
	case "none":
		return level.NewFilter(logger, level.AllowNone())
	default:
		return level.NewFilter(logger, level.AllowInfo())
	}
}
