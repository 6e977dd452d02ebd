package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bench.yaml")
	yml := []byte(`
cache:
  capacity: 500
  max_age: 2m
  coalesce_loads: true
workload:
  workers: 3
logging:
  level: debug
`)
	if err := os.WriteFile(path, yml, 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Cache.Capacity != 500 || !c.Cache.CoalesceLoads || c.Workload.Workers != 3 {
		t.Fatalf("file values not applied: %+v", c.Cache)
	}
	if c.Workload.Reads != 90 || c.Metrics.Listen != ":8080" {
		t.Fatal("defaults must survive for keys the file omits")
	}

	d, err := c.durations()
	if err != nil {
		t.Fatal(err)
	}
	if d.maxAge != 2*time.Minute || d.minAge != time.Second {
		t.Fatalf("durations: %+v", d)
	}
}

func TestLoadConfig_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  capacty: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("misspelled key must be rejected")
	}
}

func TestConfig_BadDuration(t *testing.T) {
	t.Parallel()

	c := defaultConfig()
	c.Cache.MaxAge = "forever"
	if _, err := c.durations(); err == nil {
		t.Fatal("want parse error")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Parallel()

	c, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Cache.Capacity != 100_000 {
		t.Fatalf("capacity = %d", c.Cache.Capacity)
	}
}
