package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

type validatedConfig struct {
	Port int `yaml:"port"`
}

func (c *validatedConfig) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "name: grimoire\nport: 8080\n")

	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "grimoire" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_APP_NAME", "from-env")
	path := writeFile(t, "name: ${TEST_APP_NAME}\nport: 1\n")

	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "from-env" {
		t.Errorf("name = %q", cfg.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg testConfig
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	path := writeFile(t, "port: -1\n")

	var cfg validatedConfig
	if err := Load(path, &cfg); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestLoadOrDefaultMissingFileKeepsDefaults(t *testing.T) {
	cfg := validatedConfig{Port: 9000}
	if err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d, want pre-populated default", cfg.Port)
	}
}

func TestLoadOrDefaultValidatesDefaults(t *testing.T) {
	cfg := validatedConfig{Port: 0}
	if err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Fatal("expected validation failure on invalid defaults")
	}
}

func TestLoadOrDefaultExistingFile(t *testing.T) {
	path := writeFile(t, "port: 4242\n")

	cfg := validatedConfig{Port: 9000}
	if err := LoadOrDefault(path, &cfg); err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Port != 4242 {
		t.Errorf("port = %d, want file value", cfg.Port)
	}
}
