package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildRootCmdHasSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"run": false, "sessions": false, "tools": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxReactIterations != 50 {
		t.Errorf("max iterations = %d", cfg.MaxReactIterations)
	}
}

func TestLoadConfigReadsEnvAndYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AACODE_TEST_KEY=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".aacode"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "provider: anthropic\ntool_execution_timeout: 90s\n"
	if err := os.WriteFile(filepath.Join(dir, ".aacode", "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides existing variables, so make sure it is unset
	// while keeping the t.Setenv cleanup.
	t.Setenv("AACODE_TEST_KEY", "placeholder")
	os.Unsetenv("AACODE_TEST_KEY")

	cfg, err := loadConfig(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("provider = %s", cfg.Provider)
	}
	if cfg.ToolExecutionTimeout.Std() != 90*time.Second {
		t.Errorf("timeout = %s", cfg.ToolExecutionTimeout)
	}
	if os.Getenv("AACODE_TEST_KEY") != "loaded" {
		t.Error(".env not loaded")
	}
}
