package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trivianft/core/internal/app/services/workflow"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Jobs.ReconcileInterval != 30*time.Second {
		t.Fatalf("reconcile interval = %v", cfg.Jobs.ReconcileInterval)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  addr: \":9999\"\nchain:\n  policy_id: policy-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHAIN_POLICY_ID", "policy-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("file override lost: %s", cfg.Server.Addr)
	}
	// Environment wins over the file.
	if cfg.Chain.PolicyID != "policy-env" {
		t.Fatalf("env override lost: %s", cfg.Chain.PolicyID)
	}
	// Untouched fields keep defaults.
	if cfg.Postgres.MaxOpenConns != 20 {
		t.Fatalf("default lost: %d", cfg.Postgres.MaxOpenConns)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

// The workflow settings map field-for-field onto the engine's config; this
// keeps the two structs from drifting apart in type or meaning.
func TestWorkflowSettingsFeedEngine(t *testing.T) {
	t.Setenv("WORKFLOW_MAX_ATTEMPTS", "7")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wf := workflow.Config{
		RetryInitial: cfg.Workflow.RetryInitial,
		RetryMax:     cfg.Workflow.RetryMax,
		MaxAttempts:  cfg.Workflow.MaxAttempts,
		StaleAfter:   cfg.Workflow.StaleAfter,
		ScanInterval: cfg.Workflow.ScanInterval,
	}
	if wf.MaxAttempts != 7 {
		t.Fatalf("max attempts = %d, want 7", wf.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing policy id accepted")
	}
	cfg.Chain.PolicyID = "policy-1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
