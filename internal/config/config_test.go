package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: json\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Retry.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Store.Retry.MaxRetries)
	}
	if cfg.Store.Retry.BaseDelay != 100*time.Millisecond {
		t.Errorf("base delay = %s, want 100ms", cfg.Store.Retry.BaseDelay)
	}
	if cfg.Store.Retry.FailureThreshold != 5 {
		t.Errorf("failure threshold = %d, want 5", cfg.Store.Retry.FailureThreshold)
	}
	if cfg.History.Cap != 50 {
		t.Errorf("history cap = %d, want 50", cfg.History.Cap)
	}
	if cfg.Rules.Expiration.Duration != 24*time.Hour {
		t.Errorf("expiration duration = %s, want 24h", cfg.Rules.Expiration.Duration)
	}
	if cfg.Server.MetricsAddr != ":9090" {
		t.Errorf("metrics addr = %q, want :9090", cfg.Server.MetricsAddr)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: sqlite
  data_dir: /var/lib/stagegate
  retry:
    max_retries: 2
    base_delay: 50ms
    max_delay: 2s
    failure_threshold: 3
    cooldown: 10s
rules:
  auto_approve:
    enabled: true
    start: "22:00"
    end: "06:00"
  expiration:
    enabled: true
    duration: 1h
history:
  cap: 25
intercept:
  critical_commands: ["/stop", "/ban"]
  bypass: ["root"]
scheduler:
  enabled: true
  prune_spec: "@every 30s"
  commands:
    - spec: "0 4 * * *"
      command: "/backup run"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Store.Retry.Cooldown != 10*time.Second {
		t.Errorf("cooldown = %s, want 10s", cfg.Store.Retry.Cooldown)
	}
	if !cfg.Rules.AutoApprove.Enabled || cfg.Rules.AutoApprove.Start != "22:00" {
		t.Errorf("auto approve = %+v", cfg.Rules.AutoApprove)
	}
	if cfg.History.Cap != 25 {
		t.Errorf("history cap = %d, want 25", cfg.History.Cap)
	}
	if len(cfg.Intercept.CriticalCommands) != 2 || len(cfg.Intercept.Bypass) != 1 {
		t.Errorf("intercept = %+v", cfg.Intercept)
	}
	if len(cfg.Scheduler.Commands) != 1 || cfg.Scheduler.Commands[0].Command != "/backup run" {
		t.Errorf("scheduler commands = %+v", cfg.Scheduler.Commands)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("STAGEGATE_DATA", "/srv/review")
	path := writeConfig(t, "store:\n  data_dir: ${STAGEGATE_DATA}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DataDir != "/srv/review" {
		t.Errorf("data dir = %q, want /srv/review", cfg.Store.DataDir)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: etcd\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted unsupported backend")
	}
}

func TestLoadRejectsIncompleteScheduledCommand(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  commands:
    - spec: "0 4 * * *"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted scheduled command without command line")
	}
}

func TestRuleConfigParsesWindow(t *testing.T) {
	cfg := Default()
	cfg.Rules.AutoApprove.Enabled = true

	rc := cfg.RuleConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !rc.AutoApproveEnabled {
		t.Fatal("auto approve disabled after parsing valid window")
	}
	if rc.AutoApproveWindow.Start != 22*time.Hour {
		t.Errorf("window start = %s, want 22h", rc.AutoApproveWindow.Start)
	}
	if rc.AutoApproveWindow.End != 6*time.Hour {
		t.Errorf("window end = %s, want 6h", rc.AutoApproveWindow.End)
	}
}

func TestRuleConfigInvalidWindowDisablesAutoApprove(t *testing.T) {
	cfg := Default()
	cfg.Rules.AutoApprove.Enabled = true
	cfg.Rules.AutoApprove.Start = "25:99"

	rc := cfg.RuleConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if rc.AutoApproveEnabled {
		t.Error("auto approve stayed enabled with unparseable window")
	}
}
