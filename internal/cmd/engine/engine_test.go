package engine

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("engine", flag.ContinueOnError)
	t.Setenv("TURNENGINE_PORT", "9095")
	t.Setenv("TURNENGINE_RULES_PATH", "/etc/turnengine/rules.yaml")

	cfg, err := ParseConfig(fs, []string{"-db-path", "/tmp/engine.db", "-manual-escalation-after", "30m"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9095 {
		t.Fatalf("port = %d, want 9095", cfg.Port)
	}
	if cfg.RulesPath != "/etc/turnengine/rules.yaml" {
		t.Fatalf("rules path = %q, want %q", cfg.RulesPath, "/etc/turnengine/rules.yaml")
	}
	if cfg.DBPath != "/tmp/engine.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "/tmp/engine.db")
	}
	if cfg.ManualEscalationAfter != 30*time.Minute {
		t.Fatalf("escalation after = %v, want 30m", cfg.ManualEscalationAfter)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("engine", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8095 {
		t.Fatalf("port = %d, want 8095", cfg.Port)
	}
	if cfg.DBPath != "data/engine.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/engine.db")
	}
	if cfg.RulesPath != "rules.yaml" {
		t.Fatalf("rules path = %q, want %q", cfg.RulesPath, "rules.yaml")
	}
	if cfg.ManualEscalationAfter != 0 {
		t.Fatalf("escalation after = %v, want disabled", cfg.ManualEscalationAfter)
	}
	if cfg.EscalationInterval != time.Minute {
		t.Fatalf("escalation interval = %v, want 1m", cfg.EscalationInterval)
	}
}
