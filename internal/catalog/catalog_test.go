package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	rules := c.Rules()
	if len(rules) != 6 {
		t.Fatalf("expected 6 built-in rules, got %d", len(rules))
	}
	for _, r := range rules {
		if !r.Enabled {
			t.Fatalf("rule %s should be enabled by default", r.DetectionID)
		}
	}

	mfa, ok := c.ByID(RuleMFAFatigue)
	if !ok {
		t.Fatalf("missing rule %s", RuleMFAFatigue)
	}
	if mfa.Threshold != 5 || mfa.Window != 10*time.Minute {
		t.Fatalf("unexpected MFA fatigue defaults: threshold=%d window=%s", mfa.Threshold, mfa.Window)
	}

	travel, ok := c.ByID(RuleImpossibleTravel)
	if !ok {
		t.Fatalf("missing rule %s", RuleImpossibleTravel)
	}
	if travel.SpeedKmh != 800 || travel.Window != time.Hour {
		t.Fatalf("unexpected travel defaults: speed=%.0f window=%s", travel.SpeedKmh, travel.Window)
	}

	if _, ok := c.ByID("DET-999"); ok {
		t.Fatalf("unknown rule ID should not resolve")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yml")
	data := `
version: 1
defaults:
  window: 30m
rules:
  - id: DET-001
    threshold: 8
  - id: DET-002
    speed_kmh: 1000
  - id: DET-003
    enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	mfa, _ := c.ByID(RuleMFAFatigue)
	if mfa.Threshold != 8 {
		t.Fatalf("threshold override not applied: %d", mfa.Threshold)
	}
	if mfa.Window != 30*time.Minute {
		t.Fatalf("defaults.window not applied: %s", mfa.Window)
	}

	travel, _ := c.ByID(RuleImpossibleTravel)
	if travel.SpeedKmh != 1000 {
		t.Fatalf("speed override not applied: %.0f", travel.SpeedKmh)
	}

	legacy, _ := c.ByID(RuleLegacyAuth)
	if legacy.Enabled {
		t.Fatalf("enabled override not applied")
	}

	// Rules without a window must not pick up the defaults window.
	risky, _ := c.ByID(RuleRiskySignIn)
	if risky.Window != 0 {
		t.Fatalf("windowless rule gained a window: %s", risky.Window)
	}
}

func TestLoadUnknownRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yml")
	if err := os.WriteFile(path, []byte("rules:\n  - id: DET-042\n"), 0644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown rule ID")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Rules()) != 6 {
		t.Fatalf("empty path should return defaults")
	}
}
