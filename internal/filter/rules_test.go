package filter

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRules(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
}

func TestDefaultRules_Valid(t *testing.T) {
	r := DefaultRules()
	if err := r.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if r.LoopWindow != 24*time.Hour {
		t.Fatalf("loop window default: %v", r.LoopWindow)
	}
}

func TestLoadRuleSet_EmptyPathUsesDefaults(t *testing.T) {
	rs, err := LoadRuleSet("")
	if err != nil {
		t.Fatalf("LoadRuleSet: %v", err)
	}
	if rs.Current().Version != DefaultRules().Version {
		t.Fatalf("expected builtin version, got %q", rs.Current().Version)
	}
	rs.Watch(nil) // no file: no-op
}

func TestLoadRuleSet_FileOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, `
version: "2026-03-01"
sender_patterns: ["  Robot ", "crm@"]
loop_window: 2h
`)
	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet: %v", err)
	}
	r := rs.Current()
	if r.Version != "2026-03-01" || r.LoopWindow != 2*time.Hour {
		t.Fatalf("overrides not applied: %+v", r)
	}
	if len(r.SenderPatterns) != 2 || r.SenderPatterns[0] != "robot" {
		t.Fatalf("sender patterns not normalized: %v", r.SenderPatterns)
	}
	if len(r.ExcludedDomains) == 0 || len(r.ReplySignals) == 0 {
		t.Fatalf("omitted keys must keep defaults")
	}

	in := acceptedInput()
	in.Message.From = "robot@example.com"
	if d := Evaluate(r, in); d.Stage != StageSenderPattern {
		t.Fatalf("file pattern not used: %+v", d)
	}
}

func TestLoadRuleSet_Errors(t *testing.T) {
	if _, err := LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeRules(t, path, "version: \"\"\n")
	if _, err := LoadRuleSet(path); err == nil {
		t.Fatalf("expected validation error for empty version")
	}
}

func TestRuleSet_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "version: v1\n")
	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet: %v", err)
	}
	reloaded := make(chan string, 4)
	rs.Watch(func(r *Rules) { reloaded <- r.Version })

	// Replace atomically so the watcher never observes a half-written file.
	tmp := path + ".tmp"
	writeRules(t, tmp, "version: v2\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-reloaded:
			if v == "v2" {
				if rs.Current().Version != "v2" {
					t.Fatalf("current = %q after reload", rs.Current().Version)
				}
				return
			}
		case <-deadline:
			t.Fatalf("rules were not reloaded, current = %q", rs.Current().Version)
		}
	}
}
