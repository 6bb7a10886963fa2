package urlgate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestRuleID(t *testing.T) {
	id := RuleID("http://evil.xyz/login")

	if id >= RuleIDSpace {
		t.Errorf("rule ID %d outside identifier space", id)
	}
	if id != RuleID("http://evil.xyz/login") {
		t.Error("rule ID not deterministic")
	}
	if id == RuleID("http://other.com/") {
		t.Error("distinct URLs mapped to the same ID (possible but vanishingly unlikely for these inputs)")
	}
}

func TestSynthesizeRule(t *testing.T) {
	rule, err := SynthesizeRule("http://evil.xyz/login")
	if err != nil {
		t.Fatalf("SynthesizeRule failed: %v", err)
	}

	if rule.Hostname != "evil.xyz" {
		t.Errorf("hostname = %q, want evil.xyz", rule.Hostname)
	}

	want := fmt.Sprintf(
		`drop http any any -> any any (msg:"Malicious URL blocked: evil.xyz"; http.host; content:"evil.xyz"; sid:%d; rev:1;)`,
		rule.ID)
	if rule.RenderedText != want {
		t.Errorf("rendered rule:\n got %s\nwant %s", rule.RenderedText, want)
	}
}

func TestSynthesizeRule_NoHostname(t *testing.T) {
	if _, err := SynthesizeRule(""); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := SynthesizeRule("http://"); err == nil {
		t.Error("expected error for URL without hostname")
	}
}

func TestRuleSynthesizer_BlockURL(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules", "local.rules")
	var reloads atomic.Int64
	notifier := ReloadNotifierFunc(func() error {
		reloads.Add(1)
		return nil
	})

	rs := NewRuleSynthesizer(rulesPath, notifier, nil)

	rule, appended, err := rs.BlockURL("http://evil.xyz/login")
	if err != nil {
		t.Fatalf("BlockURL failed: %v", err)
	}
	if !appended {
		t.Error("first BlockURL did not append")
	}
	if reloads.Load() != 1 {
		t.Errorf("reloads = %d, want 1", reloads.Load())
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		t.Fatalf("read rules file: %v", err)
	}
	if got := string(data); got != rule.RenderedText+"\n" {
		t.Errorf("rules file content:\n got %q\nwant %q", got, rule.RenderedText+"\n")
	}
}

func TestRuleSynthesizer_IdempotentAppend(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "local.rules")
	var reloads atomic.Int64
	rs := NewRuleSynthesizer(rulesPath, ReloadNotifierFunc(func() error {
		reloads.Add(1)
		return nil
	}), nil)

	if _, appended, err := rs.BlockURL("http://evil.xyz/login"); err != nil || !appended {
		t.Fatalf("first BlockURL: appended=%v err=%v", appended, err)
	}
	if _, appended, err := rs.BlockURL("http://evil.xyz/login"); err != nil || appended {
		t.Fatalf("second BlockURL: appended=%v err=%v, want no append", appended, err)
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("rules file has %d lines, want 1", n)
	}
	if reloads.Load() != 1 {
		t.Errorf("reloads = %d, want 1 (no reload when nothing changed)", reloads.Load())
	}
}

func TestRuleSynthesizer_PreservesExistingRules(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "local.rules")
	existing := `alert http any any -> any any (msg:"baseline"; sid:999999999; rev:1;)` + "\n"
	if err := os.WriteFile(rulesPath, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSynthesizer(rulesPath, nil, nil)
	if _, appended, err := rs.BlockURL("http://evil.xyz/login"); err != nil || !appended {
		t.Fatalf("BlockURL: appended=%v err=%v", appended, err)
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), existing) {
		t.Error("existing rules were not preserved")
	}
	if !strings.Contains(string(data), "evil.xyz") {
		t.Error("new rule not appended")
	}
}

func TestRuleSynthesizer_AppendAfterMissingTrailingNewline(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "local.rules")
	existing := `alert http any any -> any any (msg:"baseline"; sid:999999999; rev:1;)`
	if err := os.WriteFile(rulesPath, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSynthesizer(rulesPath, nil, nil)
	rule, appended, err := rs.BlockURL("http://evil.xyz/login")
	if err != nil || !appended {
		t.Fatalf("BlockURL: appended=%v err=%v", appended, err)
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("rules file has %d lines, want 2:\n%s", len(lines), data)
	}
	if lines[0] != existing {
		t.Errorf("first line = %q, want existing rule intact", lines[0])
	}
	if lines[1] != rule.RenderedText {
		t.Errorf("second line = %q, want %q", lines[1], rule.RenderedText)
	}
}

func TestRuleSynthesizer_ReloadFailureDoesNotFailBlock(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "local.rules")
	rs := NewRuleSynthesizer(rulesPath, ReloadNotifierFunc(func() error {
		return fmt.Errorf("engine not running")
	}), nil)

	if _, appended, err := rs.BlockURL("http://evil.xyz/login"); err != nil || !appended {
		t.Errorf("BlockURL: appended=%v err=%v, want successful append", appended, err)
	}
}

func TestRuleSynthesizer_InvalidURL(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "local.rules")
	rs := NewRuleSynthesizer(rulesPath, nil, nil)

	if _, _, err := rs.BlockURL("http://"); err == nil {
		t.Error("expected error for URL without hostname")
	}
	if _, err := os.Stat(rulesPath); !os.IsNotExist(err) {
		t.Error("rules file created despite failed synthesis")
	}
}
