package urlgate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestMonitor(t *testing.T, scorer Scorer) (*PassiveMonitor, *RuleSynthesizer, *BlockLogger) {
	t.Helper()
	dir := t.TempDir()

	wl := NewEmptyWhitelist()
	wl.AddDomain("trusted.com")
	decider := NewDecider(wl, scorer, NewBlockedURLCache())

	rules := NewRuleSynthesizer(filepath.Join(dir, "local.rules"), nil, nil)
	blockLog := NewBlockLogger(filepath.Join(dir, "blocked_urls.log"), nil)

	m := NewPassiveMonitor(filepath.Join(dir, "eve.json"), decider, rules)
	m.BlockLog = blockLog
	return m, rules, blockLog
}

func eveHTTPLine(hostname, path string) string {
	return fmt.Sprintf(`{"event_type":"http","src_ip":"192.168.1.10","dest_ip":"10.0.0.1","http":{"hostname":%q,"url":%q,"http_user_agent":"test-agent"}}`,
		hostname, path)
}

func TestPassiveMonitor_MaliciousEventWritesRule(t *testing.T) {
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		return ClassificationResult{URL: url, IsMalicious: true, Probability: 0.9}
	})
	m, rules, blockLog := newTestMonitor(t, scorer)
	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}

	m.processLine(context.Background(), []byte(eveHTTPLine("evil.xyz", "/login")))

	data, err := os.ReadFile(rules.RulesPath)
	if err != nil {
		t.Fatalf("read rules file: %v", err)
	}
	if !strings.Contains(string(data), `content:"evil.xyz"`) {
		t.Errorf("rules file missing hostname rule: %s", data)
	}

	entries, err := blockLog.ReadEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d block log entries, want 1", len(entries))
	}
	e := entries[0]
	if e.URL != "http://evil.xyz/login" {
		t.Errorf("logged URL = %q", e.URL)
	}
	if e.SrcIP != "192.168.1.10" || e.DestIP != "10.0.0.1" {
		t.Errorf("logged addresses = %q -> %q", e.SrcIP, e.DestIP)
	}
	if e.UserAgent != "test-agent" {
		t.Errorf("logged user agent = %q", e.UserAgent)
	}
}

func TestPassiveMonitor_RepeatedEventWritesOneRule(t *testing.T) {
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		return ClassificationResult{URL: url, IsMalicious: true, Probability: 0.9}
	})
	m, rules, blockLog := newTestMonitor(t, scorer)
	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}

	line := []byte(eveHTTPLine("evil.xyz", "/login"))
	m.processLine(context.Background(), line)
	m.processLine(context.Background(), line)

	data, err := os.ReadFile(rules.RulesPath)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("rules file has %d lines, want 1", n)
	}

	entries, err := blockLog.ReadEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d block log entries, want 1 (cache hit must not re-log)", len(entries))
	}
}

func TestPassiveMonitor_SkipsIrrelevantLines(t *testing.T) {
	calls := 0
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		calls++
		return ClassificationResult{URL: url}
	})
	m, rules, _ := newTestMonitor(t, scorer)
	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}

	lines := []string{
		"",
		"not json",
		`{"event_type":"dns","src_ip":"1.2.3.4"}`,
		`{"event_type":"http","http":{"hostname":"","url":"/x"}}`,
		eveHTTPLine("trusted.com", "/fine"),
	}
	for _, line := range lines {
		m.processLine(context.Background(), []byte(line))
	}

	if calls != 0 {
		t.Errorf("scorer consulted %d times, want 0", calls)
	}
	if _, err := os.Stat(rules.RulesPath); !os.IsNotExist(err) {
		t.Error("rules file created for irrelevant events")
	}
}

func TestPassiveMonitor_EmptyPathDefaultsToRoot(t *testing.T) {
	var seen string
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		seen = url
		return ClassificationResult{URL: url}
	})
	m, _, _ := newTestMonitor(t, scorer)
	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}

	m.processLine(context.Background(), []byte(eveHTTPLine("example.org", "")))

	if seen != "example.org" {
		t.Errorf("scored URL = %q, want %q (normalized http://example.org/)", seen, "example.org")
	}
}

func TestPassiveMonitor_PrepareStartsAtEOF(t *testing.T) {
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		t.Errorf("historical event was scored: %s", url)
		return ClassificationResult{URL: url}
	})
	m, _, _ := newTestMonitor(t, scorer)

	historical := eveHTTPLine("evil.xyz", "/old") + "\n"
	if err := os.WriteFile(m.EveLogPath, []byte(historical), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}
	if m.offset != int64(len(historical)) {
		t.Errorf("offset = %d, want %d (end of file)", m.offset, len(historical))
	}

	// Nothing new past the offset, so a drain must process nothing.
	m.drain(context.Background())
}

func TestPassiveMonitor_DrainProcessesOnlyCompleteLines(t *testing.T) {
	var seen []string
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		seen = append(seen, url)
		return ClassificationResult{URL: url}
	})
	m, _, _ := newTestMonitor(t, scorer)
	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}

	appendLine := func(s string) {
		f, err := os.OpenFile(m.EveLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteString(s); err != nil {
			t.Fatal(err)
		}
		_ = f.Close()
	}

	appendLine(eveHTTPLine("one.com", "/a") + "\n" + `{"event_type":"http","http":{"hostname":"partial`)
	m.drain(context.Background())

	if len(seen) != 1 || seen[0] != "one.com/a" {
		t.Fatalf("after first drain seen = %v, want [one.com/a]", seen)
	}

	// Complete the partial line and add another.
	appendLine(`.com","url":"/b"}}` + "\n" + eveHTTPLine("two.com", "/c") + "\n")
	m.drain(context.Background())

	want := []string{"one.com/a", "partial.com/b", "two.com/c"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestPassiveMonitor_DrainResetsOnTruncation(t *testing.T) {
	var seen []string
	scorer := ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		seen = append(seen, url)
		return ClassificationResult{URL: url}
	})
	m, _, _ := newTestMonitor(t, scorer)
	if err := m.prepare(); err != nil {
		t.Fatal(err)
	}

	long := eveHTTPLine("one.com", "/a") + "\n" + eveHTTPLine("two.com", "/b") + "\n"
	if err := os.WriteFile(m.EveLogPath, []byte(long), 0o644); err != nil {
		t.Fatal(err)
	}
	m.drain(context.Background())
	if len(seen) != 2 {
		t.Fatalf("seen = %v, want 2 entries", seen)
	}

	// Rotate in place: new, shorter file.
	if err := os.WriteFile(m.EveLogPath, []byte(eveHTTPLine("three.com", "/c")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.drain(context.Background())

	if len(seen) != 3 || seen[2] != "three.com/c" {
		t.Errorf("after rotation seen = %v, want third entry three.com/c", seen)
	}
}

func TestPassiveMonitor_PrepareCreatesMissingFile(t *testing.T) {
	m, _, _ := newTestMonitor(t, ScorerFunc(func(_ context.Context, url string) ClassificationResult {
		return ClassificationResult{URL: url}
	}))

	if err := m.prepare(); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if _, err := os.Stat(m.EveLogPath); err != nil {
		t.Errorf("stream file not created: %v", err)
	}
	if m.offset != 0 {
		t.Errorf("offset = %d, want 0", m.offset)
	}
}
