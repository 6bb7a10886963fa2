package urlgate

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RuleIDSpace bounds the numeric rule identifier handed to the
// detection engine. Identifiers are a hash of the URL reduced modulo
// this value, so distinct hostnames can collide; a collision replaces
// the earlier rule in the engine's identifier space. A collision on
// append is logged as a warning rather than silently accepted.
const RuleIDSpace = 1_000_000

// BlockRule is one durable drop rule for the intrusion-detection
// engine. Created once per hostname the first time it is seen as
// malicious, never mutated, never removed automatically.
type BlockRule struct {
	// ID is the engine-facing rule identifier (sid).
	ID uint64

	// Hostname the rule matches on.
	Hostname string

	// RenderedText is the full rule line as written to the rule file.
	RenderedText string
}

// RuleID computes the stable identifier for a URL.
func RuleID(url string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(url))
	return h.Sum64() % RuleIDSpace
}

// SynthesizeRule builds the drop rule for a blocked URL. Returns an
// error when no hostname can be extracted.
func SynthesizeRule(url string) (BlockRule, error) {
	hostname := hostnameFromURL(url)
	if hostname == "" {
		return BlockRule{}, fmt.Errorf("no hostname in URL %q", url)
	}

	id := RuleID(url)
	text := fmt.Sprintf(
		`drop http any any -> any any (msg:"Malicious URL blocked: %s"; http.host; content:"%s"; sid:%d; rev:1;)`,
		hostname, hostname, id)

	return BlockRule{ID: id, Hostname: hostname, RenderedText: text}, nil
}

// RuleSynthesizer turns block decisions from the passive path into
// durable rules in the detection engine's rule file, then signals the
// engine to reload. Appends are idempotent: a rule line already present
// byte-for-byte is never re-appended.
type RuleSynthesizer struct {
	// RulesPath is the rule file consumed by the detection engine.
	RulesPath string

	// Notifier signals the engine to reload after a successful
	// append. Best-effort: a failed reload is logged as a warning and
	// enforcement is merely delayed until the next reload or restart.
	Notifier ReloadNotifier

	// Logger for rule events. If nil, slog.Default() is used.
	Logger *slog.Logger

	mu sync.Mutex
}

// NewRuleSynthesizer creates a synthesizer writing to the given rule
// file.
func NewRuleSynthesizer(rulesPath string, notifier ReloadNotifier, logger *slog.Logger) *RuleSynthesizer {
	if notifier == nil {
		notifier = NopReloader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleSynthesizer{RulesPath: rulesPath, Notifier: notifier, Logger: logger}
}

// BlockURL synthesizes and persists the rule for a blocked URL.
// Returns the rule and whether a new line was appended. An empty
// hostname aborts with a log entry and no write.
func (rs *RuleSynthesizer) BlockURL(url string) (BlockRule, bool, error) {
	rule, err := SynthesizeRule(url)
	if err != nil {
		rs.Logger.Warn("cannot synthesize rule", "url", url, "error", err)
		return BlockRule{}, false, err
	}

	appended, err := rs.appendRule(rule)
	if err != nil {
		rs.Logger.Error("persist rule", "error", err, "host", rule.Hostname)
		return rule, false, err
	}
	if !appended {
		rs.Logger.Debug("rule already present", "host", rule.Hostname, "sid", rule.ID)
		return rule, false, nil
	}

	rs.Logger.Info("rule added", "host", rule.Hostname, "sid", rule.ID)

	if err := rs.Notifier.NotifyReload(); err != nil {
		rs.Logger.Warn("detection engine reload failed, rule applies on next reload",
			"error", err)
	}

	return rule, true, nil
}

// appendRule writes the rule line unless an identical line already
// exists. The write is a single atomic append of one complete line.
func (rs *RuleSynthesizer) appendRule(rule BlockRule) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if dir := filepath.Dir(rs.RulesPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create rules directory: %w", err)
		}
	}

	existing, err := os.ReadFile(rs.RulesPath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read rules file: %w", err)
	}

	sidTag := fmt.Sprintf("sid:%d;", rule.ID)
	for _, line := range strings.Split(string(existing), "\n") {
		if line == rule.RenderedText {
			return false, nil
		}
		if strings.Contains(line, sidTag) {
			rs.Logger.Warn("rule identifier collision, earlier rule will be shadowed",
				"sid", rule.ID, "host", rule.Hostname)
		}
	}

	f, err := os.OpenFile(rs.RulesPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("open rules file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// A hand-edited file may lack a trailing newline; start a fresh
	// line so the rule is never fused onto the previous one.
	line := rule.RenderedText + "\n"
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return false, fmt.Errorf("append rule: %w", err)
	}
	return true, nil
}
