package urlgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// eveEvent is the subset of the detection engine's JSON event stream
// the monitor cares about: HTTP request observations.
type eveEvent struct {
	EventType string `json:"event_type"`
	SrcIP     string `json:"src_ip"`
	DestIP    string `json:"dest_ip"`
	HTTP      struct {
		Hostname  string `json:"hostname"`
		URL       string `json:"url"`
		UserAgent string `json:"http_user_agent"`
	} `json:"http"`
}

// PassiveMonitor tails the detection engine's append-only event stream
// and runs every observed HTTP request through the same decision
// pipeline as the live proxy. Blocks on this path are enforced
// retroactively: a rule is written for the detection engine rather
// than a response being denied.
//
// The monitor starts at end-of-file so historical events are never
// replayed, and only advances its offset past fully consumed lines;
// a partially written trailing line is left for the next wake.
type PassiveMonitor struct {
	// EveLogPath is the event stream file (one JSON object per line).
	// Created empty if absent.
	EveLogPath string

	// Decider runs the shared whitelist -> cache -> scorer pipeline.
	Decider *Decider

	// Rules persists block decisions as detection-engine rules.
	Rules *RuleSynthesizer

	// BlockLog appends the audit record for every block (optional).
	BlockLog *BlockLogger

	// Logger for monitor events. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics collects Prometheus metrics (optional).
	Metrics *Metrics

	offset int64
}

// NewPassiveMonitor creates a monitor for the given event stream.
func NewPassiveMonitor(eveLogPath string, decider *Decider, rules *RuleSynthesizer) *PassiveMonitor {
	return &PassiveMonitor{
		EveLogPath: eveLogPath,
		Decider:    decider,
		Rules:      rules,
		Logger:     slog.Default(),
	}
}

// Run watches the event stream until the context is canceled.
// Processing is a single serialized loop: change notifications that
// arrive while a drain is in progress coalesce into the next drain, so
// no line is ever double-processed.
func (m *PassiveMonitor) Run(ctx context.Context) error {
	if err := m.prepare(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory rather than the file: the engine may
	// rotate or recreate the stream file.
	dir := filepath.Dir(m.EveLogPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	m.Logger.Info("passive monitor started", "stream", m.EveLogPath, "offset", m.offset)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != m.EveLogPath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			m.drain(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.Logger.Error("watcher error", "error", err)
		}
	}
}

// prepare creates the stream file if absent and positions the offset
// at end-of-file so only new events are processed.
func (m *PassiveMonitor) prepare() error {
	if dir := filepath.Dir(m.EveLogPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create stream directory: %w", err)
		}
	}

	info, err := os.Stat(m.EveLogPath)
	if os.IsNotExist(err) {
		f, createErr := os.OpenFile(m.EveLogPath, os.O_CREATE|os.O_APPEND, 0o644)
		if createErr != nil {
			return fmt.Errorf("create stream file: %w", createErr)
		}
		_ = f.Close()
		m.Logger.Info("created empty event stream file", "path", m.EveLogPath)
		m.offset = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat stream file: %w", err)
	}

	m.offset = info.Size()
	return nil
}

// drain reads and processes all complete new lines past the current
// offset.
func (m *PassiveMonitor) drain(ctx context.Context) {
	f, err := os.Open(m.EveLogPath)
	if err != nil {
		m.Logger.Error("open event stream", "error", err, "path", m.EveLogPath)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		m.Logger.Error("stat event stream", "error", err)
		return
	}
	if info.Size() < m.offset {
		// Truncated or rotated in place: start over from the top.
		m.Logger.Warn("event stream shrank, resetting offset", "size", info.Size())
		m.offset = 0
	}

	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		m.Logger.Error("seek event stream", "error", err)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		m.Logger.Error("read event stream", "error", err)
		return
	}

	consumed := 0
	for {
		nl := bytes.IndexByte(data[consumed:], '\n')
		if nl < 0 {
			break
		}
		line := data[consumed : consumed+nl]
		consumed += nl + 1

		m.processLine(ctx, line)
	}

	m.offset += int64(consumed)
}

// processLine handles one complete event line. Malformed lines and
// non-HTTP events are skipped; nothing on this path is fatal.
func (m *PassiveMonitor) processLine(ctx context.Context, line []byte) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return
	}

	var event eveEvent
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
		m.recordEvent("malformed")
		return
	}

	if event.EventType != "http" || event.HTTP.Hostname == "" {
		m.recordEvent("skipped")
		return
	}

	path := event.HTTP.URL
	if path == "" {
		path = "/"
	}
	observedURL := "http://" + event.HTTP.Hostname + path

	m.recordEvent("processed")

	decision := m.Decider.Decide(ctx, observedURL)
	if decision.Allow || decision.Cached {
		return
	}

	m.Logger.Warn("malicious URL observed", "url", observedURL,
		"probability", decision.Result.Probability, "src_ip", event.SrcIP)

	if m.Metrics != nil {
		m.Metrics.RecordBlocked("passive")
	}

	_, appended, err := m.Rules.BlockURL(observedURL)
	if err == nil && appended && m.Metrics != nil {
		m.Metrics.RecordRuleWritten()
	}

	if m.BlockLog != nil {
		m.BlockLog.Log(BlockLogEntry{
			URL:         observedURL,
			Probability: decision.Result.Probability,
			SrcIP:       event.SrcIP,
			DestIP:      event.DestIP,
			UserAgent:   event.HTTP.UserAgent,
		})
	}
}

func (m *PassiveMonitor) recordEvent(result string) {
	if m.Metrics != nil {
		m.Metrics.RecordMonitorEvent(result)
	}
}
