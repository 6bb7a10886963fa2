package urlgate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// BlockLogEntry is one record of the append-only audit trail. Every
// actioned block, from either front-end, appends exactly one entry.
type BlockLogEntry struct {
	// Timestamp of the block in ISO-8601 form.
	Timestamp string `json:"timestamp"`

	// URL that was blocked.
	URL string `json:"url"`

	// Probability reported by the scorer, zero when the block came
	// from the cache.
	Probability float64 `json:"probability"`

	// SourceIP is the client address (proxy path).
	SourceIP string `json:"source_ip,omitempty"`

	// SrcIP and DestIP come from the observed network event (passive
	// path).
	SrcIP  string `json:"src_ip,omitempty"`
	DestIP string `json:"dest_ip,omitempty"`

	// UserAgent of the blocked request, when known.
	UserAgent string `json:"user_agent"`
}

// BlockLogger appends block records to a JSONL file, one JSON object
// per line. Appends are serialized and written as a single complete
// line so concurrent front-ends never interleave partial records.
// Write failures are logged and skipped; the audit trail is best-effort
// and never crashes a handling loop.
type BlockLogger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewBlockLogger creates a logger appending to the given file path.
// Parent directories are created on first write.
func NewBlockLogger(path string, logger *slog.Logger) *BlockLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockLogger{path: path, logger: logger}
}

// Path returns the log file path.
func (bl *BlockLogger) Path() string { return bl.path }

// Log appends one entry. A zero Timestamp is filled with the current
// time.
func (bl *BlockLogger) Log(entry BlockLogEntry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(time.RFC3339)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		bl.logger.Error("encode block log entry", "error", err, "url", entry.URL)
		return
	}
	line = append(line, '\n')

	bl.mu.Lock()
	defer bl.mu.Unlock()

	if dir := filepath.Dir(bl.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			bl.logger.Error("create block log directory", "error", err, "dir", dir)
			return
		}
	}

	f, err := os.OpenFile(bl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		bl.logger.Error("open block log", "error", err, "path", bl.path)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		bl.logger.Error("write block log entry", "error", err, "url", entry.URL)
	}
}

// ReadEntries reads all parseable entries from the log file. Malformed
// lines are skipped. A missing file yields an empty slice.
func (bl *BlockLogger) ReadEntries() ([]BlockLogEntry, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	f, err := os.Open(bl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open block log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []BlockLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e BlockLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read block log: %w", err)
	}
	return entries, nil
}

// DomainCount pairs a blocked domain with the number of times it was
// blocked.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// BlockStats summarizes the audit trail.
type BlockStats struct {
	// TotalBlocks is the number of entries in the log.
	TotalBlocks int `json:"total_blocks"`

	// RecentBlocks counts entries from the last 24 hours.
	RecentBlocks int `json:"recent_blocks"`

	// TopDomains lists the most frequently blocked domains, most
	// blocked first, capped at five.
	TopDomains []DomainCount `json:"top_domains"`
}

// Stats computes summary statistics over the whole log file.
func (bl *BlockLogger) Stats(now time.Time) (BlockStats, error) {
	entries, err := bl.ReadEntries()
	if err != nil {
		return BlockStats{}, err
	}

	stats := BlockStats{TotalBlocks: len(entries)}
	cutoff := now.Add(-24 * time.Hour)
	domains := make(map[string]int)

	for _, e := range entries {
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil && ts.After(cutoff) {
			stats.RecentBlocks++
		}
		if host := hostnameFromURL(e.URL); host != "" {
			domains[host]++
		}
	}

	for domain, count := range domains {
		stats.TopDomains = append(stats.TopDomains, DomainCount{Domain: domain, Count: count})
	}
	sort.Slice(stats.TopDomains, func(i, j int) bool {
		if stats.TopDomains[i].Count != stats.TopDomains[j].Count {
			return stats.TopDomains[i].Count > stats.TopDomains[j].Count
		}
		return stats.TopDomains[i].Domain < stats.TopDomains[j].Domain
	})
	if len(stats.TopDomains) > 5 {
		stats.TopDomains = stats.TopDomains[:5]
	}

	return stats, nil
}

// FormatStats renders stats in the human-readable form used by the
// CLI status output.
func FormatStats(stats BlockStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total blocks: %d\n", stats.TotalBlocks)
	fmt.Fprintf(&sb, "Blocks in last 24h: %d\n", stats.RecentBlocks)
	if len(stats.TopDomains) > 0 {
		sb.WriteString("Most blocked domains:\n")
		for _, dc := range stats.TopDomains {
			fmt.Fprintf(&sb, "  - %s: %d\n", dc.Domain, dc.Count)
		}
	}
	return sb.String()
}
