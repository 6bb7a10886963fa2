package urlgate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
)

// defaultWhitelist is the embedded set of trusted domains that bypass
// scoring entirely: connectivity checks, OCSP responders, package
// registries, CDNs, and major portals the gateway must never interfere
// with.
var defaultWhitelist = []string{
	// Connectivity checks
	"connectivity-check.ubuntu.com",
	"detectportal.firefox.com",
	"captive.apple.com",
	"connectivitycheck.gstatic.com",
	"msftconnecttest.com",
	"www.msftconnecttest.com",

	// OCSP responders
	"ocsp.sectigo.com",
	"ocsp.digicert.com",
	"ocsp.pki.goog",
	"ocsp.verisign.com",
	"ocsp.entrust.net",
	"ocsp.comodoca.com",
	"ocsp.godaddy.com",
	"ocsp.globalsign.com",
	"ocsp.usertrust.com",

	// CDNs and update servers
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"unpkg.com",
	"update.googleapis.com",
	"safebrowsing.googleapis.com",

	// Essential services
	"accounts.google.com",
	"api.github.com",
	"auth.docker.io",
	"registry.npmjs.org",
	"pypi.org",

	// Korean portals and services
	"daum.net",
	"www.daum.net",
	"naver.com",
	"www.naver.com",
	"kakao.com",
	"www.kakao.com",
	"tistory.com",
	"www.tistory.com",
	"nate.com",
	"www.nate.com",

	// Korean news sites
	"chosun.com",
	"www.chosun.com",
	"donga.com",
	"www.donga.com",
	"joins.com",
	"www.joins.com",
	"hankyung.com",
	"www.hankyung.com",
	"mk.co.kr",
	"www.mk.co.kr",
	"yonhapnews.co.kr",
	"www.yonhapnews.co.kr",

	// Korean government
	"korea.kr",
	"www.korea.kr",
	"go.kr",
	"www.go.kr",

	// Korean shopping
	"coupang.com",
	"www.coupang.com",
	"gmarket.co.kr",
	"www.gmarket.co.kr",
	"11st.co.kr",
	"www.11st.co.kr",
	"ssg.com",
	"www.ssg.com",

	"localhost",
	"127.0.0.1",
}

// Whitelist matches request hostnames against a set of trusted domains.
// A hostname matches an entry when it is equal to the entry or is a
// proper subdomain of it ("a.b.com" matches entry "b.com"). Matching is
// case-insensitive and ignores an explicit port.
//
// Whitelisted URLs bypass the scoring service entirely.
type Whitelist struct {
	mu      sync.RWMutex
	domains map[string]bool
}

// NewWhitelist creates a Whitelist preloaded with the embedded default
// trusted domains.
func NewWhitelist() *Whitelist {
	w := &Whitelist{domains: make(map[string]bool, len(defaultWhitelist))}
	w.AddDomains(defaultWhitelist)
	return w
}

// NewEmptyWhitelist creates a Whitelist with no entries. Useful for
// tests and for configurations that replace the default list outright.
func NewEmptyWhitelist() *Whitelist {
	return &Whitelist{domains: make(map[string]bool)}
}

// AddDomain adds a trusted domain. Subdomains of the entry are trusted
// as well.
func (w *Whitelist) AddDomain(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return
	}
	w.mu.Lock()
	w.domains[domain] = true
	w.mu.Unlock()
}

// AddDomains adds multiple trusted domains.
func (w *Whitelist) AddDomains(domains []string) {
	for _, d := range domains {
		w.AddDomain(d)
	}
}

// Domains returns a sorted snapshot of the current entries.
func (w *Whitelist) Domains() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.domains))
	for d := range w.domains {
		out = append(out, d)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count returns the number of entries.
func (w *Whitelist) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.domains)
}

// IsWhitelisted reports whether the URL's hostname is trusted. Any
// parse failure returns false so the URL falls through to the
// classification path; the whitelist never fails open on its own.
func (w *Whitelist) IsWhitelisted(rawURL string) bool {
	hostname := hostnameFromURL(rawURL)
	if hostname == "" {
		return false
	}
	return w.MatchesHost(hostname)
}

// MatchesHost reports whether an already-extracted hostname is trusted.
// The hostname is lowercased and stripped of any port before matching.
func (w *Whitelist) MatchesHost(hostname string) bool {
	if h, _, err := net.SplitHostPort(hostname); err == nil {
		hostname = h
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.domains[hostname] {
		return true
	}
	// Walk parent domains: a.b.c.com checks b.c.com, c.com, com.
	rest := hostname
	for {
		i := strings.Index(rest, ".")
		if i < 0 {
			break
		}
		rest = rest[i+1:]
		if w.domains[rest] {
			return true
		}
	}
	return false
}

// hostnameFromURL extracts the lowercase hostname from a URL string,
// tolerating both scheme-qualified and bare forms. Returns "" when no
// hostname can be derived.
func hostnameFromURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	parseTarget := rawURL
	if !strings.Contains(rawURL, "://") {
		parseTarget = "http://" + rawURL
	}
	u, err := url.Parse(parseTarget)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// WhitelistLoader loads trusted domains from an external source at
// startup or on reload.
type WhitelistLoader interface {
	// Load reads domains from the source and returns them.
	Load(ctx context.Context) ([]string, error)
}

// WhitelistLoaderFunc is a function adapter for WhitelistLoader.
type WhitelistLoaderFunc func(ctx context.Context) ([]string, error)

// Load calls the underlying function.
func (f WhitelistLoaderFunc) Load(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// FileLoader loads domains from a text file, one domain per line.
// Empty lines and lines starting with "#" are skipped.
type FileLoader struct {
	Path string
}

// NewFileLoader creates a loader for the given file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

// Load implements WhitelistLoader.
func (l *FileLoader) Load(_ context.Context) ([]string, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open whitelist file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseDomainList(f)
}

// ParseDomainList parses a list of domains (one per line) from a reader.
// Supports comments (lines starting with #) and empty lines.
func ParseDomainList(r io.Reader) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return domains, nil
}

// PostgresLoader loads whitelist entries from a PostgreSQL table using
// sqlx. The table needs a single text column holding one domain per row.
type PostgresLoader struct {
	// DB is the sqlx database handle. The caller owns the connection
	// and must import a driver (e.g. github.com/lib/pq).
	DB *sqlx.DB

	// Query returns the domain column. Defaults to selecting the
	// "domain" column of the "whitelist" table.
	Query string
}

// NewPostgresLoader creates a loader backed by the given database.
func NewPostgresLoader(db *sqlx.DB) *PostgresLoader {
	return &PostgresLoader{
		DB:    db,
		Query: "SELECT domain FROM whitelist",
	}
}

// Load implements WhitelistLoader.
func (l *PostgresLoader) Load(ctx context.Context) ([]string, error) {
	var domains []string
	if err := l.DB.SelectContext(ctx, &domains, l.Query); err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	return domains, nil
}

// MultiLoader combines multiple loaders into one.
type MultiLoader struct {
	Loaders []WhitelistLoader
}

// NewMultiLoader creates a loader that combines domains from multiple
// sources.
func NewMultiLoader(loaders ...WhitelistLoader) *MultiLoader {
	return &MultiLoader{Loaders: loaders}
}

// Load implements WhitelistLoader by loading from all configured
// loaders.
func (m *MultiLoader) Load(ctx context.Context) ([]string, error) {
	var all []string
	for i, loader := range m.Loaders {
		domains, err := loader.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loader %d: %w", i, err)
		}
		all = append(all, domains...)
	}
	return all, nil
}
