package urlgate

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// DefaultMaliciousThreshold is the probability above which a URL is
// treated as malicious. The scoring model was calibrated against this
// cutoff; it is exposed as a field on RiskScorer for tuning rather
// than hard-coded at the call sites.
const DefaultMaliciousThreshold = 0.5

// Decision is the outcome of running a URL through the gate.
type Decision struct {
	// Allow is true when the request may proceed to its origin.
	Allow bool

	// Whitelisted is true when the allow came from the trust list,
	// in which case the scorer was never consulted.
	Whitelisted bool

	// Cached is true when the block came from the blocked-URL cache,
	// in which case the scorer was not re-consulted and rule
	// synthesis must not repeat.
	Cached bool

	// Result holds the scorer's verdict. Zero-valued for whitelisted
	// and cached outcomes.
	Result ClassificationResult
}

// Decider runs the shared allow/block pipeline. Both front-ends (the
// live proxy and the passive monitor) compose the same three
// collaborators through this one sequence, so identical URLs resolve
// identically regardless of which surface observed them:
//
//  1. whitelisted hostname -> allow, no scoring call
//  2. URL already in the blocked cache -> block, no scoring call
//  3. otherwise score; probability above threshold -> block and cache
//
// Scorer failures surface as an allow (fail-open): the scorer contract
// guarantees a benign result instead of an error.
type Decider struct {
	Scorer Scorer
	Cache  *BlockedURLCache

	// Logger for decision events. If nil, slog.Default() is used.
	Logger *slog.Logger

	// whitelist is swapped atomically so a SIGHUP reload never races
	// with in-flight decisions.
	whitelist atomic.Pointer[Whitelist]
}

// NewDecider wires the pipeline from its three collaborators.
func NewDecider(whitelist *Whitelist, scorer Scorer, cache *BlockedURLCache) *Decider {
	d := &Decider{
		Scorer: scorer,
		Cache:  cache,
		Logger: slog.Default(),
	}
	d.whitelist.Store(whitelist)
	return d
}

// Whitelist returns the trust list currently in effect.
func (d *Decider) Whitelist() *Whitelist {
	return d.whitelist.Load()
}

// SetWhitelist replaces the trust list. Safe to call while requests
// are in flight; decisions already past the whitelist check finish
// against the list they started with.
func (d *Decider) SetWhitelist(w *Whitelist) {
	d.whitelist.Store(w)
}

// Decide classifies a URL. The input may be scheme-qualified; scoring
// and cache membership use the normalized form so both front-ends
// converge on one decision per URL.
func (d *Decider) Decide(ctx context.Context, rawURL string) Decision {
	if d.Whitelist().IsWhitelisted(rawURL) {
		d.logger().Debug("whitelisted", "url", rawURL)
		return Decision{Allow: true, Whitelisted: true}
	}

	normalized := NormalizeURL(rawURL)

	if d.Cache.Contains(normalized) {
		d.logger().Debug("already blocked", "url", rawURL)
		return Decision{Allow: false, Cached: true}
	}

	result := d.Scorer.Score(ctx, normalized)
	if !result.IsMalicious {
		return Decision{Allow: true, Result: result}
	}

	d.Cache.Add(normalized)
	d.logger().Warn("malicious URL detected",
		"url", rawURL, "probability", result.Probability)
	return Decision{Allow: false, Result: result}
}

func (d *Decider) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
