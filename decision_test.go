package urlgate

import (
	"context"
	"sync/atomic"
	"testing"
)

// countingScorer returns a fixed verdict and counts how often it is
// consulted.
type countingScorer struct {
	calls  atomic.Int64
	result ClassificationResult
}

func (s *countingScorer) Score(_ context.Context, normalizedURL string) ClassificationResult {
	s.calls.Add(1)
	r := s.result
	r.URL = normalizedURL
	return r
}

func TestDecider_WhitelistSkipsScorer(t *testing.T) {
	wl := NewEmptyWhitelist()
	wl.AddDomain("trusted.com")
	scorer := &countingScorer{result: ClassificationResult{IsMalicious: true, Probability: 0.99}}

	d := NewDecider(wl, scorer, NewBlockedURLCache())
	decision := d.Decide(context.Background(), "http://www.trusted.com/anything")

	if !decision.Allow {
		t.Error("whitelisted URL was not allowed")
	}
	if !decision.Whitelisted {
		t.Error("decision not marked whitelisted")
	}
	if scorer.calls.Load() != 0 {
		t.Errorf("scorer consulted %d times for whitelisted URL, want 0", scorer.calls.Load())
	}
}

func TestDecider_SetWhitelistSwapsUnderLoad(t *testing.T) {
	scorer := &countingScorer{result: ClassificationResult{Probability: 0.05}}
	d := NewDecider(NewEmptyWhitelist(), scorer, NewBlockedURLCache())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				d.Decide(context.Background(), "http://rotating.example/")
			}
		}
	}()

	for range 100 {
		wl := NewEmptyWhitelist()
		wl.AddDomain("rotating.example")
		d.SetWhitelist(wl)
	}
	close(stop)
	<-done

	if !d.Whitelist().MatchesHost("rotating.example") {
		t.Error("latest whitelist not in effect after swaps")
	}
	decision := d.Decide(context.Background(), "http://rotating.example/")
	if !decision.Whitelisted {
		t.Error("decision after swap did not use the new whitelist")
	}
}

func TestDecider_MaliciousBlockedAndCached(t *testing.T) {
	scorer := &countingScorer{result: ClassificationResult{IsMalicious: true, Probability: 0.91}}
	cache := NewBlockedURLCache()

	d := NewDecider(NewEmptyWhitelist(), scorer, cache)
	decision := d.Decide(context.Background(), "http://evil.xyz/login")

	if decision.Allow {
		t.Error("malicious URL was allowed")
	}
	if decision.Cached {
		t.Error("first block should not be marked cached")
	}
	if decision.Result.Probability != 0.91 {
		t.Errorf("probability = %v, want 0.91", decision.Result.Probability)
	}
	if !cache.Contains("evil.xyz/login") {
		t.Error("blocked URL not cached under its normalized form")
	}
}

func TestDecider_CacheHitSkipsScorer(t *testing.T) {
	scorer := &countingScorer{result: ClassificationResult{IsMalicious: true, Probability: 0.91}}
	cache := NewBlockedURLCache()
	d := NewDecider(NewEmptyWhitelist(), scorer, cache)

	first := d.Decide(context.Background(), "http://evil.xyz/login")
	second := d.Decide(context.Background(), "https://evil.xyz/login")

	if first.Allow || second.Allow {
		t.Error("malicious URL was allowed")
	}
	if !second.Cached {
		t.Error("second decision not marked cached")
	}
	if scorer.calls.Load() != 1 {
		t.Errorf("scorer consulted %d times, want 1", scorer.calls.Load())
	}
}

func TestDecider_BenignAllowed(t *testing.T) {
	scorer := &countingScorer{result: ClassificationResult{Probability: 0.1}}
	cache := NewBlockedURLCache()

	d := NewDecider(NewEmptyWhitelist(), scorer, cache)
	decision := d.Decide(context.Background(), "http://fine.com/page")

	if !decision.Allow {
		t.Error("benign URL was blocked")
	}
	if decision.Whitelisted || decision.Cached {
		t.Error("benign allow mislabeled")
	}
	if cache.Len() != 0 {
		t.Errorf("benign URL cached, Len = %d", cache.Len())
	}
}

func TestDecider_FailOpenAllows(t *testing.T) {
	// Zero-valued result is the scorer's fail-open contract.
	scorer := &countingScorer{}

	d := NewDecider(NewEmptyWhitelist(), scorer, NewBlockedURLCache())
	decision := d.Decide(context.Background(), "http://unknown.com/")

	if !decision.Allow {
		t.Error("scorer failure must fail open")
	}
}

func TestDecider_BothFrontEndsConverge(t *testing.T) {
	// The proxy classifies scheme-qualified URLs, the monitor builds
	// http:// URLs from observed hostnames. Both must hit the same
	// cache entry.
	scorer := &countingScorer{result: ClassificationResult{IsMalicious: true, Probability: 0.8}}
	cache := NewBlockedURLCache()
	d := NewDecider(NewEmptyWhitelist(), scorer, cache)

	proxySeen := d.Decide(context.Background(), "https://evil.top/")
	monitorSeen := d.Decide(context.Background(), "http://evil.top/")

	if proxySeen.Allow || monitorSeen.Allow {
		t.Error("malicious URL was allowed")
	}
	if !monitorSeen.Cached {
		t.Error("second front-end did not hit the cache")
	}
	if scorer.calls.Load() != 1 {
		t.Errorf("scorer consulted %d times, want 1", scorer.calls.Load())
	}
}
