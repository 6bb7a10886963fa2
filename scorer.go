package urlgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultScorerTimeout bounds each call to the scoring service. The
// gate fails open rather than holding a client connection on a slow
// dependency.
const DefaultScorerTimeout = 5 * time.Second

// ClassificationResult is the verdict for a single URL. Immutable once
// produced.
type ClassificationResult struct {
	URL         string        `json:"url"`
	IsMalicious bool          `json:"is_malicious"`
	Probability float64       `json:"probability"`
	Features    FeatureVector `json:"features"`
}

// Scorer produces a maliciousness probability for a URL.
type Scorer interface {
	// Score classifies a URL. The URL is expected in normalized form
	// (scheme and trailing slash removed). Implementations never
	// return a decision-blocking error: on any failure they report
	// the URL as not malicious with probability zero.
	Score(ctx context.Context, normalizedURL string) ClassificationResult
}

// ScorerFunc is a function adapter for Scorer.
type ScorerFunc func(ctx context.Context, normalizedURL string) ClassificationResult

// Score calls the underlying function.
func (f ScorerFunc) Score(ctx context.Context, normalizedURL string) ClassificationResult {
	return f(ctx, normalizedURL)
}

// RiskScorer is a client for the external scoring service. The service
// speaks a small JSON protocol: POST {"url": <string>} to the predict
// endpoint and receive {"url", "is_malicious", "probability",
// "features"} with status 200.
//
// Every failure mode (connection refused, timeout, non-200 status,
// malformed body) resolves to "unknown, treat as not malicious". This
// fail-open policy is deliberate: availability of normal traffic is
// prioritized over interception of a marginal request when the scoring
// dependency is down.
type RiskScorer struct {
	// PredictURL is the scoring endpoint (e.g. "http://localhost:5000/predict").
	PredictURL string

	// Threshold above which a probability is treated as malicious.
	// Zero means DefaultMaliciousThreshold.
	Threshold float64

	// Client is the HTTP client used for scoring calls. If nil, a
	// client with DefaultScorerTimeout is used.
	Client *http.Client

	// Logger for scoring events. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics records call counts, durations, and fail-open errors
	// (optional).
	Metrics *Metrics
}

// NewRiskScorer creates a scorer client for the given predict endpoint.
func NewRiskScorer(predictURL string) *RiskScorer {
	return &RiskScorer{
		PredictURL: predictURL,
		Client:     &http.Client{Timeout: DefaultScorerTimeout},
		Logger:     slog.Default(),
	}
}

type scoreRequest struct {
	URL string `json:"url"`
}

type scoreResponse struct {
	URL         string             `json:"url"`
	IsMalicious bool               `json:"is_malicious"`
	Probability float64            `json:"probability"`
	Features    map[string]float64 `json:"features"`
}

// Score implements Scorer.
func (s *RiskScorer) Score(ctx context.Context, normalizedURL string) ClassificationResult {
	start := time.Now()
	result, err := s.score(ctx, normalizedURL)
	if s.Metrics != nil {
		s.Metrics.RecordScorerCall(time.Since(start))
		if err != nil {
			s.Metrics.RecordScorerError()
		}
	}
	if err != nil {
		// Fail open: unknown is treated as not malicious.
		return ClassificationResult{URL: normalizedURL}
	}
	return result
}

func (s *RiskScorer) score(ctx context.Context, normalizedURL string) (ClassificationResult, error) {
	body, err := json.Marshal(scoreRequest{URL: normalizedURL})
	if err != nil {
		s.logger().Error("encode scoring request", "error", err, "url", normalizedURL)
		return ClassificationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.PredictURL, bytes.NewReader(body))
	if err != nil {
		s.logger().Error("build scoring request", "error", err, "url", normalizedURL)
		return ClassificationResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		s.logger().Error("scoring service unreachable", "error", err, "endpoint", s.PredictURL)
		return ClassificationResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		s.logger().Error("scoring service error", "status", resp.StatusCode, "url", normalizedURL)
		return ClassificationResult{}, fmt.Errorf("scoring service status %d", resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		s.logger().Error("decode scoring response", "error", err, "url", normalizedURL)
		return ClassificationResult{}, err
	}

	probability := clamp01(sr.Probability)
	return ClassificationResult{
		URL:         normalizedURL,
		Probability: probability,
		IsMalicious: probability > s.threshold(),
		Features:    FeatureVectorFromMap(sr.Features),
	}, nil
}

// CheckHealth probes the scoring service's health endpoint. Returns nil
// when the service is reachable and reports itself healthy.
func (s *RiskScorer) CheckHealth(ctx context.Context) error {
	healthURL, err := s.healthURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("scoring service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scoring service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// healthURL derives the health endpoint from the predict endpoint by
// replacing the entire path with /health.
func (s *RiskScorer) healthURL() (string, error) {
	u, err := url.Parse(s.PredictURL)
	if err != nil {
		return "", fmt.Errorf("parse predict URL: %w", err)
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}

func (s *RiskScorer) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: DefaultScorerTimeout}
}

func (s *RiskScorer) threshold() float64 {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return DefaultMaliciousThreshold
}

func (s *RiskScorer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// NormalizeURL prepares a URL for scoring: the http:// or https://
// scheme prefix and any trailing slash are removed. Both front-ends
// normalize identically so the same URL always resolves to the same
// decision no matter which surface observed it.
func NormalizeURL(rawURL string) string {
	normalized := rawURL
	if strings.HasPrefix(normalized, "http://") {
		normalized = normalized[len("http://"):]
	} else if strings.HasPrefix(normalized, "https://") {
		normalized = normalized[len("https://"):]
	}
	normalized = strings.TrimSuffix(normalized, "/")
	return normalized
}
