// Package urlgate provides a URL-maliciousness gateway built from two
// front-ends that share one decision pipeline: an explicit HTTP/HTTPS
// forward proxy and a passive monitor that tails an IDS eve.json event
// log. Every observed URL flows through the same sequence of checks:
// a domain whitelist, a cache of previously blocked URLs, and an
// external machine-learning scoring service. Blocked traffic gets an
// HTML block page on the proxy path and a synthesized IDS drop rule on
// the passive path, and both paths append to a shared JSONL block log.
//
// HTTPS connections are never intercepted. CONNECT requests are
// classified by hostname and, when allowed, relayed as an opaque
// bidirectional tunnel.
//
// # Basic Proxy
//
// Create the shared decision pipeline and start serving:
//
//	scorer := urlgate.NewRiskScorer("http://localhost:5000/predict")
//	decider := urlgate.NewDecider(urlgate.NewWhitelist(), scorer, urlgate.NewBlockedURLCache())
//
//	proxy := urlgate.NewProxy(":8888", decider)
//	log.Fatal(proxy.ListenAndServe())
//
// # Decision Pipeline
//
// The [Decider] resolves each URL to a [Decision]: whitelisted domains
// are always allowed, URLs in the [BlockedURLCache] are blocked
// without a scoring round-trip, and everything else is sent to the
// scoring service. When the scoring service is unreachable or returns
// an error the pipeline fails open and allows the request.
//
//	decision := decider.Decide(ctx, "http://suspicious.example.xyz/login")
//	if !decision.Allow {
//	    fmt.Println("blocked with probability", decision.Result.Probability)
//	}
//
// # Whitelist
//
// The whitelist matches exact hostnames and parent domains, so an
// entry for "google.com" also covers "www.google.com". Entries can be
// added inline, loaded from a file, or loaded from PostgreSQL:
//
//	wl := urlgate.NewWhitelist() // built-in defaults
//	wl.AddDomain("internal.company.com")
//
//	loader := urlgate.NewFileLoader("whitelist.txt")
//	domains, err := loader.Load(ctx)
//	wl.AddDomains(domains)
//
// # Passive IDS Monitor
//
// Tail an eve.json event log and classify every HTTP hostname the IDS
// observes. Malicious URLs produce a drop rule appended to the rules
// file, followed by a reload signal to the IDS process:
//
//	rules := urlgate.NewRuleSynthesizer("/etc/suricata/rules/suricata.rules",
//	    urlgate.NewPIDFileReloader("/var/run/suricata.pid"), logger)
//
//	monitor := urlgate.NewPassiveMonitor("/var/log/suricata/eve.json", decider, rules)
//	go monitor.Run(ctx)
//
// Rule appends are idempotent: blocking the same URL twice writes one
// rule.
//
// # Block Pages
//
// Display a customizable HTML page when proxied requests are blocked:
//
//	proxy.BlockPage = urlgate.NewBlockPage()
//
//	// Or from a custom template file
//	bp, err := urlgate.NewBlockPageFromFile("block.html")
//	proxy.BlockPage = bp
//
// Template variables available in block pages: {{.URL}},
// {{.ProbabilityPercent}}, and {{.Timestamp}}.
//
// # Block Log
//
// Record every block as one JSON line, and compute statistics over the
// recorded entries:
//
//	proxy.BlockLog = urlgate.NewBlockLogger("blocked_urls.log", logger)
//
//	stats, err := proxy.BlockLog.Stats(time.Now())
//	fmt.Println(urlgate.FormatStats(stats))
//
// # Prometheus Metrics
//
// Instrument the gateway with Prometheus metrics for monitoring:
//
//	metrics := urlgate.NewMetrics(decider.Cache)
//	proxy.Metrics = metrics
//
// The proxy serves the metrics handler at /metrics on its listen
// address. Metrics cover request and block counts, scorer latency and
// errors, tunnel concurrency, and blocked cache size.
//
// # Health Check Endpoints
//
// Expose /healthz and /readyz endpoints for Kubernetes and load
// balancers:
//
//	health := urlgate.NewHealthChecker()
//	health.ReadinessChecks = append(health.ReadinessChecks,
//	    urlgate.ScorerReadinessCheck(scorer, 2*time.Second))
//	proxy.HealthChecker = health
//
//	health.SetAlive(true)
//	health.SetReady(true)
//
// # Admin API
//
// Inspect and manage the gateway at runtime over REST:
//
//	proxy.Admin = urlgate.NewAdminAPI(proxy)
//
// Endpoints include /api/status, /api/stats, /api/whitelist,
// /api/blocked, and /api/reload.
//
// # Structured Access Log
//
// Write JSON access log entries for every proxied request:
//
//	f, _ := os.OpenFile("access.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
//	alLogger := slog.New(slog.NewJSONHandler(f, nil))
//	proxy.AccessLog = urlgate.NewAccessLogger(alLogger)
//
// Each entry includes method, host, path, scheme, status code,
// duration, client address, blocked/whitelisted flags, probability,
// and user agent.
//
// # SIGHUP Reload
//
// Rebuild the whitelist on SIGHUP without restarting the proxy:
//
//	reloader := urlgate.WatchSIGHUP(proxy, func(ctx context.Context) (*urlgate.Whitelist, error) {
//	    cfg, _ := urlgate.LoadConfig("urlgate.yaml")
//	    return cfg.BuildWhitelist(ctx)
//	}, logger)
//	defer reloader.Cancel()
//
// # Configuration
//
// Load configuration from YAML, JSON, or TOML files with environment
// variable overrides (URLGATE_ prefix):
//
//	cfg, err := urlgate.LoadConfig("urlgate.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	wl, err := cfg.BuildWhitelist(ctx)
//
// # Graceful Shutdown
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := proxy.Shutdown(ctx); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
package urlgate
