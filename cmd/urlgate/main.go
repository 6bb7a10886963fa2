package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kimhyeongju/urlgate"

	_ "github.com/lib/pq"
)

func main() {
	var (
		// Config file (takes precedence over individual flags)
		configPath = flag.String("config", "", "path to config file (default: search ./urlgate.yaml, ~/.urlgate/config.yaml, /etc/urlgate/config.yaml)")
		genConfig  = flag.Bool("gen-config", false, "generate example config file and exit")

		// Individual flags (used when no config file)
		host           = flag.String("host", "0.0.0.0", "proxy listen host")
		port           = flag.Int("port", 8888, "proxy listen port")
		scorerURL      = flag.String("scorer-url", "", "ML scoring service prediction endpoint (e.g. http://localhost:5000/predict)")
		threshold      = flag.Float64("threshold", urlgate.DefaultMaliciousThreshold, "probability above which a URL is treated as malicious")
		extraDomains   = flag.String("whitelist", "", "comma-separated extra domains to whitelist")
		whitelistFile  = flag.String("whitelist-file", "", "path to a domain list file (one domain per line)")
		blockLogPath   = flag.String("block-log", "blocked_urls.log", "path to the JSONL block log")
		blockPageFile  = flag.String("block-page-file", "", "path to custom block page HTML template")
		monitorEnabled = flag.Bool("monitor", false, "tail the IDS eve.json log and synthesize drop rules")
		eveLog         = flag.String("eve-log", "/var/log/suricata/eve.json", "path to the IDS eve.json event log")
		rulesPath      = flag.String("rules-path", "/etc/suricata/rules/suricata.rules", "rules file for synthesized drop rules")
		pidFile        = flag.String("pid-file", "/var/run/suricata.pid", "IDS pidfile for reload signaling (empty to disable)")
		metricsEnabled = flag.Bool("metrics", false, "enable Prometheus /metrics endpoint")
		showStats      = flag.Bool("stats", false, "print block log statistics and exit")
		printBlockPage = flag.Bool("print-block-page", false, "print default block page template and exit")
	)
	flag.Bool("v", false, "verbose logging")
	flag.Parse()

	// Print block page template mode
	if *printBlockPage {
		fmt.Println(urlgate.DefaultBlockPageHTML)
		return
	}

	// Generate example config mode
	if *genConfig {
		if err := urlgate.WriteExampleConfig("urlgate.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Generated urlgate.yaml")
		return
	}

	// Try to load config file
	cfg, err := urlgate.LoadConfig(*configPath)
	if err != nil {
		if *configPath != "" {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		defaults := urlgate.DefaultConfig()
		cfg = &defaults
	}

	// Flags override config defaults when set explicitly
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host = *host
		case "port":
			cfg.Server.Port = *port
		case "scorer-url":
			cfg.Scorer.PredictURL = *scorerURL
		case "threshold":
			cfg.Scorer.Threshold = *threshold
		case "whitelist-file":
			cfg.Whitelist.File = *whitelistFile
		case "block-log":
			cfg.BlockLog.Path = *blockLogPath
		case "block-page-file":
			cfg.BlockPage.TemplatePath = *blockPageFile
		case "monitor":
			cfg.Monitor.Enabled = *monitorEnabled
		case "eve-log":
			cfg.Monitor.EveLog = *eveLog
		case "rules-path":
			cfg.Monitor.RulesPath = *rulesPath
		case "pid-file":
			cfg.Monitor.PIDFile = *pidFile
		case "v":
			cfg.Logging.Level = "debug"
		}
	})

	// Set up logging
	logger, err := cfg.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}

	// Stats mode
	if *showStats {
		bl := urlgate.NewBlockLogger(cfg.BlockLog.Path, logger)
		stats, err := bl.Stats(time.Now())
		if err != nil {
			logger.Error("read block log", "error", err)
			os.Exit(1)
		}
		fmt.Print(urlgate.FormatStats(stats))
		return
	}

	if cfg.Scorer.PredictURL == "" {
		logger.Error("no scoring service configured, set -scorer-url or scorer.predict_url")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build whitelist from all configured sources
	whitelist, err := cfg.BuildWhitelist(ctx)
	if err != nil {
		logger.Error("build whitelist", "error", err)
		os.Exit(1)
	}
	if *extraDomains != "" {
		for d := range strings.SplitSeq(*extraDomains, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				whitelist.AddDomain(d)
				logger.Info("whitelisting domain", "domain", d)
			}
		}
	}

	// Shared decision pipeline
	scorer := urlgate.NewRiskScorer(cfg.Scorer.PredictURL)
	scorer.Threshold = cfg.Scorer.Threshold
	scorer.Logger = logger
	if cfg.Scorer.Timeout > 0 {
		scorer.Client = &http.Client{Timeout: cfg.Scorer.Timeout}
	}

	cache := urlgate.NewBlockedURLCache()
	decider := urlgate.NewDecider(whitelist, scorer, cache)
	decider.Logger = logger

	// Proxy front-end
	proxy := urlgate.NewProxy(cfg.Server.Addr(), decider)
	proxy.Logger = logger
	proxy.TunnelDialTimeout = cfg.Server.TunnelDialTimeout
	proxy.BlockLog = urlgate.NewBlockLogger(cfg.BlockLog.Path, logger)
	proxy.AccessLog = urlgate.NewAccessLogger(logger)

	blockPage, err := cfg.BuildBlockPage()
	if err != nil {
		logger.Error("load block page template", "error", err)
		os.Exit(1)
	}
	proxy.BlockPage = blockPage

	// Metrics
	if *metricsEnabled {
		metrics := urlgate.NewMetrics(cache)
		proxy.Metrics = metrics
		scorer.Metrics = metrics
		logger.Info("prometheus metrics enabled at /metrics")
	}

	// Health endpoints
	health := urlgate.NewHealthChecker()
	health.ReadinessChecks = append(health.ReadinessChecks,
		urlgate.ScorerReadinessCheck(scorer, 2*time.Second))
	proxy.HealthChecker = health
	health.SetAlive(true)
	health.SetReady(true)

	// IDS reload notifier, shared by the monitor and the admin API
	var notifier urlgate.ReloadNotifier = urlgate.NopReloader{}
	if cfg.Monitor.PIDFile != "" {
		notifier = urlgate.NewPIDFileReloader(cfg.Monitor.PIDFile)
	}

	// Admin API
	admin := urlgate.NewAdminAPI(proxy)
	admin.ReloadNotifier = notifier
	admin.Logger = logger
	proxy.Admin = admin

	// Passive IDS monitor
	if cfg.Monitor.Enabled {
		rules := urlgate.NewRuleSynthesizer(cfg.Monitor.RulesPath, notifier, logger)
		monitor := urlgate.NewPassiveMonitor(cfg.Monitor.EveLog, decider, rules)
		monitor.Logger = logger
		monitor.BlockLog = proxy.BlockLog
		if proxy.Metrics != nil {
			monitor.Metrics = proxy.Metrics
		}
		go func() {
			if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("passive monitor stopped", "error", err)
			}
		}()
		logger.Info("passive monitor enabled", "eve_log", cfg.Monitor.EveLog, "rules_path", cfg.Monitor.RulesPath)
	}

	// Reload whitelist on SIGHUP
	reloader := urlgate.WatchSIGHUP(proxy, func(ctx context.Context) (*urlgate.Whitelist, error) {
		return cfg.BuildWhitelist(ctx)
	}, logger)
	defer reloader.Cancel()

	// Handle shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = proxy.Shutdown(shutdownCtx)
	}()

	logger.Info("starting gateway", "addr", cfg.Server.Addr(), "scorer", cfg.Scorer.PredictURL)
	logger.Info("configure your system proxy to use this address")

	if err := proxy.ListenAndServe(); err != nil {
		logger.Error("proxy error", "error", err)
		os.Exit(1)
	}
}
