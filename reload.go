package urlgate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// ReloadNotifier signals the intrusion-detection engine that its rule
// file changed. Implementations are best-effort: callers log failures
// as warnings and continue, because a missed reload only delays
// enforcement until the engine's next restart or scheduled reload.
type ReloadNotifier interface {
	NotifyReload() error
}

// ReloadNotifierFunc is a function adapter for ReloadNotifier.
type ReloadNotifierFunc func() error

// NotifyReload calls the underlying function.
func (f ReloadNotifierFunc) NotifyReload() error { return f() }

// NopReloader is a ReloadNotifier that does nothing. Used when no
// reload mechanism is configured.
type NopReloader struct{}

// NotifyReload implements ReloadNotifier.
func (NopReloader) NotifyReload() error { return nil }

// PIDFileReloader signals rule reload by sending SIGUSR2 to the
// process whose PID is recorded in a pidfile (Suricata's live rule
// swap mechanism).
type PIDFileReloader struct {
	// PIDFile is the path to the engine's pidfile
	// (e.g. "/var/run/suricata.pid").
	PIDFile string
}

// NewPIDFileReloader creates a reloader reading the given pidfile.
func NewPIDFileReloader(pidFile string) *PIDFileReloader {
	return &PIDFileReloader{PIDFile: pidFile}
}

// NotifyReload implements ReloadNotifier. It fails when the pidfile is
// missing or unreadable, the recorded PID is malformed, or the signal
// cannot be delivered.
func (r *PIDFileReloader) NotifyReload() error {
	data, err := os.ReadFile(r.PIDFile)
	if err != nil {
		return fmt.Errorf("read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pidfile %s: %w", r.PIDFile, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGUSR2); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	return nil
}

// SIGHUPReloader watches for SIGHUP and reloads the proxy whitelist.
// Call Cancel to stop watching.
type SIGHUPReloader struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the SIGHUP watcher.
func (r *SIGHUPReloader) Cancel() {
	r.cancel()
	<-r.done
}

// WhitelistReloadFunc is called on each SIGHUP. It should rebuild the
// whitelist from its sources and return the new one (or nil to keep
// the current one) and any error.
type WhitelistReloadFunc func(ctx context.Context) (*Whitelist, error)

// WatchSIGHUP starts a goroutine that listens for SIGHUP signals and
// calls the reload function. If reload returns a non-nil Whitelist, it
// is assigned to the proxy's decider.
func WatchSIGHUP(proxy *Proxy, reload WhitelistReloadFunc, logger *slog.Logger) *SIGHUPReloader {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer close(done)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logger.Info("received SIGHUP, reloading whitelist...")
				w, err := reload(ctx)
				if err != nil {
					logger.Error("whitelist reload failed", "error", err)
					continue
				}
				if w != nil {
					proxy.Decider.SetWhitelist(w)
					logger.Info("whitelist reloaded", "count", w.Count())
				}
			}
		}
	}()

	return &SIGHUPReloader{cancel: cancel, done: done}
}
