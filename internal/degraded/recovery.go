package degraded

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
)

// defaultProbeTimeout bounds each recovery probe.
const defaultProbeTimeout = 10 * time.Second

var (
	recoveryChan   chan struct{}
	recoveryChanMu sync.Mutex
)

// ProbeFunc checks whether Grist is usable again. Returns nil if recovered.
type ProbeFunc func(ctx context.Context) error

// RecoveryConfig configures the Fibonacci-backoff recovery loop.
type RecoveryConfig struct {
	Probe        ProbeFunc
	Initial      time.Duration
	Max          time.Duration
	ProbeTimeout time.Duration
	Clock        clockwork.Clock
	Logger       *zap.Logger

	// OnRecovered runs after a successful probe, once the error window is cleared.
	OnRecovered func(ctx context.Context)
	// OnExhausted runs when the final probe fails.
	OnExhausted func()
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	return c
}

// NotifyDegraded signals that a Grist fetch failed. Starts recovery if it is not
// already running. Non-blocking; a no-op before StartRecoveryListener.
func NotifyDegraded() {
	recoveryChanMu.Lock()
	ch := recoveryChan
	recoveryChanMu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// StartRecoveryListener runs recovery in the background whenever NotifyDegraded
// is called. At most one recovery loop runs at a time. Stops when ctx is done.
func StartRecoveryListener(ctx context.Context, cfg RecoveryConfig) {
	cfg = cfg.withDefaults()
	ch := make(chan struct{}, 1)
	recoveryChanMu.Lock()
	recoveryChan = ch
	recoveryChanMu.Unlock()

	var running atomic.Bool
	go func() {
		for {
			select {
			case <-ctx.Done():
				recoveryChanMu.Lock()
				if recoveryChan == ch {
					recoveryChan = nil
				}
				recoveryChanMu.Unlock()
				return
			case <-ch:
				if running.Swap(true) {
					continue
				}
				go func() {
					defer running.Store(false)
					RunRecovery(ctx, cfg)
				}()
			}
		}
	}()
}

// RunRecovery probes at Fibonacci delays from Initial up to Max (1m, 2m, 3m, 5m, 8m, 13m
// for 1m/13m). On the first successful probe it clears recorded errors, calls
// OnRecovered and returns true. If the final probe fails it calls OnExhausted.
func RunRecovery(ctx context.Context, cfg RecoveryConfig) bool {
	cfg = cfg.withDefaults()
	if cfg.Probe == nil || cfg.Initial <= 0 || cfg.Max < cfg.Initial {
		return false
	}
	delays := fibDelays(cfg.Initial, cfg.Max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-cfg.Clock.After(d):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		err := cfg.Probe(attemptCtx)
		cancel()
		if err == nil {
			observability.RecoveryAttemptsTotal.WithLabelValues("success").Inc()
			Reset()
			cfg.Logger.Info("grist recovered", zap.Int("attempt", i+1))
			if cfg.OnRecovered != nil {
				cfg.OnRecovered(ctx)
			}
			return true
		}

		observability.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
		cfg.Logger.Warn("recovery probe failed", zap.Int("attempt", i+1), zap.Duration("delay", d), zap.Error(err))
		if i == len(delays)-1 {
			observability.RecoveryAttemptsTotal.WithLabelValues("exhausted").Inc()
			if cfg.OnExhausted != nil {
				cfg.OnExhausted()
			}
			return false
		}
	}
	return false
}

func fibDelays(initial, max time.Duration) []time.Duration {
	a, b := 1.0, 2.0
	unit := initial.Seconds()
	var out []time.Duration
	for {
		d := time.Duration(a * unit * float64(time.Second))
		if d > max {
			break
		}
		out = append(out, d)
		a, b = b, a+b
	}
	return out
}
