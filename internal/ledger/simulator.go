package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/metrics"
)

// Simulator drives Ledger.Tick on a fixed interval.
type Simulator struct {
	ledger   *Ledger
	interval time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
	ticks    atomic.Uint64
}

func NewSimulator(l *Ledger, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Simulator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{ledger: l, interval: interval, log: log.With(zap.String("component", "simulator")), metrics: m}
}

// Run ticks until ctx is cancelled. Ticks are skipped while the ledger is inactive.
func (s *Simulator) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Info("earnings simulator started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("earnings simulator stopped", zap.Uint64("ticks", s.ticks.Load()))
			return
		case <-t.C:
			if s.ledger.Tick() {
				s.ticks.Add(1)
				s.metrics.SetLedgerTotal(s.ledger.Summary().TotalPnL)
			}
		}
	}
}

// Ticks counts applied ticks.
func (s *Simulator) Ticks() uint64 { return s.ticks.Load() }
