// Package monitor keeps an eye on the treasury balance between requests.
package monitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/metrics"
)

// Source exposes the current connection without connecting. *chain.Manager implements it.
type Source interface {
	Peek() (*chain.Endpoint, *chain.Account)
}

// Snapshot is the last balance the watcher saw.
type Snapshot struct {
	Address   common.Address
	Balance   *big.Int
	GasOK     bool
	CheckedAt time.Time
}

type Watcher struct {
	source   Source
	schedule string
	minGas   *big.Int
	cron     *cron.Cron
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu   sync.RWMutex
	last *Snapshot
}

func NewWatcher(source Source, schedule string, minGasETH float64, logger *zap.Logger, m *metrics.Metrics) *Watcher {
	if schedule == "" {
		schedule = "@every 30s"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		source:   source,
		schedule: schedule,
		minGas:   chain.FloatETHToWei(minGasETH),
		cron:     cron.New(),
		logger:   logger.With(zap.String("component", "watcher")),
		metrics:  m,
	}
}

func (w *Watcher) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		w.Check(ctx)
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("Treasury watcher started", zap.String("schedule", w.schedule))
	return nil
}

// Stop waits for a running check to finish.
func (w *Watcher) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Treasury watcher stopped")
}

// Check refreshes the snapshot once. It never triggers endpoint discovery.
func (w *Watcher) Check(ctx context.Context) {
	_, acct := w.source.Peek()
	if acct == nil {
		w.logger.Debug("no wallet connected, skipping balance check")
		return
	}
	bal, err := acct.Balance(ctx, acct.Address())
	if err != nil {
		w.logger.Warn("Failed to refresh treasury balance", zap.Error(err))
		return
	}

	snap := &Snapshot{
		Address:   acct.Address(),
		Balance:   bal,
		GasOK:     bal.Cmp(w.minGas) >= 0,
		CheckedAt: time.Now(),
	}
	w.mu.Lock()
	w.last = snap
	w.mu.Unlock()

	w.metrics.SetTreasuryBalance(chain.WeiToETH(bal))
	if !snap.GasOK {
		w.logger.Warn("Treasury below minimum gas",
			zap.String("address", snap.Address.Hex()),
			zap.String("balance_eth", chain.FormatETH(bal)),
			zap.String("min_eth", chain.FormatETH(w.minGas)))
	}
}

// Last returns the most recent snapshot, if any.
func (w *Watcher) Last() (Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return Snapshot{}, false
	}
	return *w.last, true
}
