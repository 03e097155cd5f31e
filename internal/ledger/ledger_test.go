package ledger

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(n int) (*Ledger, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Options{
		Strategies: n,
		Rand:       rand.New(rand.NewPCG(1, 2)),
		Now:        func() time.Time { return now },
	})
	return l, &now
}

func TestNew_RowsSortedAndSeeded(t *testing.T) {
	l, _ := newTestLedger(0)
	rows := l.Top(0)

	require.Len(t, rows, DefaultStrategies)
	assert.Equal(t, "uniswap", rows[0].Protocol)
	assert.Equal(t, "UNISWAP Strategy #1", rows[0].Name)
	assert.InDelta(t, 45.8*2.8*4.5, rows[0].APY, 1e-9)
	assert.InDelta(t, rows[0].APY/365/24/3600*100, rows[0].EarningPerSecond, 1e-15)
	assert.Equal(t, "aave", rows[len(rows)-1].Protocol)

	for i, r := range rows {
		assert.GreaterOrEqual(t, r.PnL, 500.0)
		assert.Less(t, r.PnL, 1500.0)
		assert.True(t, r.IsActive)
		if i > 0 {
			assert.GreaterOrEqual(t, rows[i-1].APY, r.APY)
		}
	}
	// stable: same-protocol rows keep creation order
	assert.Equal(t, 1, rows[0].ID)
	assert.Equal(t, 11, rows[1].ID)
}

func TestTick(t *testing.T) {
	l, now := newTestLedger(20)
	before := l.Summary().TotalPnL
	*now = now.Add(time.Hour)

	require.True(t, l.Tick())

	s := l.Summary()
	assert.Greater(t, s.TotalPnL, before)
	assert.Equal(t, int64(20), s.TotalTrades)
	assert.Equal(t, *now, s.LastTradeTime)
	assert.InDelta(t, s.TotalEarned, s.HourlyRate, 1e-9)
}

func TestTick_InactiveIsNoop(t *testing.T) {
	l, _ := newTestLedger(10)
	l.SetActive(false)
	before := l.Top(0)

	assert.False(t, l.Tick())
	assert.Equal(t, before, l.Top(0))
	assert.Zero(t, l.Summary().TotalTrades)
}

func TestCreditAndDebit(t *testing.T) {
	l, _ := newTestLedger(10)
	before := l.Summary().TotalPnL

	l.Credit(100)
	assert.InDelta(t, before+100, l.Summary().TotalPnL, 1e-6)

	l.Debit(345)
	assert.InDelta(t, before+100-345, l.Summary().TotalPnL, 1e-6)
}

func TestDebit_FloorsAtZero(t *testing.T) {
	l, _ := newTestLedger(10)

	l.Debit(1e9)

	for _, r := range l.Top(0) {
		assert.Zero(t, r.PnL)
	}
	assert.Zero(t, l.Summary().TotalPnL)
}

func TestExecuteFlashLoan(t *testing.T) {
	l, _ := newTestLedger(10)

	for i := 1; i <= 2; i++ {
		before := l.Summary().TotalPnL
		fl := l.ExecuteFlashLoan(100, 3450)

		assert.Equal(t, int64(i), fl.Total)
		assert.GreaterOrEqual(t, fl.ProfitUSD, 100*0.002*3450)
		assert.Less(t, fl.ProfitUSD, 100*0.005*3450)
		assert.InDelta(t, fl.ProfitUSD/3450, fl.ProfitETH, 1e-12)
		assert.Greater(t, l.Summary().TotalPnL, before)
	}
	assert.Equal(t, int64(2), l.Summary().FlashLoansExecuted)
}

func TestAddGasUsed(t *testing.T) {
	l, _ := newTestLedger(1)
	l.AddGasUsed(0.00042)
	l.AddGasUsed(0.00042)
	assert.InDelta(t, 0.00084, l.Summary().GasUsed, 1e-12)
}

func TestFind(t *testing.T) {
	l, _ := newTestLedger(20)

	s, ok := l.Find(7)
	require.True(t, ok)
	assert.Equal(t, "YEARN Strategy #7", s.Name)

	_, ok = l.Find(9999)
	assert.False(t, ok)
}

func TestSummaryAggregates(t *testing.T) {
	l, now := newTestLedger(10)
	*now = now.Add(2 * time.Hour)

	s := l.Summary()

	assert.Equal(t, 10, s.Strategies)
	assert.Equal(t, "UNISWAP Strategy #1", s.TopStrategy)
	assert.InDelta(t, (45.8+32.1+28.6+22.4+19.2+18.3+15.7+12.5+11.9+8.2)/10*AIBoost*LeverageMultiplier, s.AvgAPY, 1e-9)
	assert.Equal(t, 2*time.Hour, s.Uptime)
	assert.InDelta(t, s.TotalPnL/2, s.Hourly, 1e-9)
	assert.InDelta(t, s.Hourly*24, s.Daily, 1e-9)
}

func TestSimulator_StopsOnCancel(t *testing.T) {
	l, _ := newTestLedger(5)
	sim := NewSimulator(l, time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sim.Ticks() > 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}

	ticks := sim.Ticks()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, ticks, sim.Ticks())
}

func TestSimulator_SkipsWhileInactive(t *testing.T) {
	l, _ := newTestLedger(5)
	l.SetActive(false)
	sim := NewSimulator(l, time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	assert.Zero(t, sim.Ticks())
	assert.Zero(t, l.Summary().TotalTrades)
}
