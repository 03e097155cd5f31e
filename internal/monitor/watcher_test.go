package monitor

import (
	"context"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/chain/chaintest"
	"github.com/ligun0805/yield-desk/internal/metrics"
)

func connectedManager(t *testing.T, balanceETH float64) (*chain.Manager, *chaintest.Network) {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)

	net := chaintest.NewNetwork()
	be := net.Add("rpc", chaintest.NewBackend(1))
	be.SetBalance(crypto.PubkeyToAddress(k.PublicKey), chain.FloatETHToWei(balanceETH))

	m := chain.NewManager(chain.ManagerOptions{
		Candidates:    []string{"rpc"},
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(k)),
		Dial:          net.Dial,
		Account:       chain.AccountOptions{RatePerSecond: math.Inf(1), RetryBackoff: time.Millisecond},
	}, nil, nil)
	return m, net
}

func TestCheck_NeverConnects(t *testing.T) {
	mgr, net := connectedManager(t, 1)
	w := NewWatcher(mgr, "", 0.01, nil, nil)

	w.Check(context.Background())

	_, ok := w.Last()
	assert.False(t, ok)
	assert.Empty(t, net.Dialed())
}

func TestCheck_RecordsBalance(t *testing.T) {
	mgr, _ := connectedManager(t, 0.004)
	_, err := mgr.Account(context.Background())
	require.NoError(t, err)
	m := metrics.New()
	w := NewWatcher(mgr, "", 0.01, nil, m)

	w.Check(context.Background())

	snap, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, "0.004000", chain.FormatETH(snap.Balance))
	assert.False(t, snap.GasOK)
	assert.InDelta(t, 0.004, testutil.ToFloat64(m.TreasuryBalance), 1e-12)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	mgr, _ := connectedManager(t, 1)
	w := NewWatcher(mgr, "every now and then", 0.01, nil, nil)
	assert.Error(t, w.Start())
}

func TestStartStop(t *testing.T) {
	mgr, _ := connectedManager(t, 1)
	_, err := mgr.Account(context.Background())
	require.NoError(t, err)
	w := NewWatcher(mgr, "@every 1s", 0.01, nil, nil)

	require.NoError(t, w.Start())
	assert.Eventually(t, func() bool {
		_, ok := w.Last()
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	w.Stop()
}
