package chain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/chain/chaintest"
	"github.com/ligun0805/yield-desk/internal/metrics"
)

func newManager(t *testing.T, net *chaintest.Network, key string, candidates ...string) *chain.Manager {
	t.Helper()
	return chain.NewManager(chain.ManagerOptions{
		Candidates:    candidates,
		ProbeTimeout:  time.Second,
		PrivateKeyHex: key,
		Dial:          net.Dial,
		Account:       fastOptions(),
	}, nil, nil)
}

func TestManager_LazyConnect(t *testing.T) {
	net := chaintest.NewNetwork()
	net.Add("good-url", chaintest.NewBackend(100))
	m := newManager(t, net, newKeyHex(t), "bad-url", "good-url")

	ep, acct := m.Peek()
	assert.Nil(t, ep)
	assert.Nil(t, acct)

	a1, err := m.Account(context.Background())
	require.NoError(t, err)
	a2, err := m.Account(context.Background())
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, []string{"bad-url", "good-url"}, net.Dialed())
	ep, _ = m.Peek()
	assert.Equal(t, "good-url", ep.URL)
}

func TestManager_ConcurrentCallersShareOneDiscovery(t *testing.T) {
	net := chaintest.NewNetwork()
	net.Add("rpc", chaintest.NewBackend(1))
	m := newManager(t, net, newKeyHex(t), "rpc")

	var wg sync.WaitGroup
	accts := make([]*chain.Account, 16)
	for i := range accts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := m.Account(context.Background())
			assert.NoError(t, err)
			accts[i] = a
		}(i)
	}
	wg.Wait()

	assert.Len(t, net.Dialed(), 1)
	for _, a := range accts {
		assert.Same(t, accts[0], a)
	}
}

func TestManager_NoKeyDoesNotRediscover(t *testing.T) {
	net := chaintest.NewNetwork()
	net.Add("rpc", chaintest.NewBackend(1))
	m := newManager(t, net, "", "rpc")

	_, err := m.Account(context.Background())
	assert.ErrorIs(t, err, chain.ErrNoPrivateKey)
	_, err = m.Account(context.Background())
	assert.ErrorIs(t, err, chain.ErrNoPrivateKey)

	assert.Len(t, net.Dialed(), 1)
	ep, acct := m.Peek()
	assert.NotNil(t, ep)
	assert.Nil(t, acct)
}

func TestManager_FailedDiscoveryIsRetriedNextCall(t *testing.T) {
	net := chaintest.NewNetwork()
	m := newManager(t, net, newKeyHex(t), "rpc")

	_, err := m.Account(context.Background())
	assert.ErrorIs(t, err, chain.ErrDiscoveryFailed)

	net.Add("rpc", chaintest.NewBackend(5))
	_, err = m.Account(context.Background())
	require.NoError(t, err)
	assert.Len(t, net.Dialed(), 2)
}

func TestManager_BreakerTripDropsEndpoint(t *testing.T) {
	net := chaintest.NewNetwork()
	be := net.Add("rpc", chaintest.NewBackend(1))
	be.BalanceErr = errors.New("429 Too Many Requests")

	opts := fastOptions()
	opts.BreakerFailures = 1
	m := chain.NewManager(chain.ManagerOptions{
		Candidates:    []string{"rpc"},
		PrivateKeyHex: newKeyHex(t),
		Dial:          net.Dial,
		Account:       opts,
	}, nil, nil)

	acct, err := m.Account(context.Background())
	require.NoError(t, err)
	_, err = acct.Balance(context.Background(), acct.Address())
	require.Error(t, err)

	ep, cur := m.Peek()
	assert.Nil(t, ep)
	assert.Nil(t, cur)
	assert.True(t, be.Closed())
}

func TestManager_BreakerGaugeClearsAfterRediscovery(t *testing.T) {
	net := chaintest.NewNetwork()
	be := net.Add("rpc", chaintest.NewBackend(1))
	be.BalanceErr = errors.New("502 Bad Gateway")

	opts := fastOptions()
	opts.BreakerFailures = 1
	reg := metrics.New()
	m := chain.NewManager(chain.ManagerOptions{
		Candidates:    []string{"rpc"},
		PrivateKeyHex: newKeyHex(t),
		Dial:          net.Dial,
		Account:       opts,
	}, nil, reg)

	acct, err := m.Account(context.Background())
	require.NoError(t, err)
	_, err = acct.Balance(context.Background(), acct.Address())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.BreakerOpen))

	net.Add("rpc", chaintest.NewBackend(2))
	acct, err = m.Account(context.Background())
	require.NoError(t, err)
	_, err = acct.Balance(context.Background(), acct.Address())
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.BreakerOpen))
}

func TestManager_Reset(t *testing.T) {
	net := chaintest.NewNetwork()
	be := net.Add("rpc", chaintest.NewBackend(1))
	m := newManager(t, net, newKeyHex(t), "rpc")

	_, err := m.Account(context.Background())
	require.NoError(t, err)
	m.Reset()

	ep, _ := m.Peek()
	assert.Nil(t, ep)
	assert.True(t, be.Closed())
}

func TestManager_CallerCancelDoesNotAbortDiscovery(t *testing.T) {
	net := chaintest.NewNetwork()
	net.Add("rpc", chaintest.NewBackend(1))
	m := newManager(t, net, newKeyHex(t), "rpc")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Account(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Eventually(t, func() bool {
		_, acct := m.Peek()
		return acct != nil
	}, time.Second, 5*time.Millisecond)
}
