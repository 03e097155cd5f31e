package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ligun0805/yield-desk/internal/metrics"
)

// ManagerOptions describes how the Manager finds an endpoint and builds the account.
type ManagerOptions struct {
	Candidates    []string
	ChainID       *big.Int
	ProbeTimeout  time.Duration
	PrivateKeyHex string
	Dial          DialFunc
	Account       AccountOptions
}

// Manager owns the connected endpoint and the account bound to it.
// Discovery is lazy and shared between concurrent callers.
type Manager struct {
	opts    ManagerOptions
	log     *zap.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu       sync.RWMutex
	endpoint *Endpoint
	account  *Account
	keyErr   error
}

func NewManager(opts ManagerOptions, log *zap.Logger, m *metrics.Metrics) *Manager {
	if opts.Dial == nil {
		opts.Dial = DialHTTP
	}
	if opts.ChainID == nil {
		opts.ChainID = MainnetChainID
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{opts: opts, log: log.With(zap.String("component", "chain")), metrics: m}
}

// Account returns the connected account, discovering an endpoint first if there is none.
// Once an endpoint is connected, a missing or bad key is reported without probing again.
func (m *Manager) Account(ctx context.Context) (*Account, error) {
	m.mu.RLock()
	ep, acct, keyErr := m.endpoint, m.account, m.keyErr
	m.mu.RUnlock()
	if acct != nil {
		return acct, nil
	}
	if ep != nil {
		return nil, keyErr
	}

	ch := m.group.DoChan("connect", func() (interface{}, error) {
		return m.connect(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Account), nil
	}
}

func (m *Manager) connect(ctx context.Context) (*Account, error) {
	m.mu.RLock()
	if m.account != nil || m.endpoint != nil {
		acct, keyErr := m.account, m.keyErr
		m.mu.RUnlock()
		if acct == nil {
			return nil, keyErr
		}
		return acct, nil
	}
	m.mu.RUnlock()

	ep, err := Discover(ctx, m.opts.Dial, m.opts.Candidates, m.opts.ChainID, m.opts.ProbeTimeout, m.log)
	m.metrics.ObserveDiscovery(err)
	if err != nil {
		return nil, err
	}

	aopts := m.opts.Account
	onTrip := aopts.OnTrip
	aopts.OnTrip = func() {
		m.log.Warn("dropping RPC endpoint after repeated failures", zap.String("url", ep.URL))
		m.drop(ep)
		if onTrip != nil {
			onTrip()
		}
	}
	acct, keyErr := NewAccount(ep.Backend, m.opts.PrivateKeyHex, ep.ChainID, aopts, m.log, m.metrics)

	m.mu.Lock()
	m.endpoint = ep
	m.account = acct
	m.keyErr = keyErr
	m.mu.Unlock()
	// the fresh account starts with a closed breaker
	m.metrics.SetBreakerOpen(false)

	if keyErr != nil {
		m.log.Warn("endpoint connected but wallet unavailable", zap.String("url", ep.URL), zap.Error(keyErr))
		return nil, keyErr
	}
	m.log.Info("wallet ready", zap.String("address", acct.Address().Hex()), zap.String("url", ep.URL))
	return acct, nil
}

// Peek returns the current state without connecting. Either value may be nil.
func (m *Manager) Peek() (*Endpoint, *Account) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpoint, m.account
}

// Reset forgets the endpoint and account; the next Account call discovers again.
func (m *Manager) Reset() {
	m.mu.Lock()
	ep := m.endpoint
	m.endpoint, m.account, m.keyErr = nil, nil, nil
	m.mu.Unlock()
	if ep != nil && ep.Backend != nil {
		ep.Backend.Close()
	}
}

// drop resets only if ep is still the current endpoint.
func (m *Manager) drop(ep *Endpoint) {
	m.mu.Lock()
	if m.endpoint != ep {
		m.mu.Unlock()
		return
	}
	m.endpoint, m.account, m.keyErr = nil, nil, nil
	m.mu.Unlock()
	if ep.Backend != nil {
		ep.Backend.Close()
	}
}
