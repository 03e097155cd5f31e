package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ligun0805/yield-desk/internal/metrics"
)

// AccountOptions tunes an Account. Zero values pick the defaults noted per field.
type AccountOptions struct {
	FallbackGasPrice *big.Int      // 25 gwei
	PollInterval     time.Duration // 2s
	RatePerSecond    float64       // 10 reads/s; +Inf disables limiting
	Burst            int           // 5
	RetryBackoff     time.Duration // 200ms
	BreakerFailures  uint32        // 5 consecutive failures
	BreakerCooldown  time.Duration // 30s

	// OnTrip runs once each time the breaker opens.
	OnTrip func()
}

func (o AccountOptions) withDefaults() AccountOptions {
	if o.FallbackGasPrice == nil || o.FallbackGasPrice.Sign() <= 0 {
		o.FallbackGasPrice = GweiToWei(25)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.RatePerSecond <= 0 || math.IsNaN(o.RatePerSecond) {
		o.RatePerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	return o
}

// Account signs and submits transfers for one key against one endpoint.
type Account struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	opts    AccountOptions
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewAccount parses keyHex (with or without 0x) and binds it to backend.
func NewAccount(backend Backend, keyHex string, chainID *big.Int, opts AccountOptions, log *zap.Logger, m *metrics.Metrics) (*Account, error) {
	prv, err := hexToECDSAPriv(keyHex)
	if err != nil {
		return nil, err
	}
	if chainID == nil {
		chainID = MainnetChainID
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()

	a := &Account{
		backend: backend,
		key:     prv,
		address: gethcrypto.PubkeyToAddress(prv.PublicKey),
		chainID: new(big.Int).Set(chainID),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		log:     log,
		metrics: m,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EthereumRPC",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("RPC circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.SetBreakerOpen(to == gobreaker.StateOpen)
			if to == gobreaker.StateOpen && opts.OnTrip != nil {
				opts.OnTrip()
			}
		},
	})
	return a, nil
}

func (a *Account) Address() common.Address { return a.address }

func (a *Account) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

// read sends one query through the limiter, the breaker and the retry loop, in that order.
func read[T any](ctx context.Context, a *Account, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := a.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	start := time.Now()
	v, err := a.breaker.Execute(func() (interface{}, error) {
		return withRetry(ctx, readAttempts, a.opts.RetryBackoff, fn)
	})
	a.metrics.ObserveRPC(method, time.Since(start), err)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Balance returns the latest balance of addr in wei.
func (a *Account) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := read(ctx, a, "eth_getBalance", func(c context.Context) (*big.Int, error) {
		return a.backend.BalanceAt(c, addr, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %w", ErrNetwork, addr.Hex(), err)
	}
	if bal == nil {
		bal = new(big.Int)
	}
	return bal, nil
}

// FeeRate returns the node's suggested gas price, or the fallback if the node can't answer.
func (a *Account) FeeRate(ctx context.Context) *big.Int {
	gp, err := read(ctx, a, "eth_gasPrice", a.backend.SuggestGasPrice)
	if err != nil || gp == nil || gp.Sign() <= 0 {
		a.log.Warn("gas price unavailable, using fallback",
			zap.String("fallback_gwei", FormatGwei(a.opts.FallbackGasPrice)),
			zap.Error(err))
		return new(big.Int).Set(a.opts.FallbackGasPrice)
	}
	return gp
}

// Nonce returns the pending-inclusive transaction count of addr.
func (a *Account) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := read(ctx, a, "eth_getTransactionCount", func(c context.Context) (uint64, error) {
		return a.backend.PendingNonceAt(c, addr)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: nonce of %s: %w", ErrNetwork, addr.Hex(), err)
	}
	return n, nil
}

// SignAndBroadcast signs tx for the account's chain and submits it once.
// When the submission fails after signing, the signed tx is returned with the error.
func (a *Account) SignAndBroadcast(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signed, err := signTx(tx, a.chainID, a.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	a.log.Debug("broadcasting", zap.String("hash", signed.Hash().Hex()), zap.String("raw", txAsHex(signed)))

	start := time.Now()
	err = a.backend.SendTransaction(ctx, signed)
	a.metrics.ObserveRPC("eth_sendRawTransaction", time.Since(start), err)
	if err != nil {
		return signed, fmt.Errorf("%w: %w", ErrBroadcast, err)
	}
	return signed, nil
}

// AwaitConfirmation polls until hash is mined with the requested depth or ctx ends.
func (a *Account) AwaitConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*types.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := read(ctx, a, "eth_getTransactionReceipt", func(c context.Context) (*types.Receipt, error) {
			r, err := a.backend.TransactionReceipt(c, hash)
			if errors.Is(err, ethereum.NotFound) {
				return nil, nil
			}
			return r, err
		})
		if err != nil && ctx.Err() == nil {
			a.log.Debug("receipt poll failed", zap.String("hash", hash.Hex()), zap.Error(err))
		}
		if rcpt != nil {
			if rcpt.Status == types.ReceiptStatusFailed {
				return rcpt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			if confirmations == 1 {
				return rcpt, nil
			}
			head, herr := read(ctx, a, "eth_blockNumber", a.backend.BlockNumber)
			if herr == nil && rcpt.BlockNumber != nil && head >= rcpt.BlockNumber.Uint64()+confirmations-1 {
				return rcpt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
