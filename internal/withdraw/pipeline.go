// Package withdraw moves ETH out of the treasury: validate, check funding, sign, broadcast, confirm.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/metrics"
)

// Account is the signing side of the treasury. *chain.Account implements it.
type Account interface {
	Address() common.Address
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	FeeRate(ctx context.Context) *big.Int
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	SignAndBroadcast(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*types.Receipt, error)
}

// Connector returns a ready account, connecting first if needed.
type Connector func(ctx context.Context) (Account, error)

// Via adapts anything that hands out *chain.Account values, such as *chain.Manager.
func Via(src interface {
	Account(ctx context.Context) (*chain.Account, error)
}) Connector {
	return func(ctx context.Context) (Account, error) {
		a, err := src.Account(ctx)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// Ledger receives the bookkeeping side effects of a confirmed withdrawal.
type Ledger interface {
	Debit(usd float64)
	AddGasUsed(eth float64)
}

type Config struct {
	MinGasETH           float64
	RecommendedGasETH   float64
	GasReserveETH       float64
	ETHPriceUSD         float64
	FeeRecipient        string
	TreasuryWallet      string
	ConfirmationTimeout time.Duration
	ExplorerTxURL       string
}

// Receipt describes a confirmed withdrawal.
type Receipt struct {
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Amount      decimal.Decimal
	Value       *big.Int
	BlockNumber uint64
	ExplorerURL string
	GasPrice    *big.Int
}

type Pipeline struct {
	cfg     Config
	connect Connector
	ledger  Ledger
	log     *zap.Logger
	metrics *metrics.Metrics

	minGas, recommended, reserve *big.Int

	// held from nonce fetch to broadcast
	nonceMu sync.Mutex
}

func NewPipeline(cfg Config, connect Connector, ledger Ledger, log *zap.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 90 * time.Second
	}
	if cfg.ExplorerTxURL == "" {
		cfg.ExplorerTxURL = "https://etherscan.io/tx/"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:         cfg,
		connect:     connect,
		ledger:      ledger,
		log:         log.With(zap.String("component", "withdraw")),
		metrics:     m,
		minGas:      chain.FloatETHToWei(cfg.MinGasETH),
		recommended: chain.FloatETHToWei(cfg.RecommendedGasETH),
		reserve:     chain.FloatETHToWei(cfg.GasReserveETH),
	}
}

// FundingHint tells an operator how to unblock the treasury.
func (p *Pipeline) FundingHint(treasury string) string {
	if treasury == "" {
		treasury = p.cfg.TreasuryWallet
	}
	return "Send at least " + strconv.FormatFloat(p.cfg.MinGasETH, 'f', -1, 64) + " ETH to " + treasury
}

const (
	failedHint       = "Ensure treasury has sufficient ETH for gas"
	broadcastTimeout = 30 * time.Second
)

// Validate normalizes req without touching the network.
func (p *Pipeline) Validate(req Request) (decimal.Decimal, *big.Int, common.Address, error) {
	raw := strings.TrimSpace(req.Amount)
	amount, err := decimal.NewFromString(raw)
	if raw == "" || err != nil || !amount.IsPositive() {
		return decimal.Zero, nil, common.Address{}, ErrInvalidAmount
	}
	value := chain.ETHToWei(amount)
	if value.Sign() <= 0 {
		return decimal.Zero, nil, common.Address{}, ErrInvalidAmount
	}

	to := strings.TrimSpace(req.To)
	if to == "" {
		to = p.cfg.FeeRecipient
	}
	if !validRecipient(to) {
		return decimal.Zero, nil, common.Address{}, ErrInvalidAddress
	}
	return amount, value, common.HexToAddress(to), nil
}

// validRecipient accepts all-lower or all-upper hex, and mixed case only with a correct EIP-55 checksum.
func validRecipient(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	h := s
	if len(h) == 2*common.AddressLength+2 {
		h = h[2:]
	}
	if h == strings.ToLower(h) || h == strings.ToUpper(h) {
		return true
	}
	return common.HexToAddress(h).Hex() == "0x"+h
}

// EnsureGas connects and checks that the treasury holds at least the minimum gas balance.
func (p *Pipeline) EnsureGas(ctx context.Context) (Account, *big.Int, error) {
	acct, err := p.connect(ctx)
	if err != nil {
		p.log.Warn("wallet unavailable", zap.Error(err))
		return nil, nil, &NotConfiguredError{Treasury: p.cfg.TreasuryWallet, Hint: p.FundingHint(""), Err: err}
	}
	bal, err := acct.Balance(ctx, acct.Address())
	if err != nil {
		return nil, nil, &FailedError{Hint: failedHint, Err: err}
	}
	if bal.Cmp(p.minGas) < 0 {
		treasury := acct.Address().Hex()
		return nil, bal, &InsufficientGasError{
			Treasury:    treasury,
			Current:     bal,
			Required:    new(big.Int).Set(p.minGas),
			Recommended: new(big.Int).Set(p.recommended),
			Hint:        p.FundingHint(treasury),
		}
	}
	return acct, bal, nil
}

// Withdraw runs one transfer to completion. It is never retried as a whole.
func (p *Pipeline) Withdraw(ctx context.Context, req Request) (*Receipt, error) {
	r, err := p.withdraw(ctx, req)
	p.metrics.ObserveWithdrawal(resultLabel(err), r.amountFloat())
	return r, err
}

func (p *Pipeline) withdraw(ctx context.Context, req Request) (*Receipt, error) {
	amount, value, to, err := p.Validate(req)
	if err != nil {
		return nil, err
	}

	acct, bal, err := p.EnsureGas(ctx)
	if err != nil {
		return nil, err
	}
	from := acct.Address()
	p.log.Info("withdrawal requested",
		zap.String("amount_eth", amount.String()),
		zap.String("to", to.Hex()),
		zap.String("from", from.Hex()),
		zap.String("balance_eth", chain.FormatETH(bal)))

	need := new(big.Int).Add(value, p.reserve)
	if bal.Cmp(need) < 0 {
		maxOut := new(big.Int).Sub(bal, p.reserve)
		if maxOut.Sign() < 0 {
			maxOut.SetInt64(0)
		}
		return nil, &InsufficientBalanceError{
			Balance:         bal,
			Requested:       value,
			Reserve:         new(big.Int).Set(p.reserve),
			MaxWithdrawable: maxOut,
		}
	}

	gasPrice := acct.FeeRate(ctx)
	signed, err := p.broadcast(ctx, acct, to, value, gasPrice)
	if err != nil {
		failed := &FailedError{Hint: failedHint, Err: err}
		if signed != nil && chain.SendOutcomeUnknown(err) {
			failed.TxHash = signed.Hash().Hex()
		}
		p.log.Error("withdrawal broadcast failed", zap.String("hash", failed.TxHash), zap.Error(err))
		return nil, failed
	}
	hash := signed.Hash()
	p.log.Info("tx broadcast", zap.String("hash", hash.Hex()), zap.String("gas_price_gwei", chain.FormatGwei(gasPrice)))

	// The transfer is already in flight; a client hanging up must not stop us from booking it.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ConfirmationTimeout)
	defer cancel()
	rcpt, err := acct.AwaitConfirmation(cctx, hash, 1)
	if err != nil {
		p.log.Error("withdrawal not confirmed", zap.String("hash", hash.Hex()), zap.Error(err))
		return nil, &FailedError{TxHash: hash.Hex(), Hint: failedHint, Err: err}
	}

	var block uint64
	if rcpt.BlockNumber != nil {
		block = rcpt.BlockNumber.Uint64()
	}
	p.log.Info("tx confirmed", zap.String("hash", hash.Hex()), zap.Uint64("block", block))

	usd, _ := amount.Mul(decimal.NewFromFloat(p.cfg.ETHPriceUSD)).Float64()
	p.ledger.Debit(usd)
	p.ledger.AddGasUsed(chain.WeiToETH(chain.TransferCost(gasPrice)))

	return &Receipt{
		TxHash:      hash,
		From:        from,
		To:          to,
		Amount:      amount,
		Value:       value,
		BlockNumber: block,
		ExplorerURL: p.cfg.ExplorerTxURL + hash.Hex(),
		GasPrice:    gasPrice,
	}, nil
}

func (p *Pipeline) broadcast(ctx context.Context, acct Account, to common.Address, value, gasPrice *big.Int) (*types.Transaction, error) {
	p.nonceMu.Lock()
	defer p.nonceMu.Unlock()

	// Funding checks passed; from here the send runs to completion even if the caller leaves.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
	defer cancel()

	nonce, err := acct.Nonce(ctx, acct.Address())
	if err != nil {
		return nil, err
	}
	signed, err := acct.SignAndBroadcast(ctx, chain.NewTransfer(nonce, to, value, gasPrice))
	if err != nil {
		return signed, fmt.Errorf("nonce %d: %w", nonce, err)
	}
	return signed, nil
}

func (r *Receipt) amountFloat() float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Amount.Float64()
	return f
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAddress):
		return "invalid"
	case errors.Is(err, ErrWalletNotConfigured):
		return "unconfigured"
	case errors.Is(err, ErrInsufficientGas):
		return "insufficient_gas"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return "unconfirmed"
	default:
		return "failed"
	}
}
