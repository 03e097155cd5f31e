// Package chaintest provides an in-memory chain backend for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/yield-desk/internal/chain"
)

// Backend implements chain.Backend. Set the exported fields before sharing it between goroutines.
type Backend struct {
	Block      uint64
	BlockErr   error
	Hang       bool // BlockNumber blocks until ctx is done
	BalanceErr error
	GasPrice   *big.Int
	GasErr     error
	NonceErr   error
	SendErr    error
	Unmined    bool // sent transactions never get a receipt
	Revert     bool // receipts report failure

	mu       sync.Mutex
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	calls    map[string]int
	closed   bool
}

func NewBackend(block uint64) *Backend {
	return &Backend{
		Block:    block,
		GasPrice: chain.GweiToWei(20),
		balances: map[common.Address]*big.Int{},
		nonces:   map[common.Address]uint64{},
		receipts: map[common.Hash]*types.Receipt{},
		calls:    map[string]int{},
	}
}

func (b *Backend) SetBalance(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(wei)
}

func (b *Backend) SetNonce(addr common.Address, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[addr] = n
}

// Mine advances the head by n empty blocks.
func (b *Backend) Mine(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Block += n
}

// Calls returns how many times method was invoked.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// TotalCalls counts every invocation except Close.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) hit(method string) {
	b.mu.Lock()
	b.calls[method]++
	b.mu.Unlock()
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.hit("eth_blockNumber")
	if b.Hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if b.BlockErr != nil {
		return 0, b.BlockErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Block, nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.hit("eth_getBalance")
	if b.BalanceErr != nil {
		return nil, b.BalanceErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.hit("eth_gasPrice")
	if b.GasErr != nil {
		return nil, b.GasErr
	}
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.hit("eth_getTransactionCount")
	if b.NonceErr != nil {
		return 0, b.NonceErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

// SendTransaction moves value and fee out of the sender and, unless Unmined, mines it in the next block.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.hit("eth_sendRawTransaction")
	if b.SendErr != nil {
		return b.SendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return errors.New("invalid sender")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tx.Nonce() != b.nonces[from] {
		return errors.New("nonce too low")
	}
	b.nonces[from]++
	b.sent = append(b.sent, tx)

	if bal, ok := b.balances[from]; ok {
		cost := new(big.Int).Add(tx.Value(), new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas())))
		bal.Sub(bal, cost)
	}
	if b.Unmined {
		return nil
	}
	status := types.ReceiptStatusSuccessful
	if b.Revert {
		status = types.ReceiptStatusFailed
	}
	b.Block++
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		BlockNumber: new(big.Int).SetUint64(b.Block),
	}
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.hit("eth_getTransactionReceipt")
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Network dials the fake backends registered under each URL; anything else fails to dial.
type Network struct {
	mu       sync.Mutex
	backends map[string]*Backend
	dialed   []string
}

func NewNetwork() *Network {
	return &Network{backends: map[string]*Backend{}}
}

func (n *Network) Add(url string, b *Backend) *Backend {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.backends[url] = b
	return b
}

// Dial satisfies chain.DialFunc.
func (n *Network) Dial(_ context.Context, url string) (chain.Backend, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dialed = append(n.dialed, url)
	b, ok := n.backends[url]
	if !ok {
		return nil, errors.New("no such host")
	}
	return b, nil
}

func (n *Network) Dialed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dialed...)
}
