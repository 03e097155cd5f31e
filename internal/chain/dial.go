package chain

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of *ethclient.Client the service talks to.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// DialFunc opens a backend for one endpoint URL. Dialing an HTTP endpoint does not touch the network.
type DialFunc func(ctx context.Context, url string) (Backend, error)

var sharedHTTP = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	},
}

// DialHTTP dials RPC with keep-alives and sane timeouts.
func DialHTTP(ctx context.Context, url string) (Backend, error) {
	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(sharedHTTP))
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rc), nil
}
