package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MainnetChainID is used when no chain id is configured.
var MainnetChainID = big.NewInt(1)

// Endpoint is the RPC endpoint that most recently passed a liveness probe.
type Endpoint struct {
	URL     string
	ChainID *big.Int
	Block   uint64
	Backend Backend
}

// Discover probes candidates in order and returns the first one that answers eth_blockNumber
// within probeTimeout. Candidates are never probed concurrently.
func Discover(ctx context.Context, dial DialFunc, candidates []string, chainID *big.Int, probeTimeout time.Duration, log *zap.Logger) (*Endpoint, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if chainID == nil {
		chainID = MainnetChainID
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	derr := &DiscoveryError{}
	for _, u := range candidates {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			derr.Attempts = append(derr.Attempts, ProbeFailure{URL: u, Err: err})
			break
		}
		log.Info("trying RPC", zap.String("url", u))

		block, backend, err := probe(ctx, dial, u, probeTimeout)
		if err != nil {
			log.Warn("RPC probe failed", zap.String("url", u), zap.String("error", truncate(err.Error(), 80)))
			derr.Attempts = append(derr.Attempts, ProbeFailure{URL: u, Err: err})
			continue
		}
		log.Info("RPC connected", zap.String("url", u), zap.Uint64("block", block))
		return &Endpoint{URL: u, ChainID: new(big.Int).Set(chainID), Block: block, Backend: backend}, nil
	}
	log.Error("all RPC endpoints failed", zap.Int("tried", len(derr.Attempts)))
	return nil, derr
}

func probe(ctx context.Context, dial DialFunc, url string, timeout time.Duration) (uint64, Backend, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backend, err := dial(pctx, url)
	if err != nil {
		return 0, nil, fmt.Errorf("dial: %w", err)
	}
	block, err := backend.BlockNumber(pctx)
	if err != nil {
		backend.Close()
		if ctx.Err() == nil && (pctx.Err() != nil || isRPCTimeout(err)) {
			return 0, nil, fmt.Errorf("timeout after %s", timeout)
		}
		return 0, nil, err
	}
	return block, backend, nil
}
