package chain_test

import (
	"context"
	"encoding/hex"
	"errors"
	"math"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/chain/chaintest"
)

var recipient = common.HexToAddress("0x4024Fd78E2AD5532FBF3ec2B3eC83870FAe45fC7")

func newKeyHex(t *testing.T) string {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(crypto.FromECDSA(k))
}

func fastOptions() chain.AccountOptions {
	return chain.AccountOptions{
		PollInterval:  10 * time.Millisecond,
		RatePerSecond: math.Inf(1),
		RetryBackoff:  time.Millisecond,
	}
}

func newAccount(t *testing.T, be *chaintest.Backend, opts chain.AccountOptions) *chain.Account {
	t.Helper()
	acct, err := chain.NewAccount(be, newKeyHex(t), nil, opts, nil, nil)
	require.NoError(t, err)
	return acct
}

func TestNewAccount_Keys(t *testing.T) {
	be := chaintest.NewBackend(1)

	_, err := chain.NewAccount(be, "", nil, fastOptions(), nil, nil)
	assert.ErrorIs(t, err, chain.ErrNoPrivateKey)

	_, err = chain.NewAccount(be, "0xnothex", nil, fastOptions(), nil, nil)
	assert.EqualError(t, err, "bad private key")

	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	acct, err := chain.NewAccount(be, hex.EncodeToString(crypto.FromECDSA(k)), nil, fastOptions(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(k.PublicKey), acct.Address())
	assert.Equal(t, int64(1), acct.ChainID().Int64())
}

func TestFeeRate(t *testing.T) {
	be := chaintest.NewBackend(1)
	acct := newAccount(t, be, fastOptions())

	assert.Equal(t, chain.GweiToWei(20), acct.FeeRate(context.Background()))
}

func TestFeeRate_FallbackOnError(t *testing.T) {
	be := chaintest.NewBackend(1)
	be.GasErr = errors.New("method not found")
	acct := newAccount(t, be, fastOptions())

	assert.Equal(t, chain.GweiToWei(25), acct.FeeRate(context.Background()))
	assert.Equal(t, 3, be.Calls("eth_gasPrice"))
}

func TestBalance_WrapsNetworkError(t *testing.T) {
	be := chaintest.NewBackend(1)
	be.BalanceErr = errors.New("connection refused")
	acct := newAccount(t, be, fastOptions())

	_, err := acct.Balance(context.Background(), acct.Address())

	assert.ErrorIs(t, err, chain.ErrNetwork)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBalanceAndNonce(t *testing.T) {
	be := chaintest.NewBackend(1)
	acct := newAccount(t, be, fastOptions())
	be.SetBalance(acct.Address(), big.NewInt(42))
	be.SetNonce(acct.Address(), 7)

	bal, err := acct.Balance(context.Background(), acct.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	n, err := acct.Nonce(context.Background(), acct.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
}

func TestSignAndBroadcast_Confirms(t *testing.T) {
	be := chaintest.NewBackend(100)
	acct := newAccount(t, be, fastOptions())
	be.SetBalance(acct.Address(), chain.FloatETHToWei(1))

	tx := chain.NewTransfer(0, recipient, chain.FloatETHToWei(0.1), chain.GweiToWei(20))
	signed, err := acct.SignAndBroadcast(context.Background(), tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), signed)
	require.NoError(t, err)
	assert.Equal(t, acct.Address(), from)
	assert.Equal(t, uint64(21000), signed.Gas())

	rcpt, err := acct.AwaitConfirmation(context.Background(), signed.Hash(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), rcpt.BlockNumber.Uint64())
}

func TestAwaitConfirmation_Depth(t *testing.T) {
	be := chaintest.NewBackend(100)
	acct := newAccount(t, be, fastOptions())

	signed, err := acct.SignAndBroadcast(context.Background(), chain.NewTransfer(0, recipient, big.NewInt(1), chain.GweiToWei(1)))
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		be.Mine(2)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rcpt, err := acct.AwaitConfirmation(ctx, signed.Hash(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), rcpt.BlockNumber.Uint64())
	assert.Positive(t, be.Calls("eth_blockNumber"))
}

func TestSignAndBroadcast_RejectedIsNotRetried(t *testing.T) {
	be := chaintest.NewBackend(1)
	be.SendErr = errors.New("insufficient funds for gas * price + value")
	acct := newAccount(t, be, fastOptions())

	signed, err := acct.SignAndBroadcast(context.Background(), chain.NewTransfer(0, recipient, big.NewInt(1), chain.GweiToWei(1)))

	assert.ErrorIs(t, err, chain.ErrBroadcast)
	assert.Equal(t, 1, be.Calls("eth_sendRawTransaction"))
	require.NotNil(t, signed)
	assert.Equal(t, uint64(0), signed.Nonce())
}

func TestAwaitConfirmation_Timeout(t *testing.T) {
	be := chaintest.NewBackend(1)
	be.Unmined = true
	acct := newAccount(t, be, fastOptions())

	signed, err := acct.SignAndBroadcast(context.Background(), chain.NewTransfer(0, recipient, big.NewInt(1), chain.GweiToWei(1)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = acct.AwaitConfirmation(ctx, signed.Hash(), 1)

	assert.ErrorIs(t, err, chain.ErrConfirmationTimeout)
	assert.Contains(t, err.Error(), signed.Hash().Hex())
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwaitConfirmation_Reverted(t *testing.T) {
	be := chaintest.NewBackend(1)
	be.Revert = true
	acct := newAccount(t, be, fastOptions())

	signed, err := acct.SignAndBroadcast(context.Background(), chain.NewTransfer(0, recipient, big.NewInt(1), chain.GweiToWei(1)))
	require.NoError(t, err)

	_, err = acct.AwaitConfirmation(context.Background(), signed.Hash(), 1)
	assert.ErrorIs(t, err, chain.ErrReverted)
}

func TestBreakerTripsAndStopsCalls(t *testing.T) {
	be := chaintest.NewBackend(1)
	be.BalanceErr = errors.New("502 Bad Gateway")
	var trips atomic.Int32
	opts := fastOptions()
	opts.BreakerFailures = 2
	opts.OnTrip = func() { trips.Add(1) }
	acct := newAccount(t, be, opts)

	for i := 0; i < 2; i++ {
		_, err := acct.Balance(context.Background(), acct.Address())
		require.ErrorIs(t, err, chain.ErrNetwork)
	}
	assert.Equal(t, int32(1), trips.Load())
	calls := be.Calls("eth_getBalance")

	_, err := acct.Balance(context.Background(), acct.Address())
	assert.ErrorIs(t, err, chain.ErrNetwork)
	assert.Equal(t, calls, be.Calls("eth_getBalance"))
}
