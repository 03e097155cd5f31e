package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	st := Load()

	assert.Equal(t, 3000, st.Port)
	assert.Equal(t, int64(1), st.ChainID)
	assert.Equal(t, DefaultRPCURLs, st.RPCURLs)
	assert.Equal(t, 5*time.Second, st.ProbeTimeout)
	assert.Equal(t, 0.01, st.MinGasETH)
	assert.Equal(t, 0.05, st.RecommendedGasETH)
	assert.Equal(t, 0.003, st.GasReserveETH)
	assert.Equal(t, int64(25), st.FallbackGasPriceGwei)
	assert.Equal(t, 3450.0, st.ETHPriceUSD)
	assert.Equal(t, 100*time.Millisecond, st.SimulatorInterval)
	assert.Equal(t, 450, st.StrategyCount)
	assert.Equal(t, "@every 30s", st.WatchSchedule)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("RPC_URLS", " https://a.example , ,https://b.example")
	t.Setenv("treasury_private_key", "0xabc")
	t.Setenv("MIN_GAS_ETH", "0.2")
	t.Setenv("CONFIRMATION_TIMEOUT_SEC", "15")

	st := Load()

	assert.Equal(t, 8088, st.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, st.RPCURLs)
	assert.Equal(t, "0xabc", st.PrivateKeyHex)
	assert.Equal(t, 0.2, st.MinGasETH)
	assert.Equal(t, 15*time.Second, st.ConfirmationTimeout)
}

func TestLoad_KeyAlias(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "deadbeef")
	assert.Equal(t, "deadbeef", Load().PrivateKeyHex)
}

func TestMaskHex(t *testing.T) {
	assert.Equal(t, "(not set)", MaskHex(""))
	assert.Equal(t, "***", MaskHex("0x1234"))
	assert.Equal(t, "0xabcd…1234", MaskHex("0xabcdef0123456789abcdef0123456789abcd1234"))
}
