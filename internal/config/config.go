package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultRPCURLs are public mainnet endpoints that need no API key, in priority order.
var DefaultRPCURLs = []string{
	"https://ethereum-rpc.publicnode.com",
	"https://eth.drpc.org",
	"https://rpc.ankr.com/eth",
	"https://eth.llamarpc.com",
	"https://1rpc.io/eth",
	"https://eth-mainnet.public.blastapi.io",
	"https://cloudflare-eth.com",
	"https://rpc.builder0x69.io",
}

// Settings keeps all configuration options.
// Every key is accepted in UPPER_CASE and lower_case, like the rest of our tools.
type Settings struct {
	Host string
	Port int

	PrivateKeyHex  string
	FeeRecipient   string
	TreasuryWallet string

	RPCURLs       []string
	ChainID       int64
	ProbeTimeout  time.Duration
	RPCRatePerSec float64

	MinGasETH            float64
	RecommendedGasETH    float64
	GasReserveETH        float64
	FallbackGasPriceGwei int64
	ETHPriceUSD          float64
	FlashLoanAmountETH   float64

	ConfirmationTimeout time.Duration
	ConfirmationPoll    time.Duration

	SimulatorInterval time.Duration
	StrategyCount     int

	WatchSchedule string
	ExplorerTxURL string

	LogLevel  string
	LogFormat string
}

type option struct {
	key  string
	envs []string
	def  any
}

var options = []option{
	{"host", []string{"HOST", "host"}, "0.0.0.0"},
	{"port", []string{"PORT", "port"}, 3000},
	{"private_key", []string{"TREASURY_PRIVATE_KEY", "treasury_private_key", "PRIVATE_KEY", "private_key"}, ""},
	{"fee_recipient", []string{"FEE_RECIPIENT", "fee_recipient"}, "0x4024Fd78E2AD5532FBF3ec2B3eC83870FAe45fC7"},
	{"treasury_wallet", []string{"TREASURY_WALLET", "treasury_wallet"}, "0x0fF31D4cdCE8B3f7929c04EbD4cd852608DC09f4"},
	{"rpc_urls", []string{"RPC_URLS", "rpc_urls"}, strings.Join(DefaultRPCURLs, ",")},
	{"chain_id", []string{"CHAIN_ID", "chain_id"}, 1},
	{"rpc_probe_timeout_ms", []string{"RPC_PROBE_TIMEOUT_MS", "rpc_probe_timeout_ms"}, 5000},
	{"rpc_rate_per_sec", []string{"RPC_RATE_PER_SEC", "rpc_rate_per_sec"}, 10.0},
	{"min_gas_eth", []string{"MIN_GAS_ETH", "min_gas_eth"}, 0.01},
	{"recommended_gas_eth", []string{"RECOMMENDED_GAS_ETH", "recommended_gas_eth"}, 0.05},
	{"gas_reserve_eth", []string{"GAS_RESERVE_ETH", "gas_reserve_eth"}, 0.003},
	{"fallback_gas_price_gwei", []string{"FALLBACK_GAS_PRICE_GWEI", "fallback_gas_price_gwei"}, 25},
	{"eth_price_usd", []string{"ETH_PRICE_USD", "eth_price_usd"}, 3450.0},
	{"flash_loan_amount_eth", []string{"FLASH_LOAN_AMOUNT_ETH", "flash_loan_amount_eth"}, 100.0},
	{"confirmation_timeout_sec", []string{"CONFIRMATION_TIMEOUT_SEC", "confirmation_timeout_sec"}, 90},
	{"confirmation_poll_ms", []string{"CONFIRMATION_POLL_MS", "confirmation_poll_ms"}, 2000},
	{"simulator_interval_ms", []string{"SIMULATOR_INTERVAL_MS", "simulator_interval_ms"}, 100},
	{"strategy_count", []string{"STRATEGY_COUNT", "strategy_count"}, 450},
	{"watch_schedule", []string{"WATCH_SCHEDULE", "watch_schedule"}, "@every 30s"},
	{"explorer_tx_url", []string{"EXPLORER_TX_URL", "explorer_tx_url"}, "https://etherscan.io/tx/"},
	{"log_level", []string{"LOG_LEVEL", "log_level"}, "info"},
	{"log_format", []string{"LOG_FORMAT", "log_format"}, "json"},
}

// Load reads settings from the process environment. Call godotenv first if a .env file should count.
func Load() Settings {
	v := viper.New()
	for _, o := range options {
		v.SetDefault(o.key, o.def)
		_ = v.BindEnv(append([]string{o.key}, o.envs...)...)
	}

	ms := func(key string) time.Duration { return time.Duration(v.GetInt64(key)) * time.Millisecond }

	st := Settings{}
	st.Host = strings.TrimSpace(v.GetString("host"))
	st.Port = v.GetInt("port")
	st.PrivateKeyHex = strings.TrimSpace(v.GetString("private_key"))
	st.FeeRecipient = strings.TrimSpace(v.GetString("fee_recipient"))
	st.TreasuryWallet = strings.TrimSpace(v.GetString("treasury_wallet"))

	st.RPCURLs = splitCSV(v.GetString("rpc_urls"))
	st.ChainID = v.GetInt64("chain_id")
	st.ProbeTimeout = ms("rpc_probe_timeout_ms")
	st.RPCRatePerSec = v.GetFloat64("rpc_rate_per_sec")

	st.MinGasETH = v.GetFloat64("min_gas_eth")
	st.RecommendedGasETH = v.GetFloat64("recommended_gas_eth")
	st.GasReserveETH = v.GetFloat64("gas_reserve_eth")
	st.FallbackGasPriceGwei = v.GetInt64("fallback_gas_price_gwei")
	st.ETHPriceUSD = v.GetFloat64("eth_price_usd")
	st.FlashLoanAmountETH = v.GetFloat64("flash_loan_amount_eth")

	st.ConfirmationTimeout = time.Duration(v.GetInt64("confirmation_timeout_sec")) * time.Second
	st.ConfirmationPoll = ms("confirmation_poll_ms")
	st.SimulatorInterval = ms("simulator_interval_ms")
	st.StrategyCount = v.GetInt("strategy_count")

	st.WatchSchedule = strings.TrimSpace(v.GetString("watch_schedule"))
	st.ExplorerTxURL = strings.TrimSpace(v.GetString("explorer_tx_url"))
	st.LogLevel = strings.ToLower(strings.TrimSpace(v.GetString("log_level")))
	st.LogFormat = strings.ToLower(strings.TrimSpace(v.GetString("log_format")))

	if len(st.RPCURLs) == 0 {
		st.RPCURLs = append([]string(nil), DefaultRPCURLs...)
	}
	if st.ChainID <= 0 {
		st.ChainID = 1
	}
	return st
}

// MaskedKey hides everything but the edges of the configured key.
func (s Settings) MaskedKey() string { return MaskHex(s.PrivateKeyHex) }

func MaskHex(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return "(not set)"
	}
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
