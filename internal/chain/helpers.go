package chain

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"unicode/utf8"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var weiPerETH = big.NewInt(1_000_000_000_000_000_000)

// Parse hex ECDSA private key (with / without 0x or 0X).
func hexToECDSAPriv(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && h[0] == '0' && (h[1] == 'x' || h[1] == 'X') {
		h = strings.TrimSpace(h[2:])
	}
	if len(h) == 0 {
		return nil, ErrNoPrivateKey
	}
	prv, err := gethcrypto.HexToECDSA(h)
	if err != nil {
		return nil, errors.New("bad private key")
	}
	return prv, nil
}

func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, big.NewInt(1_000_000_000))
}

// ETHToWei converts a decimal ETH amount; digits past 18 decimals are truncated.
func ETHToWei(eth decimal.Decimal) *big.Int {
	return eth.Shift(18).Truncate(0).BigInt()
}

// FloatETHToWei is for configured thresholds only, never for user input.
func FloatETHToWei(eth float64) *big.Int {
	return ETHToWei(decimal.NewFromFloat(eth))
}

// WeiToETH returns the amount as a float for display math.
func WeiToETH(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(x, -18).Float64()
	return f
}

// Human-readable helpers (ETH/gwei).
func FormatETH(x *big.Int) string {
	if x == nil {
		return "0.000000"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), weiPerETH)
	return r.FloatString(6)
}

func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000))
	return r.FloatString(2)
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
