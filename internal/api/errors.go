package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/withdraw"
)

// Error codes returned next to the human message.
const (
	ErrCodeInvalidAmount       = "INVALID_AMOUNT"
	ErrCodeInvalidAddress      = "INVALID_ADDRESS"
	ErrCodeInvalidID           = "INVALID_ID"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeInsufficientGas     = "INSUFFICIENT_GAS"
	ErrCodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ErrCodeWalletNotConfigured = "WALLET_NOT_CONFIGURED"
	ErrCodeWithdrawalFailed    = "WITHDRAWAL_FAILED"
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeStrategyNotFound    = "STRATEGY_NOT_FOUND"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

const (
	msgBackendWallet = "Backend wallet not configured"
	msgWallet        = "Wallet not configured"
)

// respondError maps a treasury error to its status and body. walletMsg names the
// unconfigured-wallet case the way the calling endpoint describes it.
func (s *Server) respondError(c *gin.Context, err error, walletMsg string) {
	status, body := s.errorBody(err, walletMsg)
	body["request_id"] = c.GetString("request_id")
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func (s *Server) errorBody(err error, walletMsg string) (int, gin.H) {
	var (
		gasErr    *withdraw.InsufficientGasError
		balErr    *withdraw.InsufficientBalanceError
		notConfig *withdraw.NotConfiguredError
		failed    *withdraw.FailedError
	)

	switch {
	case errors.Is(err, withdraw.ErrInvalidAmount):
		return http.StatusBadRequest, gin.H{"error": "Invalid amount", "code": ErrCodeInvalidAmount}

	case errors.Is(err, withdraw.ErrInvalidAddress):
		return http.StatusBadRequest, gin.H{"error": "Invalid address", "code": ErrCodeInvalidAddress}

	case errors.As(err, &gasErr):
		return http.StatusBadRequest, gin.H{
			"error":              "Treasury needs gas funding",
			"code":               ErrCodeInsufficientGas,
			"treasuryWallet":     gasErr.Treasury,
			"currentBalance":     chain.FormatETH(gasErr.Current),
			"minRequired":        s.cfg.MinGasETH,
			"recommendedDeposit": s.cfg.RecommendedGasETH,
			"hint":               gasErr.Hint,
		}

	case errors.As(err, &balErr):
		return http.StatusBadRequest, gin.H{
			"error":           "Insufficient treasury balance for this withdrawal",
			"code":            ErrCodeInsufficientFunds,
			"treasuryBalance": chain.FormatETH(balErr.Balance),
			"requestedAmount": chain.WeiToETH(balErr.Requested),
			"gasReserve":      chain.WeiToETH(balErr.Reserve),
			"maxWithdrawable": chain.FormatETH(balErr.MaxWithdrawable),
		}

	case errors.As(err, &notConfig):
		body := gin.H{
			"error":          walletMsg,
			"code":           ErrCodeWalletNotConfigured,
			"treasuryWallet": notConfig.Treasury,
			"hint":           notConfig.Hint,
		}
		if errors.Is(err, chain.ErrNoPrivateKey) {
			body["hint"] = "Set TREASURY_PRIVATE_KEY env var"
		}
		return http.StatusInternalServerError, body

	case errors.As(err, &failed):
		body := gin.H{
			"error":          failed.Err.Error(),
			"code":           ErrCodeWithdrawalFailed,
			"treasuryWallet": s.cfg.TreasuryWallet,
			"feeRecipient":   s.cfg.FeeRecipient,
			"hint":           failed.Hint,
		}
		if failed.TxHash != "" {
			body["txHash"] = failed.TxHash
		}
		return http.StatusInternalServerError, body

	case errors.Is(err, chain.ErrNetwork):
		return http.StatusInternalServerError, gin.H{"error": err.Error(), "code": ErrCodeNetworkError}
	}
	return http.StatusInternalServerError, gin.H{"error": err.Error(), "code": ErrCodeInternalError}
}
