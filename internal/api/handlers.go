package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/ledger"
	"github.com/ligun0805/yield-desk/internal/withdraw"
)

const (
	liveStrategyRows = 50
	sortOrder        = "APY_DESCENDING"
	isoMillis        = "2006-01-02T15:04:05.000Z07:00"
)

func fixed(x float64, dp int) string { return strconv.FormatFloat(x, 'f', dp, 64) }

func now() string { return time.Now().UTC().Format(isoMillis) }

// treasury reports what the connected account holds without ever starting discovery.
// A nil balance means unknown, not empty.
func (s *Server) treasury(ctx context.Context) (address string, balance *big.Int) {
	_, acct := s.wallet.Peek()
	if acct == nil {
		return s.cfg.TreasuryWallet, nil
	}
	address = acct.Address().Hex()
	bal, err := acct.Balance(ctx, acct.Address())
	if err != nil {
		s.logger.Warn("treasury balance unavailable", zap.Error(err))
		return address, nil
	}
	return address, bal
}

func (s *Server) gasOK(bal *big.Int) bool {
	return bal != nil && chain.WeiToETH(bal) >= s.cfg.MinGasETH
}

func balanceFields(bal *big.Int, price float64) (eth, usd any) {
	if bal == nil {
		return nil, nil
	}
	f := chain.WeiToETH(bal)
	return chain.FormatETH(bal), fixed(f*price, 2)
}

func (s *Server) handleIndex(c *gin.Context) {
	get := gin.H{
		"/":                         "API documentation",
		"/status":                   "System status and wallet info",
		"/health":                   "Health check",
		"/balance":                  "Treasury balance",
		"/earnings":                 "Current earnings summary (simulated)",
		"/api/apex/strategies/live": "Live strategy data with PnL (simulated)",
		"/metrics":                  "Prometheus metrics",
		"/ws/strategies":            "Websocket feed of live strategy data (simulated)",
	}
	post := gin.H{
		"/execute":                  "Execute flash loan (simulated)",
		"/fund-from-earnings":       "Recycle earnings to gas (simulated)",
		"/api/strategy/:id/execute": "Execute specific strategy (simulated)",
	}
	for i, p := range withdrawPaths {
		if i == 0 {
			post[p] = "Withdraw ETH to address"
			continue
		}
		post[p] = "Alias for /withdraw"
	}

	c.JSON(http.StatusOK, gin.H{
		"name":            serviceName,
		"status":          "online",
		"feeRecipient":    s.cfg.FeeRecipient,
		"treasuryWallet":  s.cfg.TreasuryWallet,
		"minGasRequired":  strconv.FormatFloat(s.cfg.MinGasETH, 'f', -1, 64) + " ETH",
		"flashLoanAmount": strconv.FormatFloat(s.cfg.FlashLoanAmountETH, 'f', -1, 64) + " ETH",
		"totalStrategies": s.ledger.Summary().Strategies,
		"simulated":       true,
		"endpoints":       gin.H{"GET": get, "POST": post},
		"timestamp":       now(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	address, bal := s.treasury(c.Request.Context())
	sum := s.ledger.Summary()
	balETH, balUSD := balanceFields(bal, s.cfg.ETHPriceUSD)

	blockchain := "disconnected"
	var rpcURL any
	if ep, _ := s.wallet.Peek(); ep != nil {
		blockchain = "connected"
		rpcURL = ep.URL
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "online",
		"trading":            sum.IsActive,
		"blockchain":         blockchain,
		"rpc":                rpcURL,
		"treasuryWallet":     address,
		"treasuryBalance":    balETH,
		"treasuryBalanceUSD": balUSD,
		"canTrade":           s.gasOK(bal),
		"minGasRequired":     s.cfg.MinGasETH,
		"recommendedGas":     s.cfg.RecommendedGasETH,
		"feeRecipient":       s.cfg.FeeRecipient,
		"flashLoanAmount":    s.cfg.FlashLoanAmountETH,
		"totalStrategies":    sum.Strategies,
		"sortedBy":           sortOrder,
		"topStrategy":        sum.TopStrategy,
		"topAPY":             fixed(sum.TopAPY, 1) + "%",
		"totalEarned":        fixed(sum.TotalPnL, 2),
		"hourlyRate":         fixed(sum.Hourly, 2),
		"flashLoansExecuted": sum.FlashLoansExecuted,
		"gasUsedETH":         fixed(sum.GasUsed, 6),
		"simulated":          true,
		"uptime":             int64(time.Since(s.started).Seconds()),
		"timestamp":          now(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	_, bal := s.treasury(c.Request.Context())
	sum := s.ledger.Summary()
	balETH, _ := balanceFields(bal, s.cfg.ETHPriceUSD)

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"trading":         sum.IsActive,
		"strategies":      sum.Strategies,
		"sortOrder":       sortOrder,
		"topStrategy":     sum.TopStrategy,
		"feeRecipient":    s.cfg.FeeRecipient,
		"treasuryWallet":  s.cfg.TreasuryWallet,
		"treasuryBalance": balETH,
		"gasOK":           s.gasOK(bal),
		"uptime":          time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleBalance(c *gin.Context) {
	ctx := c.Request.Context()
	acct, err := s.wallet.Account(ctx)
	if err != nil {
		s.respondError(c, &withdraw.NotConfiguredError{
			Treasury: s.cfg.TreasuryWallet,
			Hint:     s.pipeline.FundingHint(""),
			Err:      err,
		}, msgWallet)
		return
	}

	bal, err := acct.Balance(ctx, acct.Address())
	if err != nil {
		s.respondError(c, err, msgWallet)
		return
	}
	eth := chain.WeiToETH(bal)
	c.JSON(http.StatusOK, gin.H{
		"treasuryWallet": acct.Address().Hex(),
		"balance":        chain.FormatETH(bal),
		"balanceWei":     bal.String(),
		"balanceUSD":     fixed(eth*s.cfg.ETHPriceUSD, 2),
		"feeRecipient":   s.cfg.FeeRecipient,
		"canTrade":       s.gasOK(bal),
		"canWithdraw":    s.gasOK(bal),
		"minGasRequired": s.cfg.MinGasETH,
		"recommendedGas": s.cfg.RecommendedGasETH,
	})
}

func (s *Server) handleEarnings(c *gin.Context) {
	_, bal := s.treasury(c.Request.Context())
	sum := s.ledger.Summary()
	balETH, _ := balanceFields(bal, s.cfg.ETHPriceUSD)

	c.JSON(http.StatusOK, gin.H{
		"totalEarned":        fixed(sum.TotalPnL, 2),
		"totalEarnedETH":     fixed(sum.TotalPnL/s.cfg.ETHPriceUSD, 6),
		"hourlyRate":         fixed(sum.Hourly, 2),
		"dailyRate":          fixed(sum.Daily, 2),
		"avgAPY":             fixed(sum.AvgAPY, 1),
		"totalTrades":        sum.TotalTrades,
		"flashLoansExecuted": sum.FlashLoansExecuted,
		"gasUsedETH":         fixed(sum.GasUsed, 6),
		"uptime":             sum.Uptime.Milliseconds(),
		"isActive":           sum.IsActive,
		"feeRecipient":       s.cfg.FeeRecipient,
		"treasuryWallet":     s.cfg.TreasuryWallet,
		"treasuryBalance":    balETH,
		"canWithdraw":        s.gasOK(bal),
		"simulated":          true,
	})
}

func (s *Server) handleLiveStrategies(c *gin.Context) {
	_, bal := s.treasury(c.Request.Context())
	sum := s.ledger.Summary()
	balETH, _ := balanceFields(bal, s.cfg.ETHPriceUSD)

	c.JSON(http.StatusOK, gin.H{
		"strategies":         s.ledger.Top(liveStrategyRows),
		"totalPnL":           fixed(sum.TotalPnL, 2),
		"avgAPY":             fixed(sum.AvgAPY, 1),
		"topAPY":             fixed(sum.TopAPY, 1),
		"projectedHourly":    fixed(sum.Hourly, 2),
		"projectedDaily":     fixed(sum.Daily, 2),
		"mevBonus":           ledger.MEVExtraction,
		"arbBonus":           ledger.CrossChainArb,
		"sortOrder":          sortOrder,
		"totalTrades":        sum.TotalTrades,
		"flashLoansExecuted": sum.FlashLoansExecuted,
		"isActive":           sum.IsActive,
		"feeRecipient":       s.cfg.FeeRecipient,
		"treasuryWallet":     s.cfg.TreasuryWallet,
		"treasuryBalance":    balETH,
		"minGasRequired":     s.cfg.MinGasETH,
		"flashLoanAmount":    s.cfg.FlashLoanAmountETH,
		"simulated":          true,
	})
}

// readBody returns the raw request body. It answers 413 itself when the body is over the limit.
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":      "Request body too large",
			"code":       ErrCodePayloadTooLarge,
			"limit":      tooLarge.Limit,
			"request_id": c.GetString("request_id"),
		})
		return nil, false
	}
	// an unreadable body is treated like an empty one
	return body, true
}

func (s *Server) handleWithdraw(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	rcpt, err := s.pipeline.Withdraw(c.Request.Context(), withdraw.ParseRequest(body))
	if err != nil {
		s.respondError(c, err, msgBackendWallet)
		return
	}

	amount, _ := rcpt.Amount.Float64()
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"txHash":       rcpt.TxHash.Hex(),
		"from":         rcpt.From.Hex(),
		"to":           rcpt.To.Hex(),
		"amount":       amount,
		"blockNumber":  rcpt.BlockNumber,
		"gasPriceGwei": chain.FormatGwei(rcpt.GasPrice),
		"etherscanUrl": rcpt.ExplorerURL,
	})
}

func (s *Server) handleExecute(c *gin.Context) {
	if _, _, err := s.pipeline.EnsureGas(c.Request.Context()); err != nil {
		s.respondError(c, err, msgWallet)
		return
	}

	fl := s.ledger.ExecuteFlashLoan(s.cfg.FlashLoanAmountETH, s.cfg.ETHPriceUSD)
	s.metrics.IncFlashLoans()
	s.logger.Info("flash loan executed (simulated)",
		zap.Float64("amount_eth", fl.AmountETH),
		zap.String("profit_usd", fixed(fl.ProfitUSD, 2)))

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"simulated":       true,
		"flashLoanAmount": fl.AmountETH,
		"profitUSD":       fixed(fl.ProfitUSD, 2),
		"profitETH":       fixed(fl.ProfitETH, 6),
		"feeRecipient":    s.cfg.FeeRecipient,
		"totalFlashLoans": fl.Total,
		"message":         "Flash loan executed successfully",
	})
}

// positive returns the first of values that parses as a positive number.
func positive(values ...gjson.Result) (decimal.Decimal, bool) {
	for _, v := range values {
		if !v.Exists() {
			continue
		}
		d, err := decimal.NewFromString(v.String())
		if err == nil && d.IsPositive() {
			return d, true
		}
	}
	return decimal.Zero, false
}

func (s *Server) handleFundFromEarnings(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	r := gjson.ParseBytes(body)
	price := decimal.NewFromFloat(s.cfg.ETHPriceUSD)

	eth, ok := positive(r.Get("amountETH"))
	if !ok {
		if usd, ok := positive(r.Get("amountUSD")); ok && price.IsPositive() {
			eth = usd.Div(price)
		} else {
			eth = decimal.NewFromFloat(0.01)
		}
	}
	usd := eth.Mul(price)
	usdF, _ := usd.Float64()
	s.ledger.Debit(usdF)
	s.logger.Info("earnings recycled to gas (simulated)", zap.String("eth", eth.StringFixed(6)), zap.String("usd", usd.StringFixed(2)))

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"simulated":      true,
		"recycledETH":    eth.StringFixed(6),
		"recycledUSD":    usd.StringFixed(2),
		"treasuryWallet": s.cfg.TreasuryWallet,
		"message":        "Earnings recycled to gas fund",
	})
}

func (s *Server) handleStrategyExecute(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Strategy not found", "code": ErrCodeInvalidID})
		return
	}
	st, ok := s.ledger.Find(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Strategy not found", "code": ErrCodeStrategyNotFound})
		return
	}

	var b [32]byte
	_, _ = rand.Read(b[:])
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"simulated":    true,
		"strategyId":   st.ID,
		"strategyName": st.Name,
		"apy":          st.APY,
		"txHash":       "0x" + hex.EncodeToString(b[:]),
	})
}
