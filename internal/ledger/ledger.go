// Package ledger keeps the simulated strategy book. None of its figures exist on chain.
package ledger

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type protocol struct {
	name string
	apy  float64
}

// Base APYs in percent, before boost and leverage.
var protocols = []protocol{
	{"uniswap", 45.8},
	{"gmx", 32.1},
	{"pendle", 28.6},
	{"convex", 22.4},
	{"eigenlayer", 19.2},
	{"balancer", 18.3},
	{"yearn", 15.7},
	{"curve", 12.5},
	{"morpho", 11.9},
	{"aave", 8.2},
}

const (
	AIBoost            = 2.8
	LeverageMultiplier = 4.5
	MEVExtraction      = 1200.0
	CrossChainArb      = 800.0

	DefaultStrategies = 450
	mevRows           = 50
	mevChance         = 0.05
)

type Strategy struct {
	ID               int     `json:"id"`
	Protocol         string  `json:"protocol"`
	Name             string  `json:"name"`
	APY              float64 `json:"apy"`
	EarningPerSecond float64 `json:"earningPerSecond"`
	PnL              float64 `json:"pnl"`
	IsActive         bool    `json:"isActive"`
}

type TradingState struct {
	IsActive           bool
	TotalEarned        float64
	TotalTrades        int64
	FlashLoansExecuted int64
	StartTime          time.Time
	LastTradeTime      time.Time
	HourlyRate         float64
	GasUsed            float64
}

// Summary is a consistent snapshot of the book.
type Summary struct {
	TradingState
	Strategies  int
	TotalPnL    float64
	AvgAPY      float64
	TopAPY      float64
	TopStrategy string
	Hourly      float64
	Daily       float64
	Uptime      time.Duration
}

type FlashLoan struct {
	AmountETH float64
	ProfitUSD float64
	ProfitETH float64
	Total     int64
}

type Options struct {
	Strategies int
	Rand       *rand.Rand
	Now        func() time.Time
}

type Ledger struct {
	mu    sync.Mutex
	rows  []Strategy
	state TradingState
	rnd   *rand.Rand
	now   func() time.Time
}

func New(opts Options) *Ledger {
	if opts.Strategies <= 0 {
		opts.Strategies = DefaultStrategies
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{rnd: opts.Rand, now: opts.Now}
	l.rows = generate(opts.Strategies, l.rnd)
	l.state = TradingState{IsActive: true, StartTime: l.now()}
	l.state.TotalEarned = l.total()
	return l
}

func generate(n int, rnd *rand.Rand) []Strategy {
	rows := make([]Strategy, 0, n)
	for i := 0; i < n; i++ {
		p := protocols[i%len(protocols)]
		apy := p.apy * AIBoost * LeverageMultiplier
		rows = append(rows, Strategy{
			ID:               i + 1,
			Protocol:         p.name,
			Name:             strings.ToUpper(p.name) + " Strategy #" + strconv.Itoa(i+1),
			APY:              apy,
			EarningPerSecond: apy / 365 / 24 / 3600 * 100,
			PnL:              rnd.Float64()*1000 + 500,
			IsActive:         true,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].APY > rows[j].APY })
	return rows
}

// Tick accrues one simulator step. It reports false and changes nothing while trading is off.
func (l *Ledger) Tick() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsActive {
		return false
	}

	n := float64(len(l.rows))
	var active int64
	for i := range l.rows {
		s := &l.rows[i]
		if !s.IsActive {
			continue
		}
		active++
		bonus := 1 + 0.1*(n-float64(i))/n
		s.PnL += s.EarningPerSecond*bonus + l.rnd.Float64()*0.5
		if i < mevRows && l.rnd.Float64() < mevChance {
			s.PnL += MEVExtraction / mevRows * bonus
		}
	}

	now := l.now()
	l.state.TotalEarned = l.total()
	l.state.TotalTrades += active
	l.state.LastTradeTime = now
	if h := now.Sub(l.state.StartTime).Hours(); h > 0 {
		l.state.HourlyRate = l.state.TotalEarned / h
	}
	return true
}

// Credit spreads usd evenly across every row.
func (l *Ledger) Credit(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(usd)
}

func (l *Ledger) credit(usd float64) {
	if len(l.rows) == 0 || usd <= 0 {
		return
	}
	share := usd / float64(len(l.rows))
	for i := range l.rows {
		l.rows[i].PnL += share
	}
	l.state.TotalEarned = l.total()
}

// Debit takes usd evenly from every row; a row never drops below zero.
func (l *Ledger) Debit(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rows) == 0 || usd <= 0 {
		return
	}
	share := usd / float64(len(l.rows))
	for i := range l.rows {
		l.rows[i].PnL = max(0, l.rows[i].PnL-share)
	}
	l.state.TotalEarned = l.total()
}

func (l *Ledger) AddGasUsed(eth float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.GasUsed += eth
}

// ExecuteFlashLoan books a simulated profit of 0.2%–0.5% of amountETH at priceUSD.
func (l *Ledger) ExecuteFlashLoan(amountETH, priceUSD float64) FlashLoan {
	l.mu.Lock()
	defer l.mu.Unlock()
	pct := 0.002 + l.rnd.Float64()*0.003
	profit := amountETH * pct * priceUSD
	l.credit(profit)
	l.state.FlashLoansExecuted++

	fl := FlashLoan{AmountETH: amountETH, ProfitUSD: profit, Total: l.state.FlashLoansExecuted}
	if priceUSD > 0 {
		fl.ProfitETH = profit / priceUSD
	}
	return fl
}

func (l *Ledger) SetActive(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.IsActive = on
}

func (l *Ledger) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.IsActive
}

func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{TradingState: l.state, Strategies: len(l.rows)}
	s.TotalPnL = l.total()
	if len(l.rows) > 0 {
		var apy float64
		for _, r := range l.rows {
			apy += r.APY
		}
		s.AvgAPY = apy / float64(len(l.rows))
		s.TopAPY = l.rows[0].APY
		s.TopStrategy = l.rows[0].Name
	}
	s.Uptime = l.now().Sub(l.state.StartTime)
	if h := s.Uptime.Hours(); h > 0 {
		s.Hourly = s.TotalPnL / h
		s.Daily = s.Hourly * 24
	}
	return s
}

// Top returns a copy of the first n rows in APY order.
func (l *Ledger) Top(n int) []Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.rows) {
		n = len(l.rows)
	}
	return append([]Strategy(nil), l.rows[:n]...)
}

func (l *Ledger) Find(id int) (Strategy, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if r.ID == id {
			return r, true
		}
	}
	return Strategy{}, false
}

func (l *Ledger) total() float64 {
	var t float64
	for _, r := range l.rows {
		t += r.PnL
	}
	return t
}
