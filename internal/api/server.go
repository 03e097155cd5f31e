// Package api exposes the treasury and the simulated strategy book over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/config"
	"github.com/ligun0805/yield-desk/internal/ledger"
	"github.com/ligun0805/yield-desk/internal/metrics"
	"github.com/ligun0805/yield-desk/internal/monitor"
	"github.com/ligun0805/yield-desk/internal/withdraw"
)

const serviceName = "Yield Desk Treasury Backend"

// Wallet is the connection side of the treasury. *chain.Manager implements it.
type Wallet interface {
	Account(ctx context.Context) (*chain.Account, error)
	Peek() (*chain.Endpoint, *chain.Account)
}

type Deps struct {
	Settings config.Settings
	Wallet   Wallet
	Pipeline *withdraw.Pipeline
	Ledger   *ledger.Ledger
	Watcher  *monitor.Watcher // optional
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// FeedInterval is the websocket push period; 2s when zero.
	FeedInterval time.Duration
}

type Server struct {
	cfg      config.Settings
	wallet   Wallet
	pipeline *withdraw.Pipeline
	ledger   *ledger.Ledger
	watcher  *monitor.Watcher
	metrics  *metrics.Metrics
	logger   *zap.Logger

	feedInterval time.Duration
	started      time.Time
	router       *gin.Engine

	quit     chan struct{}
	quitOnce sync.Once
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.FeedInterval <= 0 {
		d.FeedInterval = 2 * time.Second
	}
	s := &Server{
		cfg:          d.Settings,
		wallet:       d.Wallet,
		pipeline:     d.Pipeline,
		ledger:       d.Ledger,
		watcher:      d.Watcher,
		metrics:      d.Metrics,
		logger:       d.Logger.With(zap.String("component", "api")),
		feedInterval: d.FeedInterval,
		started:      time.Now(),
		quit:         make(chan struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Close ends open websocket feeds. HTTP draining is up to the http.Server.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

var withdrawPaths = []string{"/withdraw", "/send-eth", "/coinbase-withdraw", "/transfer"}

var availableEndpoints = []string{
	"/", "/status", "/health", "/balance", "/earnings", "/api/apex/strategies/live",
	"/withdraw", "/execute", "/fund-from-earnings", "/metrics", "/ws/strategies",
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(Logger(s.logger))
	r.Use(Metrics(s.metrics))
	r.Use(CORS([]string{"*"}))
	r.Use(Recovery(s.logger))
	r.Use(RequestSizeLimit(MaxRequestSize))

	r.GET("/", s.handleIndex)
	r.GET("/status", s.handleStatus)
	r.GET("/health", s.handleHealth)
	r.GET("/balance", s.handleBalance)
	r.GET("/earnings", s.handleEarnings)
	r.GET("/api/apex/strategies/live", s.handleLiveStrategies)

	for _, p := range withdrawPaths {
		r.POST(p, s.handleWithdraw)
	}
	r.POST("/execute", s.handleExecute)
	r.POST("/fund-from-earnings", s.handleFundFromEarnings)
	r.POST("/api/strategy/:id/execute", s.handleStrategyExecute)

	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/ws/strategies", s.handleFeed)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":              "Not found",
			"code":               ErrCodeNotFound,
			"path":               c.Request.URL.Path,
			"availableEndpoints": availableEndpoints,
		})
	})
	return r
}
