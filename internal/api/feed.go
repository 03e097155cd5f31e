package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/chain"
)

const (
	feedRows     = 10
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleFeed pushes a ledger snapshot right away and then every feed interval.
func (s *Server) handleFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(s.feedFrame())
	}
	if err := send(); err != nil {
		return
	}

	t := time.NewTicker(s.feedInterval)
	defer t.Stop()
	for {
		select {
		case <-gone:
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-t.C:
			if err := send(); err != nil {
				s.logger.Debug("websocket feed closed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) feedFrame() gin.H {
	sum := s.ledger.Summary()
	frame := gin.H{
		"type":               "strategies",
		"simulated":          true,
		"totalPnL":           fixed(sum.TotalPnL, 2),
		"projectedHourly":    fixed(sum.Hourly, 2),
		"totalTrades":        sum.TotalTrades,
		"flashLoansExecuted": sum.FlashLoansExecuted,
		"isActive":           sum.IsActive,
		"strategies":         s.ledger.Top(feedRows),
		"timestamp":          now(),
	}
	if s.watcher != nil {
		if snap, ok := s.watcher.Last(); ok {
			frame["treasury"] = gin.H{
				"address":   snap.Address.Hex(),
				"balance":   chain.FormatETH(snap.Balance),
				"gasOK":     snap.GasOK,
				"checkedAt": snap.CheckedAt.UTC().Format(isoMillis),
			}
		}
	}
	return frame
}
