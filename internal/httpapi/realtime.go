package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/solwind/snipsync/internal/metrics"
	"github.com/solwind/snipsync/internal/recordstore"
)

const (
	realtimeWriteTimeout = 5 * time.Second
	realtimePingInterval = 30 * time.Second
)

// realtimeHub tracks websocket clients of the change feed so they can be
// closed on shutdown.
type realtimeHub struct {
	logger  *zap.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	clients map[*websocket.Conn]context.CancelFunc
	closed  bool
}

func newRealtimeHub(logger *zap.Logger, m *metrics.Collector) *realtimeHub {
	return &realtimeHub{
		logger:  logger,
		metrics: m,
		clients: map[*websocket.Conn]context.CancelFunc{},
	}
}

func (h *realtimeHub) add(conn *websocket.Conn, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[conn] = cancel
	if h.metrics != nil {
		h.metrics.RealtimeClients.Inc()
	}
	return true
}

func (h *realtimeHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	if h.metrics != nil {
		h.metrics.RealtimeClients.Dec()
	}
}

func (h *realtimeHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.logger.Info("closing realtime clients", zap.Int("clients", len(h.clients)))
	for _, cancel := range h.clients {
		cancel()
	}
}

// handleRealtime streams store change events as JSON text messages. The
// optional collections query parameter restricts the feed.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	wanted := map[string]bool{}
	for _, c := range recordstore.SplitList(r.URL.Query().Get("collections")) {
		wanted[c] = true
	}

	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()
	if !s.hub.add(conn, cancel) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.hub.remove(conn)

	events, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	subject := ""
	if claims, ok := r.Context().Value(claimsKey{}).(tokenClaims); ok {
		subject = claims.Subject
	}
	s.logger.Info("realtime client connected", zap.String("subject", subject))

	ping := time.NewTicker(realtimePingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.hubClosed() {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
			} else {
				conn.Close(websocket.StatusNormalClosure, "")
			}
			s.logger.Info("realtime client disconnected", zap.String("subject", subject))
			return
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "store closed")
				return
			}
			if len(wanted) > 0 && !wanted[evt.Collection] {
				continue
			}
			if err := s.writeEvent(ctx, conn, evt); err != nil {
				s.logger.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, realtimeWriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, evt recordstore.ChangeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, realtimeWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, evt)
}

func (s *Server) hubClosed() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.closed
}
