package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sensorhub/internal/metrics"
	"sensorhub/internal/router"
	"sensorhub/internal/session"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the deployment domain is fixed.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Options carries the per-connection tunables.
type Options struct {
	// DeviationTolerance is the alert threshold fraction for new sessions.
	DeviationTolerance float64
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration
	// WriteBuffer is the per-connection outbound queue length.
	WriteBuffer int
}

// Handler upgrades viewer requests and runs one read loop per connection.
type Handler struct {
	router  *router.Router
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewHandler creates the upgrade handler.
func NewHandler(rt *router.Router, opts Options, log *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{router: rt, opts: opts, log: log, metrics: m}
}

// HandleWebSocket upgrades the request and serves the session until the
// transport drops or the viewer sends a close command.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(raw, h.opts.WriteTimeout, h.opts.WriteBuffer)
	sess := session.New(uuid.New().String(), conn, h.opts.DeviationTolerance)

	h.metrics.ActiveSessions.Inc()
	h.log.Info("session connected",
		zap.String("session", sess.ID()),
		zap.String("remote", r.RemoteAddr))

	go h.serve(conn, sess)
}

// serve is the read pump: heartbeat bookkeeping plus one router call per
// inbound message. Commands are handled strictly in arrival order.
func (h *Handler) serve(conn *Connection, sess *session.Session) {
	defer func() {
		h.router.Teardown(sess)
		_ = conn.Close()
		h.metrics.ActiveSessions.Dec()
		h.log.Info("session disconnected", zap.String("session", sess.ID()))
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.Context().Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read failed",
					zap.String("session", sess.ID()),
					zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.router.Handle(conn.Context(), sess, data)
	}
}
