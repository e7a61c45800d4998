package control

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/pdsaudio/voicebridge/internal/observe"
)

// Server upgrades HTTP requests to WebSocket connections and pumps the
// request/response loop for each one. Connections are independent: a slow
// speech request on one does not stall another.
type Server struct {
	handler *Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewServer creates a Server around the given handler.
func NewServer(h *Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{handler: h, metrics: metrics, log: log}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The control channel is bound to localhost for the local UI;
		// origin enforcement happens at the listener, not here.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection handler exited")

	ctx := r.Context()
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(ctx, -1)
	s.log.Info("control connection opened", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.Info("control connection closed", "remote", r.RemoteAddr)
			} else {
				s.log.Warn("control connection read failed", "error", err, "remote", r.RemoteAddr)
			}
			return
		}
		if typ != websocket.MessageText {
			if err := conn.Write(ctx, websocket.MessageText, errorResponse("", "binary frames are not supported")); err != nil {
				return
			}
			continue
		}

		resp := s.handler.Handle(ctx, data)
		if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
			s.log.Warn("control connection write failed", "error", err, "remote", r.RemoteAddr)
			return
		}
	}
}
