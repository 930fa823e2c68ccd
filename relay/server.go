package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// TokenVerifier resolves a counselor token to the counselor id
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Server upgrades HTTP requests to websockets and pumps frames between the
// socket and the Hub.
type Server struct {
	hub      *Hub
	router   *Router
	verifier TokenVerifier
	upgrader websocket.Upgrader
}

// NewServer creates a Server. An empty allowedOrigins accepts any origin.
// verifier may be nil, in which case ?token= is ignored.
func NewServer(hub *Hub, router *Router, verifier TokenVerifier, allowedOrigins []string) *Server {
	return &Server{
		hub:      hub,
		router:   router,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles the websocket upgrade and blocks until the socket closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "error", err)
		return
	}

	p := s.hub.Register()
	if token := r.URL.Query().Get("token"); token != "" && s.verifier != nil {
		if adminID, err := s.verifier.VerifyToken(token); err == nil {
			p.MarkAdmin(adminID)
		} else {
			zap.S().Infow("ignoring invalid websocket token", "participantId", p.ID, "error", err)
		}
	}
	zap.S().Debugw("participant connected", "participantId", p.ID, "admin", p.IsAdmin())

	done := make(chan struct{})
	go func() {
		s.writePump(conn, p)
		close(done)
	}()

	s.readPump(r.Context(), conn, p)

	s.router.disconnected(p)
	s.hub.Unregister(p)
	<-done
	zap.S().Debugw("participant disconnected", "participantId", p.ID)
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, p *Participant) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the request context is cancelled once the handler returns, so handlers
	// get a detached one bound to the connection's lifetime
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Infow("websocket read error", "participantId", p.ID, "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			s.router.reply(p, "", errMalformed)
			continue
		}
		s.router.Dispatch(connCtx, p, env)
	}
}

func (s *Server) writePump(conn *websocket.Conn, p *Participant) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case frame, ok := <-p.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				zap.S().Debugw("websocket write failed", "participantId", p.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
