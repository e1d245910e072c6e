package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/ezmove/internal/auth"
	"github.com/example/ezmove/internal/tracking/domain"
)

// Tracker is the tracking behaviour driven by realtime events.
type Tracker interface {
	Connect(sess domain.Session)
	SubmitLocation(ctx context.Context, sess domain.Session, req domain.LocationSubmit) (bool, error)
	Subscribe(ctx context.Context, sess domain.Session, jobID string) error
	Unsubscribe(sess domain.Session, jobID string)
	Disconnect(sess domain.Session)
}

// Config holds connection tunables.
type Config struct {
	SendBuffer      int
	MaxMessageBytes int64
	EventTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	AllowedOrigins  []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 8192
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Server upgrades authenticated requests to WebSocket sessions and dispatches their events.
type Server struct {
	hub      *Hub
	tracker  Tracker
	authn    *auth.Authenticator
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, tracker Tracker, authn *auth.Authenticator, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Server{
		hub:     hub,
		tracker: tracker,
		authn:   authn,
		cfg:     cfg,
		logger:  logger.Named("realtime"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// ServeHTTP rejects the handshake with 401 unless the request carries a valid access token.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authn.Authenticate(handshakeToken(r))
	if err != nil {
		s.logger.Debug("websocket handshake rejected", zap.Error(err))
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, identity, s.cfg, s.logger)
	if !s.hub.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	client.logger.Info("client connected")
	s.tracker.Connect(client)

	go client.writePump()
	go func() {
		defer func() {
			s.tracker.Disconnect(client)
			s.hub.unregister(client)
			client.close()
			client.logger.Info("client disconnected")
		}()
		client.readPump(s.dispatch)
	}()
}

func (s *Server) dispatch(c *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		_ = c.Emit(domain.EventError, domain.ErrorEvent{Message: domain.MsgInvalidMessage})
		return
	}
	inboundEventsTotal.WithLabelValues(eventLabel(msg.Event)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EventTimeout)
	defer cancel()

	var err error
	switch msg.Event {
	case domain.EventDriverLocation:
		var req domain.LocationSubmit
		if len(msg.Data) > 0 {
			if json.Unmarshal(msg.Data, &req) != nil {
				req = domain.LocationSubmit{}
			}
		}
		_, err = s.tracker.SubmitLocation(ctx, c, req)
	case domain.EventJobTrack:
		err = s.tracker.Subscribe(ctx, c, decodeJobID(msg.Data))
	case domain.EventJobUntrack:
		s.tracker.Unsubscribe(c, decodeJobID(msg.Data))
	default:
		_ = c.Emit(domain.EventError, domain.ErrorEvent{Message: domain.MsgUnknownEvent})
	}
	if err != nil {
		c.logger.Debug("event rejected", zap.String("event", msg.Event), zap.Error(err))
	}
}

// decodeJobID accepts either a bare JSON string or an object with a jobId field.
func decodeJobID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var wrapped struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return strings.TrimSpace(wrapped.JobID)
	}
	return ""
}

func eventLabel(event string) string {
	switch event {
	case domain.EventDriverLocation, domain.EventJobTrack, domain.EventJobUntrack:
		return event
	}
	return "unknown"
}

func handshakeToken(r *http.Request) string {
	if token := auth.TokenFromHeader(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return r.URL.Query().Get("access_token")
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
