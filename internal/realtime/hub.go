package realtime

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connected_clients",
		Help: "Open WebSocket sessions.",
	})
	droppedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_messages_total",
		Help: "Messages dropped because a client send buffer was full.",
	})
	inboundEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_inbound_events_total",
		Help: "Client events received by name.",
	}, []string{"event"})
)

// Hub tracks live clients so they can be closed together on shutdown.
type Hub struct {
	logger *zap.Logger

	mu       sync.Mutex
	clients  map[*Client]struct{}
	shutdown bool
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger.Named("hub"), clients: make(map[*Client]struct{})}
}

// register returns false once the hub is shutting down.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.clients[c] = struct{}{}
	connectedClients.Inc()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		connectedClients.Dec()
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RunWithContext blocks until ctx is done, then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.shutdown = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("hub stopped", zap.Int("closed_clients", len(clients)))
	return ctx.Err()
}

// Serve satisfies suture.Service.
func (h *Hub) Serve(ctx context.Context) error { return h.RunWithContext(ctx) }

func (h *Hub) String() string { return "realtime-hub" }
