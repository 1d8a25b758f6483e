// Package api is the gateway's HTTP boundary: the send and health contract,
// plus status, delivery log and a WebSocket live feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/config"
	"github.com/broadcastio/wagateway/pkg/delivery"
	"github.com/broadcastio/wagateway/pkg/logger"
	"github.com/broadcastio/wagateway/pkg/send"
	"github.com/broadcastio/wagateway/pkg/session"
)

// timestampLayout matches the millisecond ISO-8601 form clients parse.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SessionView is the read side of the session manager.
type SessionView interface {
	IsReady() bool
	Snapshot() session.Snapshot
}

// Sender runs a send request to an outcome.
type Sender interface {
	Send(ctx context.Context, req send.Request) send.Outcome
}

// DeliveryLog serves the delivery history endpoints.
type DeliveryLog interface {
	List(ctx context.Context, f delivery.ListFilter) ([]delivery.Delivery, error)
	Stats(ctx context.Context) (delivery.Stats, error)
	Health() error
}

// deliveryStatus is the deliveries block of /status.
type deliveryStatus struct {
	delivery.Stats
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Server is the HTTP API server for the gateway.
type Server struct {
	config      *config.Config
	session     SessionView
	sender      Sender
	deliveries  DeliveryLog
	messageBus  *bus.MessageBus
	wsHub       *WSHub
	eventBridge *EventBridge
	startTime   time.Time
	server      *http.Server
	mu          sync.RWMutex
}

// NewServer creates a new API server instance. deliveries and msgBus may be nil.
func NewServer(
	cfg *config.Config,
	sess SessionView,
	sender Sender,
	deliveries DeliveryLog,
	msgBus *bus.MessageBus,
) *Server {
	s := &Server{
		config:     cfg,
		session:    sess,
		sender:     sender,
		deliveries: deliveries,
		messageBus: msgBus,
		startTime:  time.Now(),
	}
	s.wsHub = NewWSHub(s)
	if msgBus != nil {
		s.eventBridge = NewEventBridge(msgBus, s.wsHub)
	}
	return s
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /deliveries", s.handleDeliveries)

	// WebSocket for live events
	mux.HandleFunc("GET /ws", s.wsHub.HandleWebSocket)

	return corsMiddleware(s.config.Gateway.AllowedOrigins,
		authMiddleware(s.config.Gateway.APIKey, mux))
}

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// sends may legitimately wait up to the send timeout
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.config.WhatsApp.SendTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	logger.InfoCF("api", "Gateway API server starting", map[string]interface{}{
		"addr": addr,
	})

	s.startFeed(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// startFeed runs the WebSocket hub and the bus bridge feeding it.
func (s *Server) startFeed(ctx context.Context) {
	go s.wsHub.Run(ctx)
	if s.eventBridge != nil {
		s.eventBridge.Run(ctx)
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && isAllowedOrigin(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks origin against the configured list.
func isAllowedOrigin(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":  send.Provider,
		"ready":     s.session.IsReady(),
		"timestamp": time.Now().UTC().Format(timestampLayout),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	snap := s.session.Snapshot()

	status := map[string]interface{}{
		"provider":       send.Provider,
		"session":        snap,
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"checked_at":     time.Now().UTC().Format(timestampLayout),
	}

	if s.deliveries != nil {
		ds := deliveryStatus{Healthy: true}
		if err := s.deliveries.Health(); err != nil {
			ds.Healthy = false
			ds.Error = err.Error()
		} else if st, err := s.deliveries.Stats(r.Context()); err != nil {
			logger.WarnCF("api", "Delivery stats unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			ds.Error = err.Error()
		} else {
			ds.Stats = st
		}
		status["deliveries"] = ds
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "delivery log disabled"})
		return
	}

	q := r.URL.Query()
	filter := delivery.ListFilter{
		ReferenceID: q.Get("reference_id"),
		Recipient:   q.Get("recipient"),
		FailedOnly:  q.Get("failed") == "true",
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	list, err := s.deliveries.List(r.Context(), filter)
	if err != nil {
		logger.ErrorCF("api", "Failed to list deliveries", map[string]interface{}{
			"error": err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
