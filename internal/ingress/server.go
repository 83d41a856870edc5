// Package ingress receives fabric events pushed by the control plane and
// publishes them onto the in-process bus. It is the only network entry
// point for message traffic.
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/bus"
)

// secretHeader matches the header the bridge sends outbound
const secretHeader = "X-Fabric-Secret"

// maxBodySize bounds event payloads
const maxBodySize = 64 * 1024

// Config configures the ingress server
type Config struct {
	Host   string
	Port   int
	Secret string
}

// Server accepts pushed fabric events
type Server struct {
	cfg    Config
	bus    *bus.Bus
	logger zerolog.Logger
	http   *http.Server
}

// NewServer creates the ingress server
func NewServer(cfg Config, b *bus.Bus, logger zerolog.Logger) *Server {
	s := &Server{cfg: cfg, bus: b, logger: logger}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/events/message", handleEvent(s, func(ev bus.MessageEvent) { s.bus.PublishMessage(ev) }))
		r.Post("/events/message-deleted", handleEvent(s, func(ev bus.MessageDeletedEvent) { s.bus.PublishMessageDeleted(ev) }))
		r.Post("/events/channel-cleared", handleEvent(s, func(ev bus.ChannelClearedEvent) { s.bus.PublishChannelCleared(ev) }))
		r.Post("/events/membership", handleEvent(s, func(ev bus.MembershipChangedEvent) { s.bus.PublishMembershipChanged(ev) }))
	})

	return r
}

// handleEvent decodes one event payload and publishes it. Delivery to the
// bus is fire-and-forget; the control plane gets a 202 once the event is
// accepted, not once it is processed.
func handleEvent[T any](s *Server, publish func(T)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev T
		body := http.MaxBytesReader(w, r.Body, maxBodySize)
		if err := json.NewDecoder(body).Decode(&ev); err != nil {
			s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Ingress payload rejected")
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		publish(ev)
		w.WriteHeader(http.StatusAccepted)
	}
}

// requireSecret rejects requests without the shared secret when one is
// configured
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Secret != "" {
			provided := r.Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.Secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Ingress server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route tree for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
