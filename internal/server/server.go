// Package server exposes the lead webhooks and the leads API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

// Ingester runs one event through the intake pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*model.IngestResult, error)
}

// LeadStore is the read/update surface the leads API needs.
type LeadStore interface {
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	UpdateLeadStatus(ctx context.Context, leadID string, from, to model.LeadStatus) error
	ListNotifications(ctx context.Context, tenantID string, limit int) ([]model.Notification, error)
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers' dependencies.
type Server struct {
	ingester Ingester
	leads    LeadStore
	webhooks config.WebhooksConfig
	cfg      config.ServerConfig
}

// New creates a Server.
func New(ingester Ingester, leads LeadStore, webhooks config.WebhooksConfig, cfg config.ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RequestTimeoutSecs <= 0 {
		cfg.RequestTimeoutSecs = 30
	}
	return &Server{ingester: ingester, leads: leads, webhooks: webhooks, cfg: cfg}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(s.cfg.RequestTimeoutSecs) * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(s.cfg.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/meta/{tenantID}", s.handleVerify)
		r.Get("/facebook/{tenantID}", s.handleVerify)
		r.Post("/meta/{tenantID}", s.handleWebhook(model.SourceMetaAds))
		r.Post("/facebook/{tenantID}", s.handleWebhook(model.SourceFacebookLeadAds))
		r.Post("/google/{tenantID}", s.handleWebhook(model.SourceGoogleAds))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tenants/{tenantID}/leads", s.handleListLeads)
		r.Post("/tenants/{tenantID}/leads", s.handleCreateLead)
		r.Get("/tenants/{tenantID}/notifications", s.handleListNotifications)
		r.Get("/leads/{leadID}", s.handleGetLead)
		r.Patch("/leads/{leadID}/status", s.handleUpdateStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.leads.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
