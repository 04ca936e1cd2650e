package server

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/extract"
	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/model"
)

// handleVerify answers the Meta/Facebook subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")

	if mode != "subscribe" || !secretEqual(token, s.webhooks.VerifyToken) {
		zap.L().Warn("server: webhook verification rejected",
			zap.String("tenant_id", chi.URLParam(r, "tenantID")),
			zap.String("mode", mode),
		)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// handleWebhook ingests every lead in a delivery. Anything short of a
// storage failure is acknowledged so the platform does not retry.
func (s *Server) handleWebhook(source model.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		log := zap.L().With(zap.String("tenant_id", tenantID), zap.String("source", string(source)))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			log.Warn("server: unreadable webhook body", zap.Error(err))
			writeJSON(w, http.StatusOK, received)
			return
		}

		events, err := extract.Decode(body)
		if err != nil {
			log.Warn("server: malformed webhook body", zap.Error(err), zap.Int("bytes", len(body)))
			writeJSON(w, http.StatusOK, received)
			return
		}

		if source == model.SourceGoogleAds && s.webhooks.GoogleKey != "" {
			for _, ev := range events {
				if !secretEqual(ev.GoogleKey, s.webhooks.GoogleKey) {
					log.Warn("server: google webhook key mismatch")
					writeError(w, http.StatusForbidden, "invalid google_key")
					return
				}
			}
		}

		for _, ev := range events {
			res, err := s.ingester.Ingest(r.Context(), ingest.Request{TenantID: tenantID, Source: source, Event: ev})
			if err != nil {
				reportError(r, err, "server: webhook ingest failed",
					zap.String("tenant_id", tenantID),
					zap.String("platform_lead_id", ev.PlatformLeadID),
				)
				writeError(w, http.StatusInternalServerError, "failed to store lead")
				return
			}
			log.Info("server: webhook lead processed",
				zap.String("outcome", string(res.Outcome)),
				zap.String("lead_id", res.LeadID),
			)
		}

		writeJSON(w, http.StatusOK, received)
	}
}

var received = map[string]bool{"received": true}

// secretEqual compares in constant time. An unset secret never matches.
func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
