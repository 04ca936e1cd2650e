package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/extract"
	"github.com/sells-group/lead-intake/internal/ingest"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

var validate = validator.New()

// createLeadRequest is a lead entered by hand or captured from an
// outreach reply.
type createLeadRequest struct {
	Source         model.Source   `json:"source" validate:"omitempty,oneof=manual_entry outreach_response"`
	PlatformLeadID string         `json:"platform_lead_id" validate:"max=255"`
	ReceivedAt     *time.Time     `json:"received_at"`
	LeadData       map[string]any `json:"lead_data" validate:"required,min=1"`
}

type updateStatusRequest struct {
	Status model.LeadStatus `json:"status" validate:"required,oneof=new contacted qualified won lost"`
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LeadFilter{
		TenantID: chi.URLParam(r, "tenantID"),
		Status:   model.LeadStatus(q.Get("status")),
		Intent:   model.Intent(q.Get("intent")),
		Source:   model.Source(q.Get("source")),
		Method:   model.ScoreMethod(q.Get("method")),
	}

	switch {
	case filter.Status != "" && !filter.Status.Valid():
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	case filter.Intent != "" && !filter.Intent.Valid():
		writeError(w, http.StatusBadRequest, "invalid intent")
		return
	case filter.Source != "" && !filter.Source.Valid():
		writeError(w, http.StatusBadRequest, "invalid source")
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	leads, err := s.leads.ListLeads(r.Context(), filter)
	if err != nil {
		reportError(r, err, "server: list leads failed", zap.String("tenant_id", filter.TenantID))
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req createLeadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = model.SourceManualEntry
	}

	ev := extract.Event{
		PlatformLeadID: req.PlatformLeadID,
		Payload:        extract.GenericPayload(req.LeadData),
	}
	if req.ReceivedAt != nil {
		ev.ReceivedAt = req.ReceivedAt.UTC()
	}

	res, err := s.ingester.Ingest(r.Context(), ingest.Request{TenantID: tenantID, Source: req.Source, Event: ev})
	if err != nil {
		reportError(r, err, "server: manual ingest failed", zap.String("tenant_id", tenantID))
		writeError(w, http.StatusInternalServerError, "failed to store lead")
		return
	}

	status := http.StatusOK
	if res.Created() {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	lead, err := s.leads.GetLead(r.Context(), leadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		reportError(r, err, "server: get lead failed", zap.String("lead_id", leadID))
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	var req updateStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	lead, err := s.leads.GetLead(r.Context(), leadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		reportError(r, err, "server: get lead failed", zap.String("lead_id", leadID))
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}

	if !lead.Status.CanTransition(req.Status) {
		writeError(w, http.StatusConflict, model.ErrInvalidTransition.Error()+": "+string(lead.Status)+" -> "+string(req.Status))
		return
	}

	if err := s.leads.UpdateLeadStatus(r.Context(), leadID, lead.Status, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Status moved underneath us.
			writeError(w, http.StatusConflict, "lead status changed, reload and retry")
			return
		}
		reportError(r, err, "server: update lead status failed", zap.String("lead_id", leadID))
		writeError(w, http.StatusInternalServerError, "failed to update lead")
		return
	}

	zap.L().Info("server: lead status changed",
		zap.String("lead_id", leadID),
		zap.String("from", string(lead.Status)),
		zap.String("to", string(req.Status)),
	)
	if updated, err := s.leads.GetLead(r.Context(), leadID); err == nil {
		lead = updated
	} else {
		lead.Status = req.Status
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	notes, err := s.leads.ListNotifications(r.Context(), tenantID, limit)
	if err != nil {
		reportError(r, err, "server: list notifications failed", zap.String("tenant_id", tenantID))
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes, "count": len(notes)})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
