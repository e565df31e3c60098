package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/genai"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/templates"
)

// TemplateRequest is the body of the precheck, payload and preview endpoints.
type TemplateRequest struct {
	Contact  models.Contact   `json:"contact"`
	Template models.Template  `json:"template"`
	Tokens   templates.Tokens `json:"tokens"`
	Language string           `json:"language,omitempty"`
	// To overrides the preview recipient; the contact phone is used otherwise.
	To string `json:"to,omitempty"`
}

// PreviewResult is returned by the preview endpoint.
type PreviewResult struct {
	To        string `json:"to"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

func (s *Server) decodeTemplateRequest(w http.ResponseWriter, r *http.Request, handler string) (TemplateRequest, bool) {
	var req TemplateRequest
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return req, false
	}
	if err := decodeJSON(w, r, MaxAPIBodyBytes, &req); err != nil {
		slog.Warn(handler+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return req, false
	}
	if req.Template.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrMissingTemplateName.Error()))
		return req, false
	}
	return req, true
}

func (s *Server) precheck(req TemplateRequest) templates.PrecheckResult {
	return templates.Precheck(req.Contact, req.Template, req.Tokens, templates.WithDefaultRegion(s.region))
}

func (s *Server) precheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	req, ok := s.decodeTemplateRequest(w, r, "Server.precheckHandler")
	if !ok {
		return
	}
	res := s.precheck(req)
	if !res.OK {
		slog.Debug("Server.precheckHandler: contact skipped", "contact_id", req.Contact.ContactID, "code", res.SkipCode)
		writeJSONResponse(w, http.StatusOK, models.Skipped(res.Reason, res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) payloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	req, ok := s.decodeTemplateRequest(w, r, "Server.payloadHandler")
	if !ok {
		return
	}
	res := s.precheck(req)
	if !res.OK {
		writeJSONResponse(w, http.StatusOK, models.Skipped(res.Reason, res))
		return
	}
	payload, err := templates.BuildPayload(templates.BuildInput{
		To:       res.NormalizedPhone,
		Language: req.Language,
		Values:   *res.Values,
		Template: req.Template,
	})
	if err != nil {
		slog.Warn("Server.payloadHandler: build failed", "error", err, "template", req.Template.Name)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(payload))
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	req, ok := s.decodeTemplateRequest(w, r, "Server.previewHandler")
	if !ok {
		return
	}
	if s.deps.Preview == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Preview sender not configured"))
		return
	}
	if strings.TrimSpace(req.To) != "" {
		req.Contact.Phone = req.To
	}
	if strings.TrimSpace(req.Contact.Phone) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrMissingPreviewTarget.Error()))
		return
	}
	res := s.precheck(req)
	if !res.OK {
		writeJSONResponse(w, http.StatusOK, models.Skipped(res.Reason, res))
		return
	}
	text := templates.Render(req.Template, *res.Values)
	id, err := s.deps.Preview.SendPreview(r.Context(), res.NormalizedPhone, text)
	if err != nil {
		slog.Error("Server.previewHandler: send failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send preview"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(PreviewResult{To: res.NormalizedPhone, Text: text, MessageID: id}))
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Dispatcher == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Messaging provider not configured"))
		return
	}
	var req messaging.BatchRequest
	if err := decodeJSON(w, r, MaxAPIBodyBytes, &req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	res, err := s.deps.Dispatcher.SendBatch(r.Context(), req)
	if err != nil {
		slog.Error("Server.sendHandler: batch interrupted", "error", err)
		resp := models.Error("Batch interrupted: " + err.Error())
		resp.Result = res
		writeJSONResponse(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) sendsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("batch_id is required"))
		return
	}
	recs, err := s.deps.Store.ListSendRecords(r.Context(), batchID)
	if err != nil {
		slog.Error("Server.sendsHandler: failed to list send records", "error", err, "batch_id", batchID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list send records"))
		return
	}
	if recs == nil {
		recs = []models.SendRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

func (s *Server) draftsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.deps.Drafter == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Template drafting not configured"))
		return
	}
	var req genai.DraftRequest
	if err := decodeJSON(w, r, MaxAPIBodyBytes, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	res, err := s.deps.Drafter.DraftTemplates(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		slog.Error("Server.draftsHandler: drafting failed", "error", err)
		writeJSONResponse(w, status, models.Error("Failed to draft templates: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}
