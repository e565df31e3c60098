package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/flow"
	"github.com/BTreeMap/FlowDesk/internal/flowcrypto"
	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/publicurl"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/google/uuid"
)

// Messages of the flow endpoint contract.
const (
	msgMissingFields     = "Missing required fields"
	msgNotConfigured     = "Flow endpoint not configured"
	msgDecryptionFailed  = "Decryption failed"
	msgInvalidBody       = "Invalid request body"
	msgRateLimited       = "Too many requests"
	msgEncryptionFailed  = "Failed to encrypt response"
	msgHandlerFailed     = "Something went wrong. Please try again."
	msgReady             = "Flow endpoint is configured and ready"
	msgNotConfiguredHelp = "Private key not configured; generate or upload one at /api/flows/keys"
)

// ReadinessStatus is the GET body of the flow endpoint.
type ReadinessStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) flowEndpointHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodPost:
		s.handleFlowRequest(w, r)
	case http.MethodGet:
		s.handleFlowReadiness(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// privateKey returns the configured key, or "" when none is stored.
func (s *Server) privateKey(ctx context.Context) (string, error) {
	key, err := s.deps.Settings.GetSetting(ctx, store.SettingFlowPrivateKey)
	if errors.Is(err, models.ErrSettingNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

func (s *Server) handleFlowReadiness(w http.ResponseWriter, r *http.Request) {
	key, err := s.privateKey(r.Context())
	if err != nil {
		slog.Error("Server.handleFlowReadiness: key lookup failed", "error", err)
	}
	if key == "" {
		writeJSONResponse(w, http.StatusOK, ReadinessStatus{Status: "not_configured", Message: msgNotConfiguredHelp})
		return
	}
	writeJSONResponse(w, http.StatusOK, ReadinessStatus{Status: "ready", Message: msgReady})
}

func (s *Server) handleFlowRequest(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	log := slog.With("request_id", requestID)

	if !s.limiter.Allow() {
		log.Warn("Server.handleFlowRequest: rate limited")
		writeEndpointError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	var envelope models.EncryptedFlowRequest
	if err := decodeJSON(w, r, MaxFlowBodyBytes, &envelope); err != nil {
		log.Warn("Server.handleFlowRequest: failed to decode body", "error", err)
		writeEndpointError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if !envelope.Complete() {
		log.Warn("Server.handleFlowRequest: missing envelope fields",
			"flow_data_set", envelope.EncryptedFlowData != "", "aes_key_set", envelope.EncryptedAESKey != "", "iv_set", envelope.InitialVector != "")
		writeEndpointError(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	key, err := s.privateKey(r.Context())
	if err != nil {
		log.Error("Server.handleFlowRequest: key lookup failed", "error", err)
		writeEndpointError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	if key == "" {
		log.Error("Server.handleFlowRequest: private key not configured")
		writeEndpointError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}

	dec, err := flowcrypto.Decrypt(envelope, key)
	if err != nil {
		cause := flowcrypto.Cause("unknown")
		var decErr *flowcrypto.DecryptionError
		if errors.As(err, &decErr) {
			cause = decErr.Cause
		}
		log.Warn("Server.handleFlowRequest: decryption failed", "cause", cause, "error", err)
		writeEndpointError(w, 421, msgDecryptionFailed)
		return
	}
	defer flowcrypto.Wipe(dec.AESKey)

	req := dec.Request
	log.Info("Server.handleFlowRequest: decrypted", "action", req.Action, "screen", req.Screen)

	if req.Action == models.FlowActionPing {
		writeJSONResponse(w, http.StatusOK, models.NewHealthResponse())
		return
	}

	resp := s.route(r.Context(), log, req)
	body, err := flowcrypto.Encrypt(resp, dec.AESKey, dec.IV)
	if err != nil {
		log.Error("Server.handleFlowRequest: failed to encrypt response", "error", err)
		writeEndpointError(w, http.StatusInternalServerError, msgEncryptionFailed)
		return
	}
	log.Debug("Server.handleFlowRequest: responding", "kind", resp.Kind().String(), "screen", resp.Screen)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Error("Server.handleFlowRequest: failed to write response", "error", err)
	}
}

// route runs the router under the flow deadline and turns every failure
// into an error response the client can display.
func (s *Server) route(ctx context.Context, log *slog.Logger, req models.FlowRequest) models.FlowResponse {
	ctx, cancel := context.WithTimeout(ctx, s.flowTimeout)
	defer cancel()

	resp, err := s.deps.Router.Route(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		return resp
	}
	if flow.IsValidationError(err) {
		log.Info("Server.route: rejected flow data", "error", err)
		return flowcrypto.ErrorResponse(err.Error())
	}
	log.Error("Server.route: flow handler failed", "error", err, "action", req.Action, "screen", req.Screen)
	return flowcrypto.ErrorResponse(msgHandlerFailed)
}

// FlowKeys is returned by the key management endpoint.
type FlowKeys struct {
	PublicKey   string `json:"public_key"`
	EndpointURL string `json:"endpoint_url,omitempty"`
}

type uploadKeyRequest struct {
	PrivateKey string `json:"private_key"`
}

func (s *Server) flowKeysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		pub, err := s.deps.Settings.GetSetting(ctx, store.SettingFlowPublicKey)
		if errors.Is(err, models.ErrSettingNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No flow key configured"))
			return
		}
		if err != nil {
			slog.Error("Server.flowKeysHandler: failed to read public key", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read flow key"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(FlowKeys{PublicKey: pub, EndpointURL: s.endpointURL(ctx)}))

	case http.MethodPost:
		privatePEM, publicPEM, err := flowcrypto.GenerateKeyPair(flowcrypto.DefaultKeyBits)
		if err != nil {
			slog.Error("Server.flowKeysHandler: key generation failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate key pair"))
			return
		}
		s.storeFlowKeys(w, r, privatePEM, publicPEM, http.StatusCreated)

	case http.MethodPut:
		var body uploadKeyRequest
		if err := decodeJSON(w, r, MaxFlowBodyBytes, &body); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if strings.TrimSpace(body.PrivateKey) == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrMissingPrivateKey.Error()))
			return
		}
		publicPEM, err := flowcrypto.PublicKeyPEM(body.PrivateKey)
		if err != nil {
			slog.Warn("Server.flowKeysHandler: rejected private key", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		s.storeFlowKeys(w, r, body.PrivateKey, publicPEM, http.StatusOK)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodPut)
	}
}

func (s *Server) storeFlowKeys(w http.ResponseWriter, r *http.Request, privatePEM, publicPEM string, status int) {
	ctx := r.Context()
	if err := s.deps.Settings.SetSetting(ctx, store.SettingFlowPrivateKey, privatePEM); err != nil {
		slog.Error("Server.storeFlowKeys: failed to store private key", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store flow key"))
		return
	}
	if err := s.deps.Settings.SetSetting(ctx, store.SettingFlowPublicKey, publicPEM); err != nil {
		slog.Error("Server.storeFlowKeys: failed to store public key", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store flow key"))
		return
	}
	slog.Info("Server.storeFlowKeys: flow key pair stored")
	writeJSONResponse(w, status, models.SuccessWithMessage("Flow key stored; upload the public key to Meta",
		FlowKeys{PublicKey: publicPEM, EndpointURL: s.endpointURL(ctx)}))
}

func (s *Server) endpointURL(ctx context.Context) string {
	if s.deps.PublicURL == nil {
		return ""
	}
	u, err := publicurl.EndpointURL(ctx, s.deps.PublicURL)
	if err != nil {
		slog.Debug("Server.endpointURL: public URL unavailable", "error", err)
		return ""
	}
	return u
}

func (s *Server) flowSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	token := r.URL.Query().Get("flow_token")
	subs, err := s.deps.Store.ListFlowSubmissions(r.Context(), token)
	if err != nil {
		slog.Error("Server.flowSubmissionsHandler: failed to list submissions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list submissions"))
		return
	}
	if subs == nil {
		subs = []models.FlowSubmission{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(subs))
}
