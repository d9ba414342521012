package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/relay"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// StatusFor maps relay errors onto HTTP status codes.
func StatusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrAuthenticationFailure):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrAccessDenied),
		errors.Is(err, interfaces.ErrClearanceExceeded),
		errors.Is(err, interfaces.ErrDecryptionFailure):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrMailboxFull),
		errors.Is(err, relay.ErrRuntimeStopped),
		errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Authenticator exchanges user credentials for a session token.
type Authenticator interface {
	Authenticate(username, password string) (string, interfaces.ClearanceLevel, error)
}

// Submitter accepts external commands into the pipeline.
type Submitter interface {
	Submit(msg *interfaces.External) (string, error)
}

// Handler serves the relay bridge API. It never talks to the agents
// directly: commands go to the Submitter, completed results are polled from
// the response queue, and stored items are read through the gated store.
type Handler struct {
	auth      Authenticator
	tokens    interfaces.TokenVerifier
	pipeline  Submitter
	responses *relay.ResponseQueue
	store     interfaces.ItemStore
	readAs    string
	log       *slog.Logger
}

// HandlerConfig lists the collaborators of a Handler.
//
// Items are gated by the clearance in the caller's token and decrypted as
// ReadAs, the identity that owns the stored items (the core).
type HandlerConfig struct {
	Auth      Authenticator
	Tokens    interfaces.TokenVerifier
	Pipeline  Submitter
	Responses *relay.ResponseQueue
	Store     interfaces.ItemStore
	ReadAs    string
	Log       *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		auth:      cfg.Auth,
		tokens:    cfg.Tokens,
		pipeline:  cfg.Pipeline,
		responses: cfg.Responses,
		store:     cfg.Store,
		readAs:    cfg.ReadAs,
		log:       cfg.Log,
	}
}

// RegisterRoutes mounts the bridge API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/token", h.HandleIssueToken)
	r.Post("/api/messages", h.HandleSubmit)
	r.Get("/api/responses", h.HandlePollResponses)
	r.Get("/api/items", h.HandleListItems)
	r.Get("/api/items/{id}", h.HandleGetItem)
}

// HandleIssueToken authenticates a user and returns a session token at the
// user's registry clearance.
//
// URL format: POST /api/auth/token
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req api.TokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeError(w, badRequest("username and password are required"))
		return
	}

	token, level, err := h.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		h.log.Warn("Login failed", "user", req.Username, "err", err)
		h.writeError(w, err)
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.TokenResponse{
		Token:          token,
		Subject:        claims.Subject,
		ClearanceLevel: level,
		ExpiresAt:      claims.ExpiresAt,
	})
}

// HandleSubmit queues an external command for the core. The token is only
// checked for presence here; the core authenticates it.
//
// URL format: POST /api/messages
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Content == "" {
		h.writeError(w, badRequest("content is required"))
		return
	}

	token := req.Token
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		h.writeError(w, &RequestError{StatusCode: http.StatusUnauthorized, Err: interfaces.ErrAuthenticationFailure})
		return
	}

	id, err := h.pipeline.Submit(&interfaces.External{
		ID:      req.ID,
		Content: req.Content,
		Sender:  req.Sender,
		Token:   token,
	})
	if err != nil {
		h.log.Error("Failed to submit command", "err", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, api.SubmitResponse{ID: id})
}

// HandlePollResponses returns and removes the completed responses visible to
// the caller.
//
// URL format: GET /api/responses
func (h *Handler) HandlePollResponses(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authorize(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	polled := h.responses.Poll(claims.Subject, claims.ClearanceLevel)
	out := api.ResponsesResponse{Responses: make([]api.RelayResponse, 0, len(polled))}
	for _, resp := range polled {
		out.Responses = append(out.Responses, api.RelayResponse{
			ID:             resp.MessageID,
			ItemID:         resp.ItemID,
			Requester:      resp.Requester,
			Content:        resp.Content,
			ClearanceLevel: resp.ClearanceLevel,
			Timestamp:      resp.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleListItems returns every stored item at or below the caller's clearance.
//
// URL format: GET /api/items
func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authorize(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items, err := h.store.FetchByClearance(r.Context(), claims.ClearanceLevel, h.readAs)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := api.ItemsResponse{Items: make([]api.Item, 0, len(items))}
	for _, item := range items {
		out.Items = append(out.Items, api.NewItem(item))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetItem returns one decrypted item.
//
// URL format: GET /api/items/{id}
func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authorize(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	content, err := h.store.Read(r.Context(), id, interfaces.Requester{
		Identity:  h.readAs,
		Clearance: claims.ClearanceLevel,
	})
	if err != nil {
		h.log.Warn("Item read refused", "id", id, "subject", claims.Subject, "err", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ItemContent{ID: id, Content: content})
}

func (h *Handler) authorize(r *http.Request) (*interfaces.Claims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", interfaces.ErrAuthenticationFailure)
	}
	return h.tokens.Parse(token)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	writeJSON(w, status, api.ErrorResponse{
		Error:  http.StatusText(status),
		Reason: interfaces.FailureReason(err),
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, api.BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, api.BearerPrefix))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
