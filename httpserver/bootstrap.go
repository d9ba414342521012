package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/agentsec-relay/api"
	"github.com/ruteri/agentsec-relay/kms"
)

// BootstrapHandler collects admin-signed Shamir shares until the deployment
// secrets can be reconstructed. Each share is authenticated by its signature
// against the registered admin keys, so no separate admin login exists.
type BootstrapHandler struct {
	keeper *kms.ShamirKeeper
	log    *slog.Logger
}

func NewBootstrapHandler(keeper *kms.ShamirKeeper, log *slog.Logger) *BootstrapHandler {
	return &BootstrapHandler{keeper: keeper, log: log}
}

// WaitForBootstrap blocks until enough shares were submitted or ctx is done.
func (h *BootstrapHandler) WaitForBootstrap(ctx context.Context) error {
	return h.keeper.Wait(ctx)
}

// AdminRouter returns the bootstrap API, meant to be mounted under /admin.
func (h *BootstrapHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Post("/share", h.handleSubmitShare)
	return r
}

// handleStatus reports how far the reconstruction got.
//
// Endpoint: GET /admin/status
func (h *BootstrapHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.BootstrapStatus{
		Unlocked:       h.keeper.IsUnlocked(),
		Threshold:      h.keeper.Threshold(),
		TotalShares:    h.keeper.TotalShares(),
		ReceivedShares: h.keeper.ReceivedShares(),
	})
}

// handleSubmitShare verifies and records one share.
//
// Endpoint: POST /admin/share
// Body: {"share_index": <int>, "share": "<base64>", "signature": "<base64>", "admin_key": "<pem>"}
func (h *BootstrapHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	var submission api.ShareSubmission
	if err := decodeBody(w, r, &submission); err != nil {
		h.writeError(w, err)
		return
	}

	share, err := base64.StdEncoding.DecodeString(submission.Share)
	if err != nil {
		h.writeError(w, badRequest("invalid share encoding"))
		return
	}
	signature, err := base64.StdEncoding.DecodeString(submission.Signature)
	if err != nil {
		h.writeError(w, badRequest("invalid signature encoding"))
		return
	}

	err = h.keeper.SubmitShare(submission.ShareIndex, share, signature, []byte(submission.AdminKey))
	switch {
	case errors.Is(err, kms.ErrUnknownAdmin), errors.Is(err, kms.ErrInvalidShareSig):
		h.log.Warn("Share rejected", "shareIndex", submission.ShareIndex, "err", err)
		h.writeError(w, &RequestError{StatusCode: http.StatusUnauthorized, Err: err})
		return
	case errors.Is(err, kms.ErrAlreadyUnlocked):
		h.writeError(w, &RequestError{StatusCode: http.StatusConflict, Err: err})
		return
	case err != nil:
		h.log.Error("Share submission failed", "shareIndex", submission.ShareIndex, "err", err)
		h.writeError(w, badRequest("share submission failed: %v", err))
		return
	}

	if h.keeper.IsUnlocked() {
		h.log.Info("Secrets unlocked - bootstrap complete", "shareIndex", submission.ShareIndex)
	} else {
		h.log.Info("Share accepted", "shareIndex", submission.ShareIndex, "received", h.keeper.ReceivedShares())
	}
	h.handleStatus(w, r)
}

func (h *BootstrapHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	writeJSON(w, status, api.ErrorResponse{Error: http.StatusText(status), Reason: err.Error()})
}
