package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/walletgate/server/internal/middleware"
	"github.com/walletgate/server/internal/verify"
)

// VerifyHandler exposes the verification service over HTTP
type VerifyHandler struct {
	service *verify.Service
	logger  *slog.Logger
}

// NewVerifyHandler creates a new verify handler
func NewVerifyHandler(service *verify.Service, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		service: service,
		logger:  logger,
	}
}

// identityRequest carries the chat identity. discordId and telegramId are
// accepted as aliases so links built by the bots can be posted back as-is.
type identityRequest struct {
	ExternalIdentity string `json:"externalIdentity"`
	DiscordID        string `json:"discordId"`
	TelegramID       string `json:"telegramId"`
}

func (r identityRequest) identity() string {
	for _, v := range []string{r.ExternalIdentity, r.DiscordID, r.TelegramID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// initiateResponse is the JSON response for POST /verify/initiate
type initiateResponse struct {
	Success   bool      `json:"success"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// completeRequest is the request body for POST /verify/complete
type completeRequest struct {
	identityRequest
	WalletAddress string `json:"walletAddress"`
}

// completeResponse is the JSON response for POST /verify/complete
type completeResponse struct {
	Success      bool   `json:"success"`
	RoleAssigned *bool  `json:"roleAssigned,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	Receipt      string `json:"receipt,omitempty"`
}

// HandleInitiate handles POST /verify/initiate
func (h *VerifyHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid verification request")
		return
	}

	res, err := h.service.Initiate(r.Context(), req.identity())
	if err != nil {
		if errors.Is(err, verify.ErrValidation) {
			h.logger.Info("initiate rejected", "error", err)
			respondWithError(w, http.StatusBadRequest, "Invalid verification request")
			return
		}
		h.logger.Error("initiate failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to initiate verification")
		return
	}

	respondJSON(w, http.StatusOK, initiateResponse{
		Success:   true,
		Challenge: res.Challenge,
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}

// HandleComplete handles POST /verify/complete
func (h *VerifyHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, completeResponse{Error: "Invalid verification data"})
		return
	}

	identity := req.identity()
	res, err := h.service.Complete(r.Context(), identity, req.WalletAddress)
	if err != nil {
		status, body := completeFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("complete failed", "identity", identity, "error", err)
		} else {
			h.logger.Info("complete rejected", "identity", identity, "error", err)
		}
		respondJSON(w, status, body)
		return
	}

	roleAssigned := res.RoleAssigned
	respondJSON(w, http.StatusOK, completeResponse{
		Success:      true,
		RoleAssigned: &roleAssigned,
		Message:      res.Message,
		Receipt:      res.Receipt,
	})
}

func completeFailure(err error) (int, completeResponse) {
	switch {
	case errors.Is(err, verify.ErrValidation):
		return http.StatusBadRequest, completeResponse{Error: "Invalid verification data"}
	case errors.Is(err, verify.ErrNotFound):
		return http.StatusBadRequest, completeResponse{Error: "No pending verification found"}
	case errors.Is(err, verify.ErrExpired):
		return http.StatusBadRequest, completeResponse{Error: "Challenge has expired"}
	case errors.Is(err, verify.ErrAlreadyLinked):
		return http.StatusBadRequest, completeResponse{Error: "Verification already completed"}
	case errors.Is(err, verify.ErrIncomplete):
		return http.StatusOK, completeResponse{Message: "Verification failed"}
	default:
		return http.StatusInternalServerError, completeResponse{Error: "internal error"}
	}
}

// HandleStatus handles GET /verify/{externalIdentity}
func (h *VerifyHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Status(r.Context(), chi.URLParam(r, "externalIdentity"))
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrValidation):
			respondWithError(w, http.StatusBadRequest, "invalid externalIdentity")
		case errors.Is(err, verify.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "Verification not found")
		default:
			h.logger.Error("status lookup failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// HandleReceipt handles GET /verify/receipt (requires a receipt bearer token).
// Returns the newest record of the receipt's identity.
func (h *VerifyHandler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetReceipt(r.Context())
	if !ok || claims == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rec, err := h.service.Status(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, verify.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Verification not found")
			return
		}
		h.logger.Error("receipt lookup failed", "identity", claims.Subject, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// HandleLegacyVerify handles the retired single-step POST /verify
func (h *VerifyHandler) HandleLegacyVerify(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusBadRequest, "Please use the new verification flow (/verify/initiate and /verify/complete)")
}
