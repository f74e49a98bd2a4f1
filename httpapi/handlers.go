package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/middleware"
	"github.com/go-chi/chi/v5"
)

// MessageEnvelope is the generic response body.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SessionEnvelope carries one session. Token is present only right after
// the session was minted.
type SessionEnvelope struct {
	Session *goAccount.Session `json:"session,omitempty"`
	Message string             `json:"message,omitempty"`
}

// SessionsEnvelope is the body of the session listing response.
type SessionsEnvelope struct {
	Sessions []*goAccount.Session `json:"sessions"`
}

// RevokedEnvelope reports how many sessions a bulk revoke ended.
type RevokedEnvelope struct {
	Revoked int `json:"revoked"`
}

type startRequest struct {
	AccountID string `json:"account_id"`
	Recipient string `json:"recipient,omitempty"`
}

type confirmRequest struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
}

const maxBodyBytes = 4 << 10

type handler struct {
	svc    Service
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func purposeParam(w http.ResponseWriter, r *http.Request) (goAccount.Purpose, bool) {
	p, err := goAccount.ParsePurpose(chi.URLParam(r, "purpose"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown purpose")
		return 0, false
	}
	return p, true
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func (h *handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, goAccount.ErrRateLimited):
		if wait, ok := goAccount.RetryAfter(err); ok && wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
		}
		msg := "too many requests"
		if errors.Is(err, goAccount.ErrLockedOut) {
			msg = "temporarily locked"
		}
		writeError(w, http.StatusTooManyRequests, msg)
	case errors.Is(err, goAccount.ErrVerificationInvalid):
		writeError(w, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, goAccount.ErrChallengeOutstanding):
		writeError(w, http.StatusConflict, "a code was already sent")
	case errors.Is(err, goAccount.ErrRecipientRejected):
		writeError(w, http.StatusUnprocessableEntity, "recipient rejected")
	case errors.Is(err, goAccount.ErrTransportFailure):
		writeError(w, http.StatusBadGateway, "code could not be delivered, try again")
	case errors.Is(err, goAccount.ErrUnknownPurpose):
		writeError(w, http.StatusNotFound, "unknown purpose")
	case errors.Is(err, goAccount.ErrSessionInvalid):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, goAccount.ErrPersistenceConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, goAccount.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
}

func (h *handler) startVerification(w http.ResponseWriter, r *http.Request) {
	purpose, ok := purposeParam(w, r)
	if !ok {
		return
	}
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	var opts []goAccount.StartOption
	if req.Recipient != "" {
		opts = append(opts, goAccount.WithRecipient(req.Recipient))
	}
	if err := h.svc.StartVerification(r.Context(), req.AccountID, purpose, opts...); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "if the account is eligible, a code has been sent"})
}

func (h *handler) confirmVerification(w http.ResponseWriter, r *http.Request) {
	purpose, ok := purposeParam(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AccountID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "account_id and code are required")
		return
	}

	s, err := h.svc.ConfirmVerification(r.Context(), req.AccountID, purpose, req.Code)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionEnvelope{Session: s, Message: "verified"})
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	out := SessionsEnvelope{Sessions: []*goAccount.Session{}}
	for s, err := range h.svc.ListActiveSessions(r.Context(), accountID) {
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		out.Sessions = append(out.Sessions, s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) currentSession(w http.ResponseWriter, r *http.Request) {
	s, _ := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, SessionEnvelope{Session: s})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)
	if err := h.svc.RevokeSession(r.Context(), token); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	if err := h.svc.RevokeSessionByID(r.Context(), accountID, chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revokeAllSessions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	n, err := h.svc.RevokeAllSessions(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevokedEnvelope{Revoked: n})
}
