package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/storefront/authguard"
)

// Handler serves the passcode endpoints.
type Handler struct {
	engine *authguard.Engine
}

// NewHandler creates a handler backed by engine.
func NewHandler(engine *authguard.Engine) *Handler {
	return &Handler{engine: engine}
}

type issueRequest struct {
	UserID      string `json:"user_id"`
	Purpose     string `json:"purpose"`
	Destination string `json:"destination"`
}

type resendRequest struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
}

type issueResponse struct {
	RecordID  string    `json:"record_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Delivered bool      `json:"delivered"`
	Warning   string    `json:"warning,omitempty"`
}

type verifyRequest struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

type verifyResponse struct {
	Outcome           string `json:"outcome"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	Grant             string `json:"grant,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

type statusResponse struct {
	RecordID          string    `json:"record_id"`
	State             string    `json:"state"`
	Channel           string    `json:"channel"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// HandleIssue handles POST /v1/otp/issue
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.engine.IssueOTP(r.Context(), authguard.IssueRequest{
		UserID:      req.UserID,
		Purpose:     authguard.Purpose(strings.TrimSpace(req.Purpose)),
		Destination: req.Destination,
	})
	if err != nil {
		respondWithEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toIssueResponse(res))
}

// HandleResend handles POST /v1/otp/resend
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.engine.ResendOTP(r.Context(), req.UserID, authguard.Purpose(strings.TrimSpace(req.Purpose)))
	if err != nil {
		respondWithEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toIssueResponse(res))
}

// HandleVerify handles POST /v1/otp/verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.engine.VerifyOTP(r.Context(), authguard.VerifyRequest{
		UserID:  req.UserID,
		Purpose: authguard.Purpose(strings.TrimSpace(req.Purpose)),
		Code:    req.Code,
	})
	resp := verifyResponse{
		Outcome:           res.Outcome.String(),
		AttemptsRemaining: res.AttemptsRemaining,
		Grant:             res.Grant,
	}
	switch {
	case errors.Is(err, authguard.ErrGrantUnavailable):
		log.Printf("httpapi: verified without grant: %v", err)
		resp.Warning = "grant_unavailable"
	case err != nil:
		respondWithEngineError(w, err)
		return
	}
	respondWithJSON(w, outcomeStatus(res.Outcome), resp)
}

// HandleStatus handles GET /v1/otp/status?user_id=&purpose=
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rec, err := h.engine.OTPStatus(r.Context(), q.Get("user_id"), authguard.Purpose(q.Get("purpose")))
	if err != nil {
		respondWithEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statusResponse{
		RecordID:          rec.ID,
		State:             rec.State.String(),
		Channel:           rec.Purpose.Channel(),
		AttemptsRemaining: rec.AttemptsRemaining(),
		ExpiresAt:         rec.ExpiresAt,
	})
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		log.Printf("httpapi: health check failed: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toIssueResponse(res authguard.IssueResult) issueResponse {
	out := issueResponse{
		RecordID:  res.RecordID,
		ExpiresAt: res.ExpiresAt,
		Delivered: res.Delivered,
	}
	if res.DeliveryErr != nil {
		out.Warning = "delivery_failed"
	}
	return out
}

func outcomeStatus(o authguard.OTPOutcome) int {
	switch o {
	case authguard.OutcomeVerified:
		return http.StatusOK
	case authguard.OutcomeInvalidCode:
		return http.StatusUnprocessableEntity
	case authguard.OutcomeExpired:
		return http.StatusGone
	case authguard.OutcomeAttemptsExhausted:
		return http.StatusLocked
	case authguard.OutcomeAlreadyVerified:
		return http.StatusConflict
	default:
		return http.StatusNotFound
	}
}

func respondWithEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authguard.ErrOTPInvalidRequest):
		respondWithError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, authguard.ErrOTPNotFound):
		respondWithError(w, http.StatusNotFound, "not_found")
	default:
		log.Printf("httpapi: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}
