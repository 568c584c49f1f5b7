// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/service"
	"github.com/Shivanand-hulikatti/session-registration/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// Engine is the subset of the registration service the handlers call.
type Engine interface {
	Register(ctx context.Context, userID, sessionID int64) (*model.RegisterResult, error)
	Cancel(ctx context.Context, userID, sessionID int64) (*model.CancelResult, error)
	CheckIn(ctx context.Context, userID, sessionID int64) (*model.CheckInResult, error)
	GetSessionSummary(ctx context.Context, sessionID int64) (*model.SessionSummary, error)
	ListSessionRegistrations(ctx context.Context, sessionID int64) ([]model.SessionRegistration, error)
	ListUserRegistrations(ctx context.Context, userID int64) ([]model.UserRegistration, error)
}

// RegistrationHandler holds all HTTP handlers for the registration API.
type RegistrationHandler struct {
	svc Engine
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc Engine) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

// codeInvalidRequest is reported for malformed bodies and path parameters.
const codeInvalidRequest = "invalid_request"

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: code, Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeRequest decodes and validates a register/cancel/check-in body,
// writing a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request) (model.RegistrationRequest, bool) {
	var req model.RegistrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return req, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindUserNotFound, service.KindSessionNotFound, service.KindRegistrationNotFound:
		return http.StatusNotFound
	case service.KindUserBlocked:
		return http.StatusForbidden
	case service.KindSessionClosed, service.KindDuplicateEventRegistration, service.KindWaitlistFull,
		service.KindAlreadyCancelled, service.KindInvalidStatus:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// writeServiceError renders a service error. Storage failures are reported
// without their cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindOf(err)
	resp := model.ErrorResponse{Error: string(kind), Message: err.Error()}

	var blocked *service.BlockedError
	if errors.As(err, &blocked) {
		until := blocked.Until
		resp.BlockedUntil = &until
		resp.Message = fmt.Sprintf("You are temporarily blocked from registering until %s.", until.UTC().Format(time.RFC3339))
	}
	if kind == service.KindStorageFailure {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Message = "the request could not be completed, please retry"
	}
	writeJSON(w, statusFor(kind), resp)
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Register handles POST /registrations
// Performs a concurrency-safe registration: seats the user or queues them.
func (h *RegistrationHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Register(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.RegisterResponse{RegisterResult: *res, Message: registerMessage(res)})
}

func registerMessage(res *model.RegisterResult) string {
	switch {
	case res.Status == model.StatusRegistered && res.Existing:
		return "You are already registered for this session."
	case res.Status == model.StatusRegistered:
		return "Registration successful"
	case res.QueuePosition == nil:
		return "You are on the waiting list."
	case res.Existing:
		return fmt.Sprintf("You are already on the waiting list (position %d).", *res.QueuePosition)
	default:
		return fmt.Sprintf("Session is full. You have been added to the waiting list (position %d).", *res.QueuePosition)
	}
}

// Cancel handles POST /registrations/cancel
// Cancels a registration or waiting entry; a freed seat goes to the head of
// the waiting list.
func (h *RegistrationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Cancel(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg := "Cancellation successful"
	if res.OldStatus == model.StatusWaiting {
		msg = "Removed from waiting list successfully"
	}
	writeJSON(w, http.StatusOK, model.CancelResponse{CancelResult: *res, Message: msg})
}

// CheckIn handles POST /checkin
func (h *RegistrationHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := h.svc.CheckIn(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg := "Check-in successful"
	if res.AlreadyCheckedIn {
		msg = "Already checked in, no need to check in again"
	}
	writeJSON(w, http.StatusOK, model.CheckInResponse{CheckInResult: *res, Message: msg})
}

// GetSession handles GET /sessions/{id}
// Returns capacity and waiting-list figures for one session.
func (h *RegistrationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.GetSessionSummary(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListSessionRegistrations handles GET /sessions/{id}/registrations
func (h *RegistrationHandler) ListSessionRegistrations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	regs, err := h.svc.ListSessionRegistrations(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if regs == nil {
		regs = []model.SessionRegistration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// ListUserRegistrations handles GET /users/{id}/registrations
func (h *RegistrationHandler) ListUserRegistrations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	regs, err := h.svc.ListUserRegistrations(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if regs == nil {
		regs = []model.UserRegistration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
