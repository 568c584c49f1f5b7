package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/config"
	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
	"github.com/Shivanand-hulikatti/session-registration/internal/service"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		CORSOrigins:       []string{"*"},
		RateLimitDisabled: true,
	}
}

func newTestRouter(t *testing.T, cfg config.ServerConfig) (http.Handler, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore(time.Second)
	store.PutEvent(model.Event{ID: 1, Title: "workshop"})
	require.NoError(t, store.PutSession(model.Session{
		ID: 10, EventID: 1, Capacity: 1, Status: model.SessionOpen,
		StartTime: now.Add(24 * time.Hour), EndTime: now.Add(26 * time.Hour),
	}))
	for id := int64(1); id <= 3; id++ {
		store.PutUser(model.User{ID: id, Name: "user"})
	}
	blocked := now.Add(48 * time.Hour)
	store.PutUser(model.User{ID: 4, Name: "blocked", BlockedUntil: &blocked})

	svc := service.NewRegistrationService(store, service.WithClock(func() time.Time { return now }))
	return NewRouter(NewRegistrationHandler(svc), cfg), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v))
	return v
}

func TestRegisterEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	w := do(t, h, http.MethodPost, "/registrations", `{"user_id":1,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	res := decode[map[string]any](t, w)
	assert.Equal(t, "registered", res["status"])
	assert.Nil(t, res["queue_position"])
	assert.Equal(t, "Registration successful", res["message"])
	assert.NotContains(t, res, "Existing")

	w = do(t, h, http.MethodPost, "/registrations", `{"user_id":2,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[map[string]any](t, w)
	assert.Equal(t, "waiting", res["status"])
	assert.EqualValues(t, 1, res["queue_position"])
	assert.Equal(t, "Session is full. You have been added to the waiting list (position 1).", res["message"])

	w = do(t, h, http.MethodPost, "/registrations", `{"user_id":2,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "You are already on the waiting list (position 1).", decode[map[string]any](t, w)["message"])
}

func TestRegisterEndpoint_Errors(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"user_id":`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"user_id":1,"session_id":10,"seat":"A1"}`, http.StatusBadRequest, "invalid_request"},
		{"missing session", `{"user_id":1}`, http.StatusBadRequest, "invalid_request"},
		{"negative id", `{"user_id":-1,"session_id":10}`, http.StatusBadRequest, "invalid_request"},
		{"unknown user", `{"user_id":77,"session_id":10}`, http.StatusNotFound, "user_not_found"},
		{"unknown session", `{"user_id":1,"session_id":77}`, http.StatusNotFound, "session_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/registrations", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			res := decode[model.ErrorResponse](t, w)
			assert.Equal(t, tt.code, res.Error)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestRegisterEndpoint_Blocked(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	w := do(t, h, http.MethodPost, "/registrations", `{"user_id":4,"session_id":10}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	res := decode[model.ErrorResponse](t, w)
	assert.Equal(t, "user_blocked", res.Error)
	require.NotNil(t, res.BlockedUntil)
	assert.True(t, res.BlockedUntil.Equal(now.Add(48*time.Hour)))
}

func TestCancelEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	do(t, h, http.MethodPost, "/registrations", `{"user_id":1,"session_id":10}`)
	do(t, h, http.MethodPost, "/registrations", `{"user_id":2,"session_id":10}`)
	do(t, h, http.MethodPost, "/registrations", `{"user_id":3,"session_id":10}`)

	w := do(t, h, http.MethodPost, "/registrations/cancel", `{"user_id":3,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[model.CancelResponse](t, w)
	assert.Equal(t, model.StatusWaiting, res.OldStatus)
	assert.Equal(t, "Removed from waiting list successfully", res.Message)

	w = do(t, h, http.MethodPost, "/registrations/cancel", `{"user_id":1,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[model.CancelResponse](t, w)
	assert.Equal(t, model.StatusCancelled, res.NewStatus)
	assert.Equal(t, "Cancellation successful", res.Message)
	require.NotNil(t, res.PromotedUser)
	assert.Equal(t, int64(2), res.PromotedUser.UserID)

	w = do(t, h, http.MethodPost, "/registrations/cancel", `{"user_id":1,"session_id":10}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_cancelled", decode[model.ErrorResponse](t, w).Error)

	w = do(t, h, http.MethodPost, "/registrations/cancel", `{"user_id":3,"session_id":99}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "registration_not_found", decode[model.ErrorResponse](t, w).Error)
}

func TestCheckInEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	do(t, h, http.MethodPost, "/registrations", `{"user_id":1,"session_id":10}`)
	do(t, h, http.MethodPost, "/registrations", `{"user_id":2,"session_id":10}`)

	w := do(t, h, http.MethodPost, "/checkin", `{"user_id":1,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[model.CheckInResponse](t, w)
	assert.Equal(t, "Check-in successful", first.Message)
	assert.True(t, first.CheckinTime.Equal(now))

	w = do(t, h, http.MethodPost, "/checkin", `{"user_id":1,"session_id":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[model.CheckInResponse](t, w)
	assert.True(t, second.AlreadyCheckedIn)
	assert.Equal(t, "Already checked in, no need to check in again", second.Message)

	w = do(t, h, http.MethodPost, "/checkin", `{"user_id":2,"session_id":10}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_status", decode[model.ErrorResponse](t, w).Error)

	w = do(t, h, http.MethodPost, "/checkin", `{"user_id":3,"session_id":10}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())
	do(t, h, http.MethodPost, "/registrations", `{"user_id":1,"session_id":10}`)
	do(t, h, http.MethodPost, "/registrations", `{"user_id":2,"session_id":10}`)

	w := do(t, h, http.MethodGet, "/sessions/10", "")
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[model.SessionSummary](t, w)
	assert.Equal(t, 1, summary.CurrentRegistered)
	assert.Equal(t, 1, summary.Waiting)

	w = do(t, h, http.MethodGet, "/sessions/10/registrations", "")
	require.Equal(t, http.StatusOK, w.Code)
	regs := decode[[]model.SessionRegistration](t, w)
	require.Len(t, regs, 2)
	assert.Equal(t, int64(1), regs[0].UserID)

	w = do(t, h, http.MethodGet, "/users/3/registrations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = do(t, h, http.MethodGet, "/sessions/abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/sessions/99/registrations", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/users/99/registrations", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	do(t, h, http.MethodPost, "/registrations", `{"user_id":1,"session_id":10}`)
	w = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "registration_operation_outcomes_total")
	assert.Contains(t, w.Body.String(), `endpoint="/registrations"`)
}

func TestCorrelationIDHeader(t *testing.T) {
	h, _ := newTestRouter(t, testServerConfig())

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set(CorrelationIDHeader, "abc123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "abc123", w.Header().Get(CorrelationIDHeader))

	w = do(t, h, http.MethodGet, "/health", "")
	assert.Len(t, w.Header().Get(CorrelationIDHeader), 8)
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimitDisabled = false
	cfg.RateLimitRequests = 2
	cfg.RateLimitWindow = time.Minute
	h, _ := newTestRouter(t, cfg)

	for i := 0; i < 2; i++ {
		w := do(t, h, http.MethodGet, "/sessions/10", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, h, http.MethodGet, "/sessions/10", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decode[model.ErrorResponse](t, w).Error)

	// Health checks are not limited.
	w = do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
}

// storageFailingEngine returns a storage failure for every call.
type storageFailingEngine struct {
	Engine
}

func (storageFailingEngine) Register(context.Context, int64, int64) (*model.RegisterResult, error) {
	return nil, &service.StorageError{Op: "register", Err: context.DeadlineExceeded}
}

func TestStorageFailureIsRetryable(t *testing.T) {
	h := NewRouter(NewRegistrationHandler(storageFailingEngine{}), testServerConfig())

	w := do(t, h, http.MethodPost, "/registrations", `{"user_id":1,"session_id":10}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	res := decode[model.ErrorResponse](t, w)
	assert.Equal(t, "storage_failure", res.Error)
	assert.NotContains(t, res.Message, "deadline")
}

func TestStatusFor(t *testing.T) {
	tests := map[service.Kind]int{
		service.KindUserNotFound:               http.StatusNotFound,
		service.KindUserBlocked:                http.StatusForbidden,
		service.KindSessionNotFound:            http.StatusNotFound,
		service.KindSessionClosed:              http.StatusConflict,
		service.KindDuplicateEventRegistration: http.StatusConflict,
		service.KindWaitlistFull:               http.StatusConflict,
		service.KindRegistrationNotFound:       http.StatusNotFound,
		service.KindAlreadyCancelled:           http.StatusConflict,
		service.KindInvalidStatus:              http.StatusConflict,
		service.KindStorageFailure:             http.StatusServiceUnavailable,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}
