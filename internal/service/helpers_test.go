package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
	"github.com/Shivanand-hulikatti/session-registration/internal/service"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store *repository.MemoryStore
	svc   *service.RegistrationService
	clock *fakeClock
}

func newHarness(t *testing.T, opts ...service.Option) *harness {
	t.Helper()
	store := repository.NewMemoryStore(0)
	clock := &fakeClock{now: baseTime}
	opts = append([]service.Option{service.WithClock(clock.Now)}, opts...)
	return &harness{
		store: store,
		svc:   service.NewRegistrationService(store, opts...),
		clock: clock,
	}
}

func (h *harness) addUsers(ids ...int64) {
	for _, id := range ids {
		h.store.PutUser(model.User{ID: id, Name: "user", Email: "user@example.com"})
	}
}

func (h *harness) addEvent(id int64, multi bool) {
	h.store.PutEvent(model.Event{ID: id, Title: "event", Location: "hall", AllowMultiSession: multi})
}

// addSession adds an open session starting a day after baseTime.
func (h *harness) addSession(t *testing.T, id, eventID int64, capacity, waitLimit int) {
	t.Helper()
	require.NoError(t, h.store.PutSession(model.Session{
		ID:               id,
		EventID:          eventID,
		StartTime:        baseTime.Add(day),
		EndTime:          baseTime.Add(day + 2*time.Hour),
		Capacity:         capacity,
		WaitingListLimit: waitLimit,
		Status:           model.SessionOpen,
	}))
}

// addNoShows gives the user n registered, never checked-in rows in sessions
// that ended the given offsets before baseTime.
func (h *harness) addNoShows(t *testing.T, userID int64, firstSessionID int64, endedAgo ...time.Duration) {
	t.Helper()
	h.addEvent(900, true)
	for i, ago := range endedAgo {
		sid := firstSessionID + int64(i)
		end := baseTime.Add(-ago)
		require.NoError(t, h.store.PutSession(model.Session{
			ID:                sid,
			EventID:           900,
			StartTime:         end.Add(-time.Hour),
			EndTime:           end,
			Capacity:          10,
			CurrentRegistered: 1,
			Status:            model.SessionClosed,
		}))
		h.store.PutRegistration(model.Registration{
			UserID:       userID,
			SessionID:    sid,
			Status:       model.StatusRegistered,
			RegisterTime: end.Add(-48 * time.Hour),
		})
	}
}

// requireInvariants checks the capacity counter and queue contiguity of one
// session.
func requireInvariants(t *testing.T, store repository.Store, sessionID int64) {
	t.Helper()
	ctx := context.Background()

	sess, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	regs, err := store.ListSessionRegistrations(ctx, sessionID)
	require.NoError(t, err)

	registered := 0
	var positions []int
	for _, r := range regs {
		switch r.Status {
		case model.StatusRegistered:
			registered++
			require.Nil(t, r.QueuePosition, "registered row of user %d has a queue position", r.UserID)
		case model.StatusWaiting:
			require.NotNil(t, r.QueuePosition, "waiting row of user %d has no queue position", r.UserID)
			positions = append(positions, *r.QueuePosition)
		case model.StatusCancelled:
			require.Nil(t, r.QueuePosition, "cancelled row of user %d has a queue position", r.UserID)
		}
	}

	require.Equal(t, registered, sess.CurrentRegistered, "current_registered drifted from ledger")
	require.LessOrEqual(t, sess.CurrentRegistered, sess.Capacity)

	sort.Ints(positions)
	for i, p := range positions {
		require.Equal(t, i+1, p, "queue positions are not dense: %v", positions)
	}
}

func statusOf(t *testing.T, store repository.Store, userID, sessionID int64) model.Registration {
	t.Helper()
	regs, err := store.ListSessionRegistrations(context.Background(), sessionID)
	require.NoError(t, err)
	for _, r := range regs {
		if r.UserID == userID {
			return r.Registration
		}
	}
	t.Fatalf("no registration for user %d in session %d", userID, sessionID)
	return model.Registration{}
}
