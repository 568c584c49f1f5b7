//go:build integration

package repository_test

import (
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/config"
	"github.com/Shivanand-hulikatti/session-registration/internal/database"
	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
	"github.com/Shivanand-hulikatti/session-registration/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

// startPostgres runs a throwaway PostgreSQL container with the schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "eventbooking",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := database.NewPool(ctx, config.DatabaseConfig{
		Host:              host,
		Port:              port.Port(),
		User:              "postgres",
		Password:          "postgres",
		Name:              "eventbooking",
		SSLMode:           "disable",
		MaxConns:          40,
		MinConns:          1,
		MaxConnLifetime:   time.Minute,
		MaxConnIdleTime:   time.Minute,
		ConnectAttempts:   10,
		ConnectRetryDelay: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func seed(t *testing.T, pool *pgxpool.Pool, users int, capacity int, start, end time.Time) (eventID, sessionID int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO events (title, location) VALUES ('Go Workshop', 'Room A') RETURNING event_id`,
	).Scan(&eventID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO event_sessions (event_id, start_time, end_time, capacity)
		 VALUES ($1, $2, $3, $4) RETURNING session_id`,
		eventID, start, end, capacity,
	).Scan(&sessionID))

	_, err := pool.Exec(ctx,
		`INSERT INTO users (user_id, name, email)
		 SELECT g, 'user ' || g, 'user' || g || '@example.com'
		 FROM generate_series(1, $1) AS g
		 ON CONFLICT (user_id) DO NOTHING`,
		users,
	)
	require.NoError(t, err)
	return eventID, sessionID
}

func requireInvariants(t *testing.T, store repository.Store, sessionID int64) {
	t.Helper()
	ctx := context.Background()

	sess, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	regs, err := store.ListSessionRegistrations(ctx, sessionID)
	require.NoError(t, err)

	registered, waiting := 0, 0
	for _, r := range regs {
		switch r.Status {
		case model.StatusRegistered:
			registered++
		case model.StatusWaiting:
			waiting++
			require.NotNil(t, r.QueuePosition)
			// Rows are ordered by queue position, so the n-th waiting row
			// must hold position n.
			require.Equal(t, waiting, *r.QueuePosition)
		}
	}
	require.Equal(t, registered, sess.CurrentRegistered)
	require.LessOrEqual(t, sess.CurrentRegistered, sess.Capacity)
}

func TestPostgresStore_Integration(t *testing.T) {
	pool := startPostgres(t)
	store := repository.NewPostgresStore(pool, 5*time.Second)
	now := time.Now().UTC().Truncate(time.Microsecond)
	ctx := context.Background()

	t.Run("no double seating under load", func(t *testing.T) {
		const users = 500
		_, sessionID := seed(t, pool, users, 25, now.Add(24*time.Hour), now.Add(26*time.Hour))
		svc := service.NewRegistrationService(store)

		var registered, waiting atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(50)
		for id := int64(1); id <= users; id++ {
			id := id
			g.Go(func() error {
				res, err := svc.Register(gctx, id, sessionID)
				if err != nil {
					return err
				}
				if res.Status == model.StatusRegistered {
					registered.Add(1)
				} else {
					waiting.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(25), registered.Load())
		assert.Equal(t, int32(475), waiting.Load())
		requireInvariants(t, store, sessionID)
	})

	t.Run("cancel promotes and re-register reuses row", func(t *testing.T) {
		_, sessionID := seed(t, pool, 3, 2, now.Add(24*time.Hour), now.Add(26*time.Hour))
		svc := service.NewRegistrationService(store)

		for _, id := range []int64{1, 2, 3} {
			_, err := svc.Register(ctx, id, sessionID)
			require.NoError(t, err)
		}
		res, err := svc.Cancel(ctx, 1, sessionID)
		require.NoError(t, err)
		require.NotNil(t, res.PromotedUser)
		assert.Equal(t, int64(3), res.PromotedUser.UserID)
		requireInvariants(t, store, sessionID)

		again, err := svc.Register(ctx, 1, sessionID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusWaiting, again.Status)
		assert.Equal(t, model.IntPtr(1), again.QueuePosition)

		var rows int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM registrations WHERE user_id = 1 AND session_id = $1`, sessionID,
		).Scan(&rows))
		assert.Equal(t, 1, rows)

		_, err = svc.Cancel(ctx, 2, sessionID)
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, 2, sessionID)
		require.ErrorIs(t, err, service.ErrAlreadyCancelled)
		requireInvariants(t, store, sessionID)
	})

	t.Run("check-in is idempotent", func(t *testing.T) {
		_, sessionID := seed(t, pool, 1, 5, now.Add(24*time.Hour), now.Add(26*time.Hour))
		svc := service.NewRegistrationService(store)

		_, err := svc.Register(ctx, 1, sessionID)
		require.NoError(t, err)
		first, err := svc.CheckIn(ctx, 1, sessionID)
		require.NoError(t, err)
		second, err := svc.CheckIn(ctx, 1, sessionID)
		require.NoError(t, err)
		assert.True(t, second.AlreadyCheckedIn)
		assert.True(t, first.CheckinTime.Equal(second.CheckinTime))
	})

	t.Run("no-show penalty", func(t *testing.T) {
		var eventID int64
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO events (title, allow_multi_session) VALUES ('Series', TRUE) RETURNING event_id`,
		).Scan(&eventID))
		_, err := pool.Exec(ctx,
			`INSERT INTO users (user_id, name, email) VALUES (9001, 'absent', 'absent@example.com')`)
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			end := now.Add(-time.Duration(i) * 24 * time.Hour)
			var sid int64
			require.NoError(t, pool.QueryRow(ctx,
				`INSERT INTO event_sessions (event_id, start_time, end_time, capacity, current_registered, status)
				 VALUES ($1, $2, $3, 10, 1, 'closed') RETURNING session_id`,
				eventID, end.Add(-time.Hour), end,
			).Scan(&sid))
			_, err := pool.Exec(ctx,
				`INSERT INTO registrations (user_id, session_id, status, register_time)
				 VALUES (9001, $1, 'registered', $2)`,
				sid, end.Add(-48*time.Hour),
			)
			require.NoError(t, err)
		}
		var open int64
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO event_sessions (event_id, start_time, end_time, capacity)
			 VALUES ($1, $2, $3, 10) RETURNING session_id`,
			eventID, now.Add(24*time.Hour), now.Add(25*time.Hour),
		).Scan(&open))

		svc := service.NewRegistrationService(store, service.WithClock(func() time.Time { return now }))
		_, err = svc.Register(ctx, 9001, open)
		var blocked *service.BlockedError
		require.ErrorAs(t, err, &blocked)
		assert.True(t, blocked.Until.Equal(now.Add(30*24*time.Hour)))

		u, err := store.GetUser(ctx, 9001)
		require.NoError(t, err)
		require.NotNil(t, u.BlockedUntil)
		assert.True(t, u.BlockedUntil.Equal(blocked.Until))

		ids, err := store.UsersWithNoShows(ctx, now.Add(-30*24*time.Hour), now)
		require.NoError(t, err)
		assert.Contains(t, ids, int64(9001))
	})

	t.Run("lock timeout", func(t *testing.T) {
		_, sessionID := seed(t, pool, 1, 5, now.Add(24*time.Hour), now.Add(26*time.Hour))
		short := repository.NewPostgresStore(pool, 100*time.Millisecond)

		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				if _, err := tx.LockSession(ctx, sessionID); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		_, err := service.NewRegistrationService(short).Register(ctx, 1, sessionID)
		require.ErrorIs(t, err, service.ErrStorageFailure)
		require.ErrorIs(t, err, repository.ErrLockTimeout)

		close(release)
		require.NoError(t, <-done)
	})
}
