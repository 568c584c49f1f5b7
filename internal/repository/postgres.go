package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLockNotAvailable is raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

// PostgresStore persists sessions and registrations in PostgreSQL.
// It uses pgx directly (no ORM) for transparency and performance.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a PostgresStore. A positive lockTimeout bounds
// every row-lock wait inside InTx.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// InTx runs fn inside a single transaction.
//
// ─────────────────────────────────────────────────────────────────────────────
// RACE CONDITION EXPLAINED
// ─────────────────────────────────────────────────────────────────────────────
//
// Naive read-then-write approach (BROKEN):
//
//	request A: SELECT current_registered FROM event_sessions WHERE id = X  → 24
//	request B: SELECT current_registered FROM event_sessions WHERE id = X  → 24
//	request A: capacity=25, 24 < 25 → INSERT registered, current_registered=25
//	request B: capacity=25, 24 < 25 → INSERT registered, current_registered=25
//	Result: 26 seated in a 25-seat session, and the counter says 25.
//
// The same interleaving hands two waiting rows the same queue_position.
//
// SOLUTION: every mutating operation starts with SELECT … FOR UPDATE on the
// session row (LockSession). Concurrent transactions on the same session
// queue behind that lock until COMMIT or ROLLBACK, so capacity and queue
// positions are read and written by one transaction at a time. Different
// sessions lock different rows and proceed in parallel.
//
// Lock order is always session → user → registration, which rules out
// deadlock between Register and Cancel on the same session.
// ─────────────────────────────────────────────────────────────────────────────
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	// Ensure the transaction is always resolved, even if ctx is already done.
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if s.lockTimeout > 0 {
		// SET LOCAL does not take bind parameters.
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", translate(err))
		}
	}

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	// Commit – only now does any other transaction see the change.
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

// translate maps driver errors onto repository sentinels where one exists.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}

const sessionColumns = `s.session_id, s.event_id, s.start_time, s.end_time, s.capacity,
	s.current_registered, s.waiting_list_limit, s.status, e.allow_multi_session`

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		sess   model.Session
		status string
	)
	err := row.Scan(
		&sess.ID, &sess.EventID, &sess.StartTime, &sess.EndTime, &sess.Capacity,
		&sess.CurrentRegistered, &sess.WaitingListLimit, &status, &sess.AllowMultiSession,
	)
	if err != nil {
		return nil, translate(err)
	}
	sess.Status = model.SessionStatus(status)
	return &sess, nil
}

const registrationColumns = `r.user_id, r.session_id, r.status, r.queue_position, r.register_time, r.checkin_time`

func registrationDest(reg *model.Registration, status *string) []any {
	return []any{&reg.UserID, &reg.SessionID, status, &reg.QueuePosition, &reg.RegisterTime, &reg.CheckinTime}
}

// GetSession returns a session without locking it.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID int64) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM event_sessions s
		 JOIN events e ON e.event_id = s.event_id
		 WHERE s.session_id = $1`,
		sessionID,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, err
}

// GetUser returns a user without locking it.
func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT user_id, name, email, blocked_until FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.BlockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CountWaiting counts committed waiting rows for a session.
func (s *PostgresStore) CountWaiting(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = $1 AND status = 'waiting'`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}

// ListSessionRegistrations returns every ledger row of a session ordered by
// status priority, queue position and register time.
func (s *PostgresStore) ListSessionRegistrations(ctx context.Context, sessionID int64) ([]model.SessionRegistration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+registrationColumns+`, u.name
		 FROM registrations r
		 JOIN users u ON u.user_id = r.user_id
		 WHERE r.session_id = $1
		 ORDER BY
		   CASE r.status
		     WHEN 'registered' THEN 1
		     WHEN 'waiting' THEN 2
		     WHEN 'cancelled' THEN 3
		     ELSE 4
		   END,
		   r.queue_position ASC NULLS FIRST,
		   r.register_time ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list session registrations: %w", err)
	}
	defer rows.Close()

	var out []model.SessionRegistration
	for rows.Next() {
		var (
			sr     model.SessionRegistration
			status string
		)
		dest := append(registrationDest(&sr.Registration, &status), &sr.UserName)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		sr.Status = model.RegistrationStatus(status)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// ListUserRegistrations returns a user's history ordered by session start.
func (s *PostgresStore) ListUserRegistrations(ctx context.Context, userID int64) ([]model.UserRegistration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+registrationColumns+`, e.event_id, e.title, e.location, s.start_time, s.end_time
		 FROM registrations r
		 JOIN event_sessions s ON s.session_id = r.session_id
		 JOIN events e ON e.event_id = s.event_id
		 WHERE r.user_id = $1
		 ORDER BY s.start_time ASC, r.register_time ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user registrations: %w", err)
	}
	defer rows.Close()

	var out []model.UserRegistration
	for rows.Next() {
		var (
			ur     model.UserRegistration
			status string
		)
		dest := append(registrationDest(&ur.Registration, &status),
			&ur.EventID, &ur.EventTitle, &ur.EventLocation, &ur.StartTime, &ur.EndTime)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		ur.Status = model.RegistrationStatus(status)
		out = append(out, ur)
	}
	return out, rows.Err()
}

// UsersWithNoShows lists users with a no-show whose session ended in [since, now).
func (s *PostgresStore) UsersWithNoShows(ctx context.Context, since, now time.Time) ([]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT r.user_id
		 FROM registrations r
		 JOIN event_sessions s ON s.session_id = r.session_id
		 WHERE r.status = 'registered'
		   AND r.checkin_time IS NULL
		   AND s.end_time < $2
		   AND s.end_time >= $1
		 ORDER BY r.user_id`,
		since, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list no-show users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

// LockSession acquires an exclusive row-level lock on the session.
//
// SELECT … FOR UPDATE OF s locks only the session row, not the joined event,
// so sessions of the same event do not contend with each other.
func (t *pgTx) LockSession(ctx context.Context, sessionID int64) (*model.Session, error) {
	sess, err := scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM event_sessions s
		 JOIN events e ON e.event_id = s.event_id
		 WHERE s.session_id = $1
		 FOR UPDATE OF s`,
		sessionID,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lock session row: %w", err)
	}
	return sess, err
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, name, email, blocked_until
		 FROM users
		 WHERE user_id = $1
		 FOR UPDATE`,
		userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.BlockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock user row: %w", translate(err))
	}
	return &u, nil
}

func (t *pgTx) LockRegistration(ctx context.Context, userID, sessionID int64) (*model.Registration, error) {
	var (
		reg    model.Registration
		status string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations r
		 WHERE r.user_id = $1 AND r.session_id = $2
		 FOR UPDATE`,
		userID, sessionID,
	).Scan(registrationDest(&reg, &status)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock registration row: %w", translate(err))
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}

// AdjustRegistered moves current_registered by delta, never below zero.
func (t *pgTx) AdjustRegistered(ctx context.Context, sessionID int64, delta int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE event_sessions
		 SET current_registered = GREATEST(current_registered + $2, 0)
		 WHERE session_id = $1`,
		sessionID, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust current_registered: %w", translate(err))
	}
	return nil
}

func (t *pgTx) HasOtherActiveRegistration(ctx context.Context, userID, eventID, sessionID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM registrations r
		   JOIN event_sessions s ON s.session_id = r.session_id
		   WHERE r.user_id = $1
		     AND s.event_id = $2
		     AND r.session_id <> $3
		     AND r.status IN ('registered', 'waiting')
		 )`,
		userID, eventID, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event registrations: %w", translate(err))
	}
	return exists, nil
}

func (t *pgTx) CountWaiting(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = $1 AND status = 'waiting'`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", translate(err))
	}
	return n, nil
}

func (t *pgTx) WaitingHead(ctx context.Context, sessionID int64) (*model.Registration, error) {
	var (
		reg    model.Registration
		status string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations r
		 WHERE r.session_id = $1 AND r.status = 'waiting'
		 ORDER BY r.queue_position ASC, r.register_time ASC
		 LIMIT 1
		 FOR UPDATE`,
		sessionID,
	).Scan(registrationDest(&reg, &status)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select waiting head: %w", translate(err))
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}

func (t *pgTx) ShiftQueue(ctx context.Context, sessionID int64, after int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE registrations
		 SET queue_position = queue_position - 1
		 WHERE session_id = $1
		   AND status = 'waiting'
		   AND queue_position > $2`,
		sessionID, after,
	)
	if err != nil {
		return fmt.Errorf("shift queue: %w", translate(err))
	}
	return nil
}

func (t *pgTx) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO registrations (user_id, session_id, status, queue_position, register_time, checkin_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		reg.UserID, reg.SessionID, string(reg.Status), reg.QueuePosition, reg.RegisterTime, reg.CheckinTime,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", translate(err))
	}
	return nil
}

func (t *pgTx) UpdateRegistration(ctx context.Context, reg *model.Registration) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE registrations
		 SET status = $3, queue_position = $4, register_time = $5, checkin_time = $6
		 WHERE user_id = $1 AND session_id = $2`,
		reg.UserID, reg.SessionID, string(reg.Status), reg.QueuePosition, reg.RegisterTime, reg.CheckinTime,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) CountNoShows(ctx context.Context, userID int64, since, now time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM registrations r
		 JOIN event_sessions s ON s.session_id = r.session_id
		 WHERE r.user_id = $1
		   AND r.status = 'registered'
		   AND r.checkin_time IS NULL
		   AND s.end_time < $3
		   AND s.end_time >= $2`,
		userID, since, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count no-shows: %w", translate(err))
	}
	return n, nil
}

func (t *pgTx) SetBlockedUntil(ctx context.Context, userID int64, until time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE users SET blocked_until = $2 WHERE user_id = $1`,
		userID, until,
	)
	if err != nil {
		return fmt.Errorf("set blocked_until: %w", translate(err))
	}
	return nil
}
