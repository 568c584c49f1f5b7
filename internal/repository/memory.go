package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/model"
)

type regKey struct {
	userID    int64
	sessionID int64
}

// MemoryStore is an in-process Store.
//
// Row locks are one-slot channels keyed by row identity and held by the
// owning transaction until commit or rollback, which mirrors the row-lock
// semantics of PostgresStore: a session's transactions run one at a time,
// unrelated sessions never wait on each other. A transaction buffers its
// writes and publishes them under mu at commit, so readers only ever see
// committed state.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[int64]model.User
	events   map[int64]model.Event
	sessions map[int64]model.Session
	regs     map[regKey]model.Registration
	locks    map[string]*rowLock

	lockTimeout time.Duration
}

// rowLock is a row lock and the number of transactions holding or waiting
// for it. The entry is dropped from MemoryStore.locks when refs reaches 0.
type rowLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore returns an empty MemoryStore. A positive lockTimeout bounds
// every row-lock wait.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]model.User),
		events:      make(map[int64]model.Event),
		sessions:    make(map[int64]model.Session),
		regs:        make(map[regKey]model.Registration),
		locks:       make(map[string]*rowLock),
		lockTimeout: lockTimeout,
	}
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.BlockedUntil = cloneTime(u.BlockedUntil)
	s.users[u.ID] = u
}

// PutEvent inserts or replaces an event.
func (s *MemoryStore) PutEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

// PutSession inserts or replaces a session. The owning event must exist.
func (s *MemoryStore) PutSession(sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[sess.EventID]; !ok {
		return fmt.Errorf("put session %d: event %d: %w", sess.ID, sess.EventID, ErrNotFound)
	}
	if sess.Capacity <= 0 {
		return fmt.Errorf("put session %d: capacity must be positive", sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

// PutRegistration inserts or replaces a ledger row as-is, without touching
// session counters. Intended for seeding history.
func (s *MemoryStore) PutRegistration(reg model.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[regKey{reg.UserID, reg.SessionID}] = cloneReg(reg)
}

// InTx runs fn with a transaction that holds its row locks until it
// resolves. Writes become visible to other readers only when fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := newMemTx(s)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// acquireRef returns the lock for key, creating it if needed, and counts the
// caller as a holder or waiter.
func (s *MemoryStore) acquireRef(key string) *rowLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *MemoryStore) dropRef(key string, l *rowLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *MemoryStore) sessionLocked(id int64) (model.Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return sess, false
	}
	sess.AllowMultiSession = s.events[sess.EventID].AllowMultiSession
	return sess, true
}

// GetSession returns a copy of the session.
func (s *MemoryStore) GetSession(_ context.Context, sessionID int64) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessionLocked(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// GetUser returns a copy of the user.
func (s *MemoryStore) GetUser(_ context.Context, userID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	u.BlockedUntil = cloneTime(u.BlockedUntil)
	return &u, nil
}

func (s *MemoryStore) CountWaiting(_ context.Context, sessionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countWaitingLocked(sessionID), nil
}

func (s *MemoryStore) countWaitingLocked(sessionID int64) int {
	n := 0
	for k, r := range s.regs {
		if k.sessionID == sessionID && r.Status == model.StatusWaiting {
			n++
		}
	}
	return n
}

// ListSessionRegistrations returns the session's rows ordered by status
// priority, queue position and register time.
func (s *MemoryStore) ListSessionRegistrations(_ context.Context, sessionID int64) ([]model.SessionRegistration, error) {
	s.mu.Lock()
	var out []model.SessionRegistration
	for k, r := range s.regs {
		if k.sessionID != sessionID {
			continue
		}
		out = append(out, model.SessionRegistration{
			Registration: cloneReg(r),
			UserName:     s.users[k.userID].Name,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Registration, out[j].Registration
		if pa, pb := a.Status.Priority(), b.Status.Priority(); pa != pb {
			return pa < pb
		}
		if qa, qb := queueOrNull(a.QueuePosition), queueOrNull(b.QueuePosition); qa != qb {
			return qa < qb
		}
		if !a.RegisterTime.Equal(b.RegisterTime) {
			return a.RegisterTime.Before(b.RegisterTime)
		}
		return a.UserID < b.UserID
	})
	return out, nil
}

// ListUserRegistrations returns the user's rows ordered by session start.
func (s *MemoryStore) ListUserRegistrations(_ context.Context, userID int64) ([]model.UserRegistration, error) {
	s.mu.Lock()
	var out []model.UserRegistration
	for k, r := range s.regs {
		if k.userID != userID {
			continue
		}
		sess := s.sessions[k.sessionID]
		ev := s.events[sess.EventID]
		out = append(out, model.UserRegistration{
			Registration:  cloneReg(r),
			EventID:       ev.ID,
			EventTitle:    ev.Title,
			EventLocation: ev.Location,
			StartTime:     sess.StartTime,
			EndTime:       sess.EndTime,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		if !a.RegisterTime.Equal(b.RegisterTime) {
			return a.RegisterTime.Before(b.RegisterTime)
		}
		return a.SessionID < b.SessionID
	})
	return out, nil
}

// UsersWithNoShows lists users with a no-show whose session ended in [since, now).
func (s *MemoryStore) UsersWithNoShows(_ context.Context, since, now time.Time) ([]int64, error) {
	s.mu.Lock()
	seen := make(map[int64]struct{})
	for k, r := range s.regs {
		if s.isNoShowLocked(k, r, since, now) {
			seen[k.userID] = struct{}{}
		}
	}
	s.mu.Unlock()

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) isNoShowLocked(k regKey, r model.Registration, since, now time.Time) bool {
	if r.Status != model.StatusRegistered || r.CheckinTime != nil {
		return false
	}
	sess, ok := s.sessions[k.sessionID]
	return ok && endedWithin(sess, since, now)
}

// endedWithin reports whether the session ended in [since, now).
func endedWithin(sess model.Session, since, now time.Time) bool {
	return sess.EndTime.Before(now) && !sess.EndTime.Before(since)
}

// memTx is a MemoryStore transaction. Reads see committed state overlaid
// with the transaction's own pending writes.
type memTx struct {
	s    *MemoryStore
	held map[string]*rowLock

	sessions map[int64]model.Session
	users    map[int64]model.User
	regs     map[regKey]model.Registration
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:        s,
		held:     make(map[string]*rowLock),
		sessions: make(map[int64]model.Session),
		users:    make(map[int64]model.User),
		regs:     make(map[regKey]model.Registration),
	}
}

// lock blocks until the row lock for key is acquired, ctx is done, or the
// store's lock timeout expires. Locks are re-entrant within one transaction.
func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	l := t.s.acquireRef(key)

	var timeout <-chan time.Time
	if t.s.lockTimeout > 0 {
		timer := time.NewTimer(t.s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l.ch <- struct{}{}:
		t.held[key] = l
		return nil
	case <-ctx.Done():
		t.s.dropRef(key, l)
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	case <-timeout:
		t.s.dropRef(key, l)
		return fmt.Errorf("lock %s: %w", key, ErrLockTimeout)
	}
}

func (t *memTx) release() {
	for key, l := range t.held {
		<-l.ch
		t.s.dropRef(key, l)
	}
	t.held = nil
}

// commit publishes the pending writes. Row locks are still held.
func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, sess := range t.sessions {
		t.s.sessions[id] = sess
	}
	for id, u := range t.users {
		t.s.users[id] = u
	}
	for k, r := range t.regs {
		t.s.regs[k] = r
	}
}

func sessionLockKey(id int64) string { return fmt.Sprintf("session:%d", id) }

func userLockKey(id int64) string { return fmt.Sprintf("user:%d", id) }

func regLockKey(userID, sessionID int64) string {
	return fmt.Sprintf("registration:%d:%d", userID, sessionID)
}

// session returns the transaction's view of a session row.
func (t *memTx) session(id int64) (model.Session, bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	sess, ok := t.sessions[id]
	if !ok {
		sess, ok = t.s.sessions[id]
	}
	if !ok {
		return sess, false
	}
	sess.AllowMultiSession = t.s.events[sess.EventID].AllowMultiSession
	return sess, true
}

func (t *memTx) user(id int64) (model.User, bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	u, ok := t.users[id]
	if !ok {
		u, ok = t.s.users[id]
	}
	u.BlockedUntil = cloneTime(u.BlockedUntil)
	return u, ok
}

// registrations returns the transaction's view of the ledger rows whose key
// matches.
func (t *memTx) registrations(match func(regKey) bool) map[regKey]model.Registration {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make(map[regKey]model.Registration)
	for k, r := range t.s.regs {
		if match(k) {
			out[k] = r
		}
	}
	for k, r := range t.regs {
		if match(k) {
			out[k] = r
		}
	}
	return out
}

func (t *memTx) registration(k regKey) (model.Registration, bool) {
	rows := t.registrations(func(rk regKey) bool { return rk == k })
	r, ok := rows[k]
	return cloneReg(r), ok
}

func (t *memTx) sessionRows(sessionID int64) map[regKey]model.Registration {
	return t.registrations(func(k regKey) bool { return k.sessionID == sessionID })
}

func (t *memTx) LockSession(ctx context.Context, sessionID int64) (*model.Session, error) {
	if err := t.lock(ctx, sessionLockKey(sessionID)); err != nil {
		return nil, fmt.Errorf("lock session row: %w", err)
	}
	sess, ok := t.session(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (t *memTx) LockUser(ctx context.Context, userID int64) (*model.User, error) {
	if err := t.lock(ctx, userLockKey(userID)); err != nil {
		return nil, fmt.Errorf("lock user row: %w", err)
	}
	u, ok := t.user(userID)
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) LockRegistration(ctx context.Context, userID, sessionID int64) (*model.Registration, error) {
	if err := t.lock(ctx, regLockKey(userID, sessionID)); err != nil {
		return nil, fmt.Errorf("lock registration row: %w", err)
	}
	r, ok := t.registration(regKey{userID, sessionID})
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) AdjustRegistered(_ context.Context, sessionID int64, delta int) error {
	sess, ok := t.session(sessionID)
	if !ok {
		return fmt.Errorf("adjust current_registered: %w", ErrNotFound)
	}
	sess.CurrentRegistered += delta
	if sess.CurrentRegistered < 0 {
		sess.CurrentRegistered = 0
	}
	t.sessions[sessionID] = sess
	return nil
}

func (t *memTx) HasOtherActiveRegistration(_ context.Context, userID, eventID, sessionID int64) (bool, error) {
	rows := t.registrations(func(k regKey) bool { return k.userID == userID && k.sessionID != sessionID })
	for k, r := range rows {
		if !r.Status.Active() {
			continue
		}
		if sess, ok := t.session(k.sessionID); ok && sess.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountWaiting(_ context.Context, sessionID int64) (int, error) {
	n := 0
	for _, r := range t.sessionRows(sessionID) {
		if r.Status == model.StatusWaiting {
			n++
		}
	}
	return n, nil
}

func (t *memTx) WaitingHead(_ context.Context, sessionID int64) (*model.Registration, error) {
	var head *model.Registration
	for _, r := range t.sessionRows(sessionID) {
		if r.Status != model.StatusWaiting {
			continue
		}
		if head == nil || waitingBefore(r, *head) {
			c := cloneReg(r)
			head = &c
		}
	}
	if head == nil {
		return nil, ErrNotFound
	}
	return head, nil
}

// waitingBefore orders waiting rows by (queue_position, register_time).
func waitingBefore(a, b model.Registration) bool {
	if qa, qb := queueOrNull(a.QueuePosition), queueOrNull(b.QueuePosition); qa != qb {
		return qa < qb
	}
	if !a.RegisterTime.Equal(b.RegisterTime) {
		return a.RegisterTime.Before(b.RegisterTime)
	}
	return a.UserID < b.UserID
}

func (t *memTx) ShiftQueue(_ context.Context, sessionID int64, after int) error {
	for k, r := range t.sessionRows(sessionID) {
		if r.Status != model.StatusWaiting || r.QueuePosition == nil {
			continue
		}
		if *r.QueuePosition > after {
			next := cloneReg(r)
			next.QueuePosition = model.IntPtr(*r.QueuePosition - 1)
			t.regs[k] = next
		}
	}
	return nil
}

func (t *memTx) InsertRegistration(_ context.Context, reg *model.Registration) error {
	k := regKey{reg.UserID, reg.SessionID}
	if _, ok := t.registration(k); ok {
		return fmt.Errorf("insert registration (%d, %d): duplicate key", reg.UserID, reg.SessionID)
	}
	t.regs[k] = cloneReg(*reg)
	return nil
}

func (t *memTx) UpdateRegistration(_ context.Context, reg *model.Registration) error {
	k := regKey{reg.UserID, reg.SessionID}
	if _, ok := t.registration(k); !ok {
		return ErrNotFound
	}
	t.regs[k] = cloneReg(*reg)
	return nil
}

func (t *memTx) CountNoShows(_ context.Context, userID int64, since, now time.Time) (int, error) {
	n := 0
	for k, r := range t.registrations(func(k regKey) bool { return k.userID == userID }) {
		if r.Status != model.StatusRegistered || r.CheckinTime != nil {
			continue
		}
		if sess, ok := t.session(k.sessionID); ok && endedWithin(sess, since, now) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) SetBlockedUntil(_ context.Context, userID int64, until time.Time) error {
	u, ok := t.user(userID)
	if !ok {
		return fmt.Errorf("set blocked_until: %w", ErrNotFound)
	}
	u.BlockedUntil = &until
	t.users[userID] = u
	return nil
}

func queueOrNull(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneReg(r model.Registration) model.Registration {
	if r.QueuePosition != nil {
		r.QueuePosition = model.IntPtr(*r.QueuePosition)
	}
	r.CheckinTime = cloneTime(r.CheckinTime)
	return r
}
