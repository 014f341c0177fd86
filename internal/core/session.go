package core

import (
	"strings"
	"sync"
	"time"
)

// DefaultSessionTTL is the inactivity window after which a session is
// indistinguishable from a brand-new one.
const DefaultSessionTTL = 15 * time.Minute

// SessionStore is a volatile, expiring store of per-phone sessions. At most
// one session exists per phone; Acquire serializes turns for the same phone
// while unrelated phones proceed concurrently.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex // held for the whole message turn
	session *Session
}

// NewSessionStore creates a store with the given inactivity TTL; ttl <= 0
// uses DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*sessionEntry),
	}
}

// normalizePhone strips the transport suffix ("51999@s.whatsapp.net") and
// separators so the same user always maps to the same key.
func normalizePhone(phone string) string {
	phone, _, _ = strings.Cut(phone, "@")
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	return strings.TrimSpace(phone)
}

// Acquire returns the session for phone, creating a fresh IDLE one when
// absent or expired, with the per-phone lock held. The caller must invoke
// release when the turn is done. An aged-out session is reset in place, so
// expiry is lazy and needs no background sweep to be observable.
func (st *SessionStore) Acquire(phone string) (*Session, func()) {
	key := normalizePhone(phone)

	st.mu.Lock()
	e, ok := st.entries[key]
	if !ok {
		e = &sessionEntry{session: &Session{Phone: key, State: StateIdle}}
		st.entries[key] = e
	}
	st.mu.Unlock()

	// Blocks behind any in-flight turn for the same phone, including an
	// outstanding emission call. This is the serialization invariant, not an
	// optimization.
	e.mu.Lock()

	now := st.now()
	if !e.session.LastActivity.IsZero() && now.Sub(e.session.LastActivity) > st.ttl {
		hadData := e.session.HasEmissionData()
		e.session = &Session{Phone: key, State: StateIdle, PriorExpired: hadData}
	}
	e.session.LastActivity = now

	return e.session, e.mu.Unlock
}

// Sweep evicts sessions idle longer than the TTL. Entries whose per-phone
// lock is held (a turn in flight) are skipped; their expiry stays lazy.
func (st *SessionStore) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for key, e := range st.entries {
		if !e.mu.TryLock() {
			continue
		}
		if !e.session.LastActivity.IsZero() && now.Sub(e.session.LastActivity) > st.ttl {
			delete(st.entries, key)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

// Len returns the number of live sessions. Used by tests and health checks.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}
