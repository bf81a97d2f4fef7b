/**
 * @description
 * Sessions hands out one Session per user. A Session bundles the four engine components
 * around a single mutex, so every mutating operation for a user is serialized while
 * different users proceed in parallel.
 */
package app

import (
	"sync"
	"time"
)

// Session is the engine instance for one authenticated user.
type Session struct {
	mu     sync.Mutex
	userID string

	// Guarded by the owning Sessions registry.
	lastUsed time.Time
	refs     int

	Gateway     *PaymentGateway
	Plans       *PlanStore
	Ledger      *InvestmentLedger
	Coordinator *Coordinator
}

// NewSession builds the engine for userID.
func NewSession(userID string, deps Dependencies) *Session {
	deps = deps.withDefaults()

	s := &Session{userID: userID, lastUsed: deps.Now()}
	s.Gateway = newPaymentGateway(&s.mu, userID, deps)
	s.Plans = newPlanStore(&s.mu, userID, deps)
	s.Ledger = newInvestmentLedger(&s.mu, userID, deps)
	s.Coordinator = &Coordinator{
		mu:      &s.mu,
		userID:  userID,
		repo:    deps.Repo,
		events:  deps.Events,
		now:     deps.Now,
		gateway: s.Gateway,
		plans:   s.Plans,
		ledger:  s.Ledger,
	}
	return s
}

// UserID returns the internal id of the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// Sessions is a registry of live user sessions.
type Sessions struct {
	mu       sync.Mutex
	deps     Dependencies
	sessions map[string]*Session
}

// NewSessions creates an empty session registry.
func NewSessions(deps Dependencies) *Sessions {
	return &Sessions{
		deps:     deps.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for userID, creating it on first use. The session is not held:
// callers that keep it for the length of a request should use Acquire.
func (r *Sessions) Get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(userID)
}

// Acquire returns the session for userID and holds it until release is called. A held
// session is never pruned, so concurrent requests for one user always share its mutex.
func (r *Sessions) Acquire(userID string) (*Session, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookup(userID)
	s.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			s.refs--
			s.lastUsed = r.deps.Now()
		})
	}
	return s, release
}

func (r *Sessions) lookup(userID string) *Session {
	s, ok := r.sessions[userID]
	if !ok {
		s = NewSession(userID, r.deps)
		r.sessions[userID] = s
	}
	s.lastUsed = r.deps.Now()
	return s
}

// Len reports how many sessions are live.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune drops sessions that are not held and have not been used for idleTTL. It returns
// how many were removed.
func (r *Sessions) Prune(idleTTL time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.deps.Now().Add(-idleTTL)
	removed := 0
	for id, s := range r.sessions {
		if s.refs == 0 && s.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
