package session

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

// Stats is a point-in-time view of one session.
type Stats struct {
	SessionID         string      `json:"session_id"`
	Account           string      `json:"account"`
	Side              domain.Side `json:"side"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        *time.Time  `json:"finished_at,omitempty"`
	Cycles            int         `json:"cycles"`
	Accepted          int         `json:"accepted"`
	Unauthorized      int         `json:"unauthorized"`
	RateLimited       int         `json:"rate_limited"`
	Rejected          int         `json:"rejected"`
	Unknown           int         `json:"unknown"`
	InvalidOrders     int         `json:"invalid_orders"`
	TransportFailures int         `json:"transport_failures"`
	AuthFailures      int         `json:"auth_failures"`
	LastStatus        int         `json:"last_status"`
	LastOutcome       string      `json:"last_outcome"`
	CredentialState   string      `json:"credential_state"`
}

type statsTracker struct {
	mu sync.Mutex
	s  Stats
}

func (t *statsTracker) update(fn func(*Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.s)
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	if t.s.FinishedAt != nil {
		fin := *t.s.FinishedAt
		out.FinishedAt = &fin
	}
	return out
}

func (s *Stats) countOutcome(o Outcome) {
	switch o {
	case OutcomeAccepted:
		s.Accepted++
	case OutcomeUnauthorized:
		s.Unauthorized++
	case OutcomeRateLimited:
		s.RateLimited++
	case OutcomeRejected:
		s.Rejected++
	default:
		s.Unknown++
	}
}

// Registry tracks every session of the process for the status API.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s under its session ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Snapshots returns the stats of every registered session ordered by start time.
func (r *Registry) Snapshots() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
