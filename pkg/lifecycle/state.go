// Package lifecycle is the registration host for cache controllers. It runs
// install and activate events, honours skip-waiting and client claim, decides
// which controller serves a request and persists the registration state so a
// restarted process restores the active version without reinstalling.
package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Phase is the lifecycle state of the most recent controller candidate.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActivated  Phase = "activated"
	PhaseRedundant  Phase = "redundant"
)

// Redis key suffixes for registration state storage.
const (
	RedisKeyActiveVersion  = "registration:active_version"
	RedisKeyWaitingVersion = "registration:waiting_version"
	RedisKeyPhase          = "registration:phase"
	RedisKeyClaimed        = "registration:claimed"
	RedisKeyLastUpdate     = "registration:last_update"
)

// RegistrationState is the persisted view of a registration.
type RegistrationState struct {
	// ActiveVersion is the version of the controller serving requests.
	ActiveVersion string `json:"active_version"`

	// WaitingVersion is an installed controller waiting for activation.
	WaitingVersion string `json:"waiting_version,omitempty"`

	// Phase is the state of the most recent candidate.
	Phase Phase `json:"phase"`

	// Claimed reports whether the active controller claimed open clients.
	Claimed bool `json:"claimed"`

	// LastUpdate is the time of the last transition.
	LastUpdate time.Time `json:"last_update"`
}

// HasActive reports whether any version was ever activated.
func (s *RegistrationState) HasActive() bool {
	return s.ActiveVersion != ""
}

// IsStale returns true if the state is older than maxAge.
func (s *RegistrationState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// transition moves the state to phase and stamps it.
func (s *RegistrationState) transition(phase Phase) {
	s.Phase = phase
	s.LastUpdate = time.Now()
}

// StateStore persists registration state.
type StateStore interface {
	// Load returns the stored state, or an empty state when none exists.
	Load(ctx context.Context) (*RegistrationState, error)
	Save(ctx context.Context, state *RegistrationState) error
}

// MemoryStateStore keeps the state for the lifetime of the process.
type MemoryStateStore struct {
	mu    sync.Mutex
	state RegistrationState
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load implements StateStore.
func (m *MemoryStateStore) Load(ctx context.Context) (*RegistrationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	return &state, nil
}

// Save implements StateStore.
func (m *MemoryStateStore) Save(ctx context.Context, state *RegistrationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *state
	return nil
}
