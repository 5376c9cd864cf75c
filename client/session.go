package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrSaveInFlight indicates a save was attempted while another save from
	// the same session was still outstanding. One save at a time per session.
	ErrSaveInFlight = errors.New("save already in flight")

	// ErrNotLoaded indicates a save was attempted before a successful load.
	ErrNotLoaded = errors.New("session not loaded")
)

// State of a session with respect to its object.
type State int

const (
	// StateUnloaded means no load has been attempted yet.
	StateUnloaded State = iota

	// StateLoaded means the session holds a payload and the version it was
	// observed at.
	StateLoaded

	// StateErrored means the last load failed. Terminal for that load
	// attempt, not for the session; a fresh Load may be issued.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is an editing session over one named object. It carries all
// protocol state itself (payload, observed version, last error), so any
// number of sessions can coexist without touching each other.
//
// A failed save never disturbs session state: the last-known-good payload and
// version stay put so the caller can retry, or reload and start over.
type Session struct {
	client *Client
	owner  string
	name   string
	id     string

	mu      sync.Mutex
	state   State
	payload []byte
	version int64
	lastErr string
	saving  bool
}

// NewSession opens a session for owner/name. Nothing is fetched until Load.
func NewSession(c *Client, owner, name string) *Session {
	return &Session{
		client: c,
		owner:  owner,
		name:   name,
		id:     uuid.New().String(),
		state:  StateUnloaded,
	}
}

// Load fetches the object's payload and current version. On failure the
// session moves to StateErrored with a readable message; issuing another Load
// later is fine.
func (s *Session) Load(ctx context.Context) error {
	payload, version, err := s.client.Load(ctx, s.owner, s.name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateErrored
		s.lastErr = err.Error()
		log.Debugf("session %s: load failed: %v", s.id, err)
		return err
	}
	s.state = StateLoaded
	s.payload = payload
	s.version = version
	s.lastErr = ""
	return nil
}

// Save submits payload at the version this session last observed. On success
// the session adopts the payload and the fresh version. On failure (conflict,
// validation, transport) the session keeps its previous payload and version;
// branch on ErrConflict to tell a lost race from a network problem.
//
// Only one save may be outstanding per session; overlapping calls fail fast
// with ErrSaveInFlight rather than race on the version.
func (s *Session) Save(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	if s.state != StateLoaded {
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotLoaded, s.state)
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	s.saving = true
	version := s.version
	s.mu.Unlock()

	newVersion, err := s.client.Save(ctx, s.owner, s.name, version, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		// rejected payload is not adopted; local state stays last-known-good
		log.Debugf("session %s: save at version %d failed: %v", s.id, version, err)
		return err
	}
	s.payload = payload
	s.version = newVersion
	return nil
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the version last observed or assigned.
func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Payload returns a copy of the session's current payload.
func (s *Session) Payload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte{}, s.payload...)
}

// Err returns the message from the last failed load, if any.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
