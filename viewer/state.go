package viewer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State 定义查看器会话状态
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Event 驱动状态转换
type Event string

const (
	EventSubmit           Event = "submit"
	EventArtifactReceived Event = "artifact_received"
	EventFailure          Event = "failure"
	EventReset            Event = "reset"
)

// transitions 定义合法的状态转换；Reset 对所有状态合法，单独处理
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventSubmit:  StateLoading,
		EventFailure: StateError,
	},
	StateLoading: {
		EventSubmit:           StateLoading, // 重新提交，旧结果按代数丢弃
		EventArtifactReceived: StateReady,
		EventFailure:          StateError,
	},
	StateReady: {
		EventSubmit: StateLoading,
	},
	StateError: {
		EventSubmit: StateLoading,
	},
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid viewer transition: %s --%s-->", e.From, e.Event)
}

// Transition returns the state reached from s on ev. It is defined for every
// pair: rejected pairs return s unchanged with ErrInvalidTransition.
func Transition(s State, ev Event) (State, error) {
	if ev == EventReset {
		return StateIdle, nil
	}
	if next, ok := transitions[s][ev]; ok {
		return next, nil
	}
	return s, ErrInvalidTransition{From: s, Event: ev}
}

// =============================================================================
// 🧭 会话
// =============================================================================

// Snapshot is a consistent copy of a session.
type Snapshot struct {
	ID         string
	State      State
	Generation uint64
	Geometry   *Geometry
	LastError  *ClientError
}

// Session tracks one viewer's state. Each Submit starts a new generation and
// only results tagged with the current generation are applied.
type Session struct {
	id string

	mu         sync.Mutex
	state      State
	generation uint64
	geometry   *Geometry
	lastError  *ClientError

	// display runs under mu so the shown geometry always matches generation.
	display func(*Geometry)
}

// NewSession creates an idle session with a random ID.
func NewSession() *Session {
	return &Session{id: uuid.NewString(), state: StateIdle}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// OnDisplay registers fn to receive every change of the visible geometry.
// fn runs under the session lock and must not call back into the session.
func (s *Session) OnDisplay(fn func(*Geometry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display = fn
	s.show(s.geometry)
}

func (s *Session) show(g *Geometry) {
	s.geometry = g
	if s.display != nil {
		s.display(g)
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Submit enters Loading and returns the new generation.
func (s *Session) Submit() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, _ := Transition(s.state, EventSubmit)
	s.state = next
	s.generation++
	s.lastError = nil
	return s.generation
}

// Deliver applies geometry produced for gen. It reports false, leaving the
// session untouched, when gen is stale or the state does not accept it.
func (s *Session) Deliver(gen uint64, g *Geometry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	next, err := Transition(s.state, EventArtifactReceived)
	if err != nil {
		return false
	}
	s.state = next
	s.show(g)
	s.lastError = nil
	return true
}

// Fail records err for gen. Stale generations are ignored. Geometry from an
// earlier success is dropped so nothing partial stays visible.
func (s *Session) Fail(gen uint64, err *ClientError) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	next, terr := Transition(s.state, EventFailure)
	if terr != nil {
		return false
	}
	s.state = next
	s.show(nil)
	s.lastError = err
	return true
}

// Reset returns to Idle and invalidates in-flight generations.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, _ = Transition(s.state, EventReset)
	s.generation++
	s.show(nil)
	s.lastError = nil
}

// Snapshot returns a copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		State:      s.state,
		Generation: s.generation,
		Geometry:   s.geometry,
		LastError:  s.lastError,
	}
}
