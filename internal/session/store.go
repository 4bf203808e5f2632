package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/skyquest-client/internal/obslog"
)

type subscriberEntry struct {
	id int
	fn func(State)
}

// Store is the single mutable copy of session state. Every change goes
// through Dispatch and is applied as one replacement under the lock.
type Store struct {
	mu    sync.RWMutex
	state State
	epoch uint64

	clock  clockwork.Clock
	logger *zap.Logger

	// pending holds applied states not yet delivered, in transition order.
	// It is guarded by mu; draining is set while one goroutine delivers.
	pending  []State
	draining bool

	subM   sync.RWMutex
	subs   []subscriberEntry
	nextID int
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		state:  InitialState(),
		clock:  clockwork.NewRealClock(),
		logger: obslog.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Ticket returns the identity a request issued now should carry.
func (s *Store) Ticket() Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticketLocked()
}

// Current returns a snapshot together with the ticket identifying it.
func (s *Store) Current() (State, Ticket) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), s.ticketLocked()
}

func (s *Store) ticketLocked() Ticket {
	return Ticket{Epoch: s.epoch, SessionID: s.state.SessionID, Round: s.state.CurrentRound}
}

// Dispatch applies ev and returns the resulting state. On error the store is
// unchanged and the returned state is the current one.
func (s *Store) Dispatch(ev Event) (State, error) {
	s.mu.Lock()
	if t, ok := ev.(ticketed); ok {
		cur := s.ticketLocked()
		if issued := t.issuedAgainst(); !issued.matches(cur) {
			snap := s.state.Clone()
			s.mu.Unlock()
			s.logger.Info("session_stale_event_discarded",
				zap.String("event", ev.Kind()),
				zap.Uint64("issued_epoch", issued.Epoch),
				zap.Uint64("current_epoch", cur.Epoch),
				zap.Int("issued_round", issued.Round),
				zap.Int("current_round", cur.Round),
			)
			return snap, fmt.Errorf("%w: %s", ErrStaleTicket, ev.Kind())
		}
	}

	next, err := Transition(s.state, ev, s.clock.Now())
	if err != nil {
		snap := s.state.Clone()
		s.mu.Unlock()
		if !errors.Is(err, ErrNoEffect) {
			s.logger.Warn("session_transition_rejected", zap.String("event", ev.Kind()), zap.Error(err))
		}
		return snap, err
	}

	switch ev.(type) {
	case GameStarted, GameReset, GameClosed:
		s.epoch++
	}
	s.state = next
	snap := next.Clone()
	s.pending = append(s.pending, next.Clone())
	deliver := !s.draining
	s.draining = true
	s.mu.Unlock()

	s.logger.Debug("session_transition",
		zap.String("event", ev.Kind()),
		zap.String("status", string(snap.Status)),
		zap.Int("round", snap.CurrentRound),
		zap.Int("total_score", snap.TotalScore),
	)
	if deliver {
		s.drain()
	}
	return snap, nil
}

// Subscribe registers fn for every applied transition. Calls arrive in
// transition order, possibly on the goroutine of an earlier Dispatch. The
// returned func is safe to call more than once.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subM.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriberEntry{id: id, fn: fn})
	s.subM.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subM.Lock()
			defer s.subM.Unlock()
			for i, e := range s.subs {
				if e.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// drain delivers queued states until the queue is empty. Only one goroutine
// drains at a time, so subscribers see states in the order they were applied.
// A Dispatch from inside a subscriber is queued behind the current delivery.
func (s *Store) drain() {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			panic(r)
		}
	}()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		st := s.pending[0]
		s.pending[0] = State{}
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.notify(st)
	}
}

func (s *Store) notify(st State) {
	s.subM.RLock()
	entries := make([]subscriberEntry, len(s.subs))
	copy(entries, s.subs)
	s.subM.RUnlock()
	for _, e := range entries {
		if e.fn != nil {
			e.fn(st.Clone())
		}
	}
}
