package gamestate

import (
	"context"
	"errors"
	"sync"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// ErrStoreRequired indicates a missing store dependency.
var ErrStoreRequired = errors.New("game state store is required")

// Store is the single owner of the mutable game state. Readers always get
// copies; writers go through Update so each mutation commits whole and is
// then published once.
type Store struct {
	mu          sync.RWMutex
	state       State
	subscribers map[int]func(State)
	nextSubID   int

	publishMu sync.Mutex
}

// NewStore creates a store seeded with initial.
func NewStore(initial State) *Store {
	if initial.CompletedActions == nil {
		initial.CompletedActions = map[string]bool{}
	}
	return &Store{
		state:       initial.Clone(),
		subscribers: make(map[int]func(State)),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Player returns a copy of one player.
func (s *Store) Player(id string) (player.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.Players {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return player.Player{}, apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player not found", map[string]string{"PlayerID": id})
}

// Update applies fn to a working copy and commits it when fn succeeds.
//
// fn must not call back into the store.
func (s *Store) Update(ctx context.Context, fn func(*State) error) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	working := s.state.Clone()
	if err := fn(&working); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = working
	published := working.Clone()
	subscribers := make([]func(State), 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subscribers = append(subscribers, sub)
	}
	// Taken before releasing mu so publications keep commit order.
	s.publishMu.Lock()
	s.mu.Unlock()
	defer s.publishMu.Unlock()

	for _, sub := range subscribers {
		sub(published.Clone())
	}
	return nil
}

// UpdatePlayer applies fn to one player inside a single commit.
func (s *Store) UpdatePlayer(ctx context.Context, id string, fn func(*player.Player) error) error {
	return s.Update(ctx, func(st *State) error {
		p, ok := st.Player(id)
		if !ok {
			return apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player not found", map[string]string{"PlayerID": id})
		}
		return fn(p)
	})
}

// SetCurrentPlayer moves the turn to the given index.
func (s *Store) SetCurrentPlayer(ctx context.Context, index int) error {
	return s.Update(ctx, func(st *State) error {
		if index < 0 || index >= len(st.Players) {
			return apperrors.New(apperrors.CodePlayerNotFound, "player index out of range")
		}
		st.CurrentIndex = index
		return nil
	})
}

// AdvanceTurn moves to the next player, wrapping after the last one, clears
// turn-scoped flags and returns the new current player id.
func (s *Store) AdvanceTurn(ctx context.Context) (string, error) {
	var next string
	err := s.Update(ctx, func(st *State) error {
		if len(st.Players) == 0 {
			return apperrors.New(apperrors.CodePlayerNotFound, "no players")
		}
		st.CurrentIndex = st.NextIndex()
		st.ResetTurnFlags()
		next = st.Players[st.CurrentIndex].ID
		return nil
	})
	return next, err
}

// Subscribe registers fn to receive a copy after every commit. The returned
// function unsubscribes. Subscribers must not write to the store.
func (s *Store) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}
