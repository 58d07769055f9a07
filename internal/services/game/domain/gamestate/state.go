// Package gamestate owns the shared game state and the single store that
// mutates and publishes it.
package gamestate

import (
	"maps"
	"slices"

	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// Status is the game-level lifecycle.
type Status string

const (
	StatusSetup    Status = "SETUP"
	StatusActive   Status = "ACTIVE"
	StatusGameOver Status = "GAME_OVER"
)

// Phase is the current player's position in the turn state machine.
type Phase string

const (
	PhaseTurnStart       Phase = "TURN_START"
	PhaseArrivalEffects  Phase = "ARRIVAL_EFFECTS"
	PhaseSnapshotTaken   Phase = "SNAPSHOT_TAKEN"
	PhaseAwaitingActions Phase = "AWAITING_ACTIONS"
	PhaseTryAgain        Phase = "TRY_AGAIN"
	PhaseEndTurn         Phase = "END_TURN"
	PhaseTurnEnd         Phase = "TURN_END"
)

// State is the whole game as seen by observers.
type State struct {
	Status       Status
	Phase        Phase
	Players      []player.Player
	CurrentIndex int
	// Turn counts started turns across all players, starting at 1.
	Turn int

	// Dice is the current turn's roll, 0 when no roll happened.
	Dice             int
	RolledThisTurn   bool
	MovedThisTurn    bool
	RequiredActions  int
	CompletedActions map[string]bool
	// Destination is a destination chosen ahead of END_TURN.
	Destination string

	WinnerID string
}

// Clone returns a deep copy.
func (s State) Clone() State {
	cloned := s
	if s.Players != nil {
		cloned.Players = make([]player.Player, len(s.Players))
		for i, p := range s.Players {
			cloned.Players[i] = p.Clone()
		}
	}
	cloned.CompletedActions = maps.Clone(s.CompletedActions)
	return cloned
}

// Player returns a mutable pointer to the player with id.
func (s *State) Player(id string) (*player.Player, bool) {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// Current returns the player whose turn it is.
func (s State) Current() (player.Player, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Players) {
		return player.Player{}, false
	}
	return s.Players[s.CurrentIndex], true
}

// IndexOf returns the turn-order index of a player or -1.
func (s State) IndexOf(id string) int {
	return slices.IndexFunc(s.Players, func(p player.Player) bool { return p.ID == id })
}

// PlayerIDs returns ids in turn order.
func (s State) PlayerIDs() []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.ID
	}
	return ids
}

// CompletedCount counts completed actions for the current turn.
func (s State) CompletedCount() int {
	count := 0
	for _, done := range s.CompletedActions {
		if done {
			count++
		}
	}
	return count
}

// ResetTurnFlags clears every turn-scoped field.
func (s *State) ResetTurnFlags() {
	s.Dice = 0
	s.RolledThisTurn = false
	s.MovedThisTurn = false
	s.RequiredActions = 0
	s.CompletedActions = map[string]bool{}
	s.Destination = ""
}

// NextIndex returns the index after CurrentIndex, wrapping to zero.
func (s State) NextIndex() int {
	if len(s.Players) == 0 {
		return 0
	}
	return (s.CurrentIndex + 1) % len(s.Players)
}
