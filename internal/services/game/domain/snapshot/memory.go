// Package snapshot keeps at most one restore point per player for the
// "try again" revert and for negotiation rollbacks.
package snapshot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

var (
	// ErrPlayerIDRequired indicates a missing player id.
	ErrPlayerIDRequired = errors.New("player id is required")
	// ErrManagerRequired indicates a nil manager.
	ErrManagerRequired = errors.New("snapshot manager is required")
)

// Snapshot is an immutable deep copy of one player's state.
type Snapshot struct {
	PlayerID string
	Turn     int
	TakenAt  time.Time
	player   player.Player
}

// Player returns a fresh copy of the captured player.
func (s Snapshot) Player() player.Player {
	return s.player.Clone()
}

// Manager stores snapshots in memory.
type Manager struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	now       func() time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		snapshots: make(map[string]Snapshot),
		now:       time.Now,
	}
}

// Save captures p, replacing any earlier snapshot for the same player.
func (m *Manager) Save(ctx context.Context, p player.Player, turn int) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m == nil {
		return ErrManagerRequired
	}
	playerID := strings.TrimSpace(p.ID)
	if playerID == "" {
		return ErrPlayerIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[playerID] = Snapshot{
		PlayerID: playerID,
		Turn:     turn,
		TakenAt:  m.now().UTC(),
		player:   p.Clone(),
	}
	return nil
}

// Has reports whether a snapshot exists for the player.
func (m *Manager) Has(playerID string) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snapshots[strings.TrimSpace(playerID)]
	return ok
}

// Restore returns a copy of the player's snapshot without consuming it.
func (m *Manager) Restore(ctx context.Context, playerID string) (Snapshot, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
	}
	if m == nil {
		return Snapshot{}, ErrManagerRequired
	}
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Snapshot{}, ErrPlayerIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[playerID]
	if !ok {
		return Snapshot{}, apperrors.WithMetadata(apperrors.CodeNoSnapshot, "no snapshot to restore", map[string]string{"PlayerID": playerID})
	}
	snap.player = snap.player.Clone()
	return snap, nil
}

// Clear drops the player's snapshot.
func (m *Manager) Clear(playerID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, strings.TrimSpace(playerID))
}
