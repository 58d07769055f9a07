// Package wincondition decides when the game is over.
package wincondition

import (
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

// Checker declares the first player standing on an ending space the winner.
type Checker struct {
	rules rules.Repository
}

// New creates a checker.
func New(repo rules.Repository) *Checker {
	return &Checker{rules: repo}
}

// Check returns the winner's id when the game is won.
func (c *Checker) Check(state gamestate.State) (string, bool) {
	if c == nil || c.rules == nil {
		return "", false
	}
	for _, p := range state.Players {
		if cfg, ok := c.rules.Space(p.Space); ok && cfg.Ending {
			return p.ID, true
		}
	}
	return "", false
}
