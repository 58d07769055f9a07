// Package movement resolves where a player may go from a space.
package movement

import (
	"errors"
	"slices"

	"github.com/tomaszsb/code2027/internal/services/game/domain/core/dice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

// ErrRulesRequired indicates a missing rule repository.
var ErrRulesRequired = errors.New("rule repository is required")

// Destinations describes the legal moves from a space.
type Destinations struct {
	Kind    rules.MovementKind
	Options []string
	// ByRoll is set for dice movement; index 0 is a roll of 1.
	ByRoll [dice.Sides]string
}

// Single returns the only destination of a fixed move.
func (d Destinations) Single() (string, bool) {
	if d.Kind == rules.MovementFixed && len(d.Options) > 0 {
		return d.Options[0], true
	}
	return "", false
}

// ForRoll returns the dice-determined destination.
func (d Destinations) ForRoll(roll int) (string, bool) {
	if d.Kind != rules.MovementDice || !dice.Valid(roll) {
		return "", false
	}
	dest := d.ByRoll[roll-1]
	return dest, dest != ""
}

// Allows reports whether dest is a legal pick among the options.
func (d Destinations) Allows(dest string) bool {
	if slices.Contains(d.Options, dest) {
		return true
	}
	return d.Kind == rules.MovementDice && slices.Contains(d.ByRoll[:], dest)
}

// Resolver reads movement rules.
type Resolver struct {
	rules rules.Repository
}

// NewResolver creates a resolver over repo.
func NewResolver(repo rules.Repository) (*Resolver, error) {
	if repo == nil {
		return nil, ErrRulesRequired
	}
	return &Resolver{rules: repo}, nil
}

// Resolve returns the destinations from space for the given visit. Spaces
// without movement rows, and ending spaces, resolve to MovementNone.
func (r *Resolver) Resolve(space string, visit player.Visit) Destinations {
	if cfg, ok := r.rules.Space(space); ok && cfg.Ending {
		return Destinations{Kind: rules.MovementNone}
	}
	row, hasRow := r.rules.Movement(space, visit)
	outcomes, hasDice := r.rules.DiceOutcomes(space, visit)

	if hasDice && (!hasRow || row.Kind == rules.MovementDice) {
		d := Destinations{Kind: rules.MovementDice, ByRoll: outcomes.Destinations}
		for _, dest := range outcomes.Destinations {
			if dest != "" && !slices.Contains(d.Options, dest) {
				d.Options = append(d.Options, dest)
			}
		}
		return d
	}
	if !hasRow || len(row.Destinations) == 0 || row.Kind == rules.MovementNone {
		return Destinations{Kind: rules.MovementNone}
	}
	kind := row.Kind
	switch {
	case len(row.Destinations) == 1:
		kind = rules.MovementFixed
	case kind == rules.MovementFixed || kind == rules.MovementDice || kind == "":
		kind = rules.MovementChoice
	}
	return Destinations{Kind: kind, Options: slices.Clone(row.Destinations)}
}
