// Package rules defines the declarative rule rows the engine interprets and
// the read-only repository contract for querying them.
package rules

import (
	"strings"

	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// Trigger classifies when a rule row fires.
type Trigger string

const (
	TriggerAuto    Trigger = "auto"
	TriggerManual  Trigger = "manual"
	TriggerOnLeave Trigger = "on_leave"
)

// ParseTrigger maps raw trigger text; blank means automatic.
func ParseTrigger(raw string) (Trigger, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto", "automatic":
		return TriggerAuto, true
	case "manual":
		return TriggerManual, true
	case "on_leave", "leave", "leaving":
		return TriggerOnLeave, true
	}
	return "", false
}

// EffectRow is one space effect rule.
type EffectRow struct {
	Space       string
	Visit       player.Visit
	Category    string
	Action      string
	Value       string
	Condition   string
	Description string
	Trigger     Trigger
}

// Key identifies a row among the rows of its space and visit.
func (r EffectRow) Key() string {
	return strings.ToLower(r.Category) + ":" + strings.ToLower(r.Action)
}

// IsLeaving reports whether the row applies when leaving the space. Time
// rows are spent on the way out.
func (r EffectRow) IsLeaving() bool {
	if r.Trigger == TriggerOnLeave {
		return true
	}
	return r.Trigger == TriggerAuto && strings.EqualFold(r.Category, "time")
}

// DiceEffectRow maps a roll to an outcome for one effect category.
type DiceEffectRow struct {
	Space    string
	Visit    player.Visit
	Category string
	CardType string
	Rolls    [6]string
}

// Outcome returns the raw outcome for roll, or "" when roll is out of range.
func (r DiceEffectRow) Outcome(roll int) string {
	if roll < 1 || roll > 6 {
		return ""
	}
	return strings.TrimSpace(r.Rolls[roll-1])
}

// SpaceConfig is the static configuration of one space.
type SpaceConfig struct {
	Name             string
	Phase            string
	Path             string
	Starting         bool
	Ending           bool
	RequiresDiceRoll bool
}

// MovementKind describes how the next space is decided.
type MovementKind string

const (
	MovementFixed  MovementKind = "fixed"
	MovementChoice MovementKind = "choice"
	MovementDice   MovementKind = "dice"
	MovementNone   MovementKind = "none"
)

// MovementRow lists the destinations from a space.
type MovementRow struct {
	Space        string
	Visit        player.Visit
	Kind         MovementKind
	Destinations []string
}

// DiceOutcomeRow maps each roll to a destination.
type DiceOutcomeRow struct {
	Space        string
	Visit        player.Visit
	Destinations [6]string
}

// CardDefinition is the static definition of a card.
type CardDefinition struct {
	ID          string
	Name        string
	Type        player.CardType
	Description string
	// Cost is money paid on play, or scope contributed for work cards.
	Cost int
	// Duration is the number of owner turns the card stays active.
	Duration         int
	MoneyEffect      int
	TimeEffect       int
	LoanAmount       int
	LoanRate         float64
	InvestmentAmount int
	TurnEffect       string
	DrawCards        string
	DiscardCards     string
}

// Funding returns the money a card grants when applied.
func (c CardDefinition) Funding() int {
	return c.MoneyEffect + c.LoanAmount + c.InvestmentAmount
}

// Repository is the read-only rule-data collaborator.
type Repository interface {
	SpaceEffects(space string, visit player.Visit) []EffectRow
	DiceEffects(space string, visit player.Visit) []DiceEffectRow
	Space(name string) (SpaceConfig, bool)
	Movement(space string, visit player.Visit) (MovementRow, bool)
	DiceOutcomes(space string, visit player.Visit) (DiceOutcomeRow, bool)
	Card(id string) (CardDefinition, bool)
	Cards() []CardDefinition
	StartingSpace() (string, bool)
}
