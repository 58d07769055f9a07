// Package effect defines the closed set of effects produced from rule data
// and the resolver that applies ordered effect lists.
package effect

import (
	"fmt"
	"strings"

	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// Kind tags an effect variant.
type Kind string

const (
	KindResourceChange   Kind = "resource_change"
	KindCardDraw         Kind = "card_draw"
	KindCardDiscard      Kind = "card_discard"
	KindCardTransfer     Kind = "card_transfer"
	KindCardReplace      Kind = "card_replace"
	KindCardDrawAndApply Kind = "card_draw_and_apply"
	KindCardPlay         Kind = "card_play"
	KindLoan             Kind = "loan"
	KindChoice           Kind = "choice"
	KindTurnControl      Kind = "turn_control"
	KindMovement         Kind = "movement"
	KindLog              Kind = "log"
)

// Effect is one typed rule consequence. The set of implementations is closed.
type Effect interface {
	Kind() Kind
	Describe() string
	sealed()
}

// ResourceChange changes money or time by an amount computed when the
// effect runs.
type ResourceChange struct {
	Resource ledger.Resource
	Amount   Formula
	Reason   string
}

// CardDraw draws cards of one type into the acting player's hand.
type CardDraw struct {
	CardType player.CardType
	Count    int
	Reason   string
}

// CardDiscard discards specific cards, or the oldest Count cards of a type.
type CardDiscard struct {
	CardType player.CardType
	Count    int
	CardIDs  []string
	Reason   string
}

// CardTransfer gives cards from the acting player to another player, chosen
// explicitly or by direction.
type CardTransfer struct {
	CardType       player.CardType
	Count          int
	Direction      condition.Kind
	TargetPlayerID string
	Reason         string
}

// CardReplace lets the player pick held cards of a type to swap for fresh
// draws of the same type.
type CardReplace struct {
	CardType player.CardType
	Count    int
	Reason   string
}

// CardDrawAndApply draws cards and applies their funding in one commit.
type CardDrawAndApply struct {
	CardType player.CardType
	Count    int
	Reason   string
}

// CardPlay plays a held card and resolves its definition's effects.
type CardPlay struct {
	CardID string
}

// Loan takes out a loan.
type Loan struct {
	Amount      int
	RatePercent float64
}

// Branch is one labelled outcome of a Choice.
type Branch struct {
	Label   string
	Effects []Effect
}

// Choice asks the acting player to pick one branch.
type Choice struct {
	Prompt   string
	Branches []Branch
}

// TurnAction is a turn-control instruction.
type TurnAction string

const (
	GrantReRoll TurnAction = "grant_reroll"
	SkipTurn    TurnAction = "skip_turn"
	EndTurn     TurnAction = "end_turn"
)

// TurnControl changes turn modifiers or ends the turn.
type TurnControl struct {
	Action TurnAction
}

// Movement moves the acting player: to Destination, to one of Options, or
// wherever the movement rules for the current space say when both are empty.
type Movement struct {
	Destination string
	Options     []string
}

// Log records a message without changing state.
type Log struct {
	Message string
	Warning bool
}

func (ResourceChange) Kind() Kind   { return KindResourceChange }
func (CardDraw) Kind() Kind         { return KindCardDraw }
func (CardDiscard) Kind() Kind      { return KindCardDiscard }
func (CardTransfer) Kind() Kind     { return KindCardTransfer }
func (CardReplace) Kind() Kind      { return KindCardReplace }
func (CardDrawAndApply) Kind() Kind { return KindCardDrawAndApply }
func (CardPlay) Kind() Kind         { return KindCardPlay }
func (Loan) Kind() Kind             { return KindLoan }
func (Choice) Kind() Kind           { return KindChoice }
func (TurnControl) Kind() Kind      { return KindTurnControl }
func (Movement) Kind() Kind         { return KindMovement }
func (Log) Kind() Kind              { return KindLog }

func (ResourceChange) sealed()   {}
func (CardDraw) sealed()         {}
func (CardDiscard) sealed()      {}
func (CardTransfer) sealed()     {}
func (CardReplace) sealed()      {}
func (CardDrawAndApply) sealed() {}
func (CardPlay) sealed()         {}
func (Loan) sealed()             {}
func (Choice) sealed()           {}
func (TurnControl) sealed()      {}
func (Movement) sealed()         {}
func (Log) sealed()              {}

func (e ResourceChange) Describe() string {
	return fmt.Sprintf("%s %s", e.Resource, e.Amount)
}

func (e CardDraw) Describe() string {
	return fmt.Sprintf("draw %d %s", e.Count, e.CardType)
}

func (e CardDiscard) Describe() string {
	if len(e.CardIDs) > 0 {
		return "discard " + strings.Join(e.CardIDs, ", ")
	}
	return fmt.Sprintf("discard %d %s", e.Count, e.CardType)
}

func (e CardTransfer) Describe() string {
	target := e.TargetPlayerID
	if target == "" {
		target = e.Direction.String()
	}
	return fmt.Sprintf("transfer %d %s to %s", e.Count, e.CardType, target)
}

func (e CardReplace) Describe() string {
	return fmt.Sprintf("replace %d %s", e.Count, e.CardType)
}

func (e CardDrawAndApply) Describe() string {
	return fmt.Sprintf("draw and apply %d %s", e.Count, e.CardType)
}

func (e CardPlay) Describe() string { return "play " + e.CardID }

func (e Loan) Describe() string {
	return fmt.Sprintf("loan %s at %g%%", money.Format(e.Amount), e.RatePercent)
}

func (e Choice) Describe() string {
	labels := make([]string, len(e.Branches))
	for i, b := range e.Branches {
		labels[i] = b.Label
	}
	return fmt.Sprintf("choose: %s", strings.Join(labels, " / "))
}

func (e TurnControl) Describe() string { return string(e.Action) }

func (e Movement) Describe() string {
	switch {
	case e.Destination != "":
		return "move to " + e.Destination
	case len(e.Options) > 0:
		return "move to one of " + strings.Join(e.Options, ", ")
	default:
		return "move"
	}
}

func (e Log) Describe() string { return e.Message }
