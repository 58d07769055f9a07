package turn

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/dice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/effect"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/negotiation"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

// ActionKind names something the current player can do.
type ActionKind string

const (
	ActionRollDice          ActionKind = "roll_dice"
	ActionReRoll            ActionKind = "reroll"
	ActionManualEffect      ActionKind = "manual_effect"
	ActionPlayCard          ActionKind = "play_card"
	ActionChooseDestination ActionKind = "choose_destination"
	ActionTryAgain          ActionKind = "try_again"
	ActionEndTurn           ActionKind = "end_turn"
)

// Action is one available action. Key identifies manual effects, cards and
// destinations.
type Action struct {
	Kind      ActionKind
	Key       string
	Label     string
	Completed bool
}

// RollOutcome reports a dice roll and the effects it triggered.
type RollOutcome struct {
	Roll    int
	Effects effect.BatchResult
	// Ended is set when an effect ended the turn.
	Ended *EndOutcome
}

// ManualOutcome reports a manual effect.
type ManualOutcome struct {
	Key string
	// AlreadySatisfied is set when the key was completed earlier this turn
	// and nothing was applied.
	AlreadySatisfied bool
	Effects          effect.BatchResult
	Ended            *EndOutcome
}

// PlayOutcome reports a played card.
type PlayOutcome struct {
	CardID string
	Result effect.Result
	Ended  *EndOutcome
}

// AvailableActions lists what playerID can do right now. It is empty when
// it is not their turn.
func (e *Engine) AvailableActions(playerID string) []Action {
	st := e.deps.Store.Snapshot()
	if check(st, playerID, gamestate.PhaseAwaitingActions) != nil {
		return nil
	}
	p, _ := st.Player(playerID)
	var actions []Action

	for _, m := range e.offered() {
		actions = append(actions, Action{
			Kind:      ActionManualEffect,
			Key:       m.key,
			Label:     label(m.row),
			Completed: st.CompletedActions[m.key],
		})
	}
	if !st.RolledThisTurn {
		actions = append(actions, Action{Kind: ActionRollDice, Key: ActionKeyDice, Label: "Roll dice"})
	} else if p.ReRollAvailable {
		actions = append(actions, Action{Kind: ActionReRoll, Label: "Re-roll dice"})
	}
	for _, cardType := range player.CardTypes {
		for _, cardID := range p.Hand[cardType] {
			if cardType == player.CardWork {
				continue
			}
			def, _ := e.deps.Rules.Card(cardID)
			actions = append(actions, Action{Kind: ActionPlayCard, Key: cardID, Label: def.Name})
		}
	}
	if st.Destination == "" {
		dests := e.deps.Movement.Resolve(p.Space, p.Visit)
		if dests.Kind == rules.MovementChoice {
			for _, dest := range dests.Options {
				actions = append(actions, Action{Kind: ActionChooseDestination, Key: dest, Label: dest})
			}
		}
	}
	if e.deps.Snapshots.Has(playerID) {
		actions = append(actions, Action{Kind: ActionTryAgain, Label: "Try again"})
	}
	if st.CompletedCount() >= st.RequiredActions {
		actions = append(actions, Action{Kind: ActionEndTurn, Label: "End turn"})
	}
	return actions
}

func label(row rules.EffectRow) string {
	if row.Description != "" {
		return row.Description
	}
	return row.Key()
}

// RollDice rolls once per turn, applies dice-conditioned rows and the dice
// effect table for the roll, and completes the dice requirement.
func (e *Engine) RollDice(ctx context.Context, playerID string) (out RollOutcome, err error) {
	unlock, err := e.lock()
	if err != nil {
		return out, err
	}
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "turn.roll", trace.WithAttributes(attribute.String("player.id", playerID)))
	defer func() { endSpan(span, err) }()

	st := e.deps.Store.Snapshot()
	if err = check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return out, err
	}
	if st.RolledThisTurn {
		return out, apperrors.New(apperrors.CodeDiceAlreadyRolled, "dice already rolled this turn")
	}
	out.Roll, out.Effects, err = e.roll(ctx, playerID)
	if err != nil {
		return out, err
	}
	span.SetAttributes(attribute.Int("dice", out.Roll))
	out.Ended, err = e.afterAction(ctx, playerID)
	return out, err
}

// ReRoll consumes a granted re-roll: the previous roll's money, time, card
// and skip changes are taken back and the dice are rolled again. Actions
// completed after the previous roll keep their effects.
func (e *Engine) ReRoll(ctx context.Context, playerID string) (out RollOutcome, err error) {
	unlock, err := e.lock()
	if err != nil {
		return out, err
	}
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "turn.reroll", trace.WithAttributes(attribute.String("player.id", playerID)))
	defer func() { endSpan(span, err) }()

	st := e.deps.Store.Snapshot()
	if err = check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return out, err
	}
	current, err := e.deps.Store.Player(playerID)
	if err != nil {
		return out, err
	}
	if !st.RolledThisTurn || !current.ReRollAvailable || e.lastRoll == nil {
		return out, apperrors.New(apperrors.CodeReRollUnavailable, "no re-roll available")
	}
	base := undoRoll(current, *e.lastRoll, e.deps.Rules)
	if _, err = e.deps.Ledger.Restore(ctx, playerID, base, "reroll"); err != nil {
		return out, err
	}
	if err = e.deps.Inventory.Restore(ctx, playerID, base); err != nil {
		return out, err
	}
	err = e.deps.Store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		p.SkipTurns = base.SkipTurns
		p.ReRollAvailable = false
		return nil
	})
	if err != nil {
		return out, err
	}
	previous := st.Dice
	out.Roll, out.Effects, err = e.roll(ctx, playerID)
	if err != nil {
		return out, err
	}
	span.SetAttributes(attribute.Int("dice", out.Roll), attribute.Int("previous_dice", previous))
	e.journal(ctx, st, playerID, journal.KindDice, "reroll", fmt.Sprintf("re-rolled %d -> %d", previous, out.Roll))
	out.Ended, err = e.afterAction(ctx, playerID)
	return out, err
}

// undoRoll returns current with the changes between rec.before and
// rec.after reversed. Cards the roll drew are dropped if still held; cards
// it took away come back.
func undoRoll(current player.Player, rec rollRecord, catalog rules.Repository) player.Player {
	target := current.Clone()
	target.Money += rec.before.Money - rec.after.Money
	target.TimeSpent += rec.before.TimeSpent - rec.after.TimeSpent
	target.SkipTurns = max(0, target.SkipTurns+rec.before.SkipTurns-rec.after.SkipTurns)

	beforeLoans := make(map[string]bool, len(rec.before.Loans))
	for _, loan := range rec.before.Loans {
		beforeLoans[loan.ID] = true
	}
	afterLoans := make(map[string]bool, len(rec.after.Loans))
	for _, loan := range rec.after.Loans {
		afterLoans[loan.ID] = true
	}
	target.Loans = slices.DeleteFunc(target.Loans, func(loan player.Loan) bool {
		return afterLoans[loan.ID] && !beforeLoans[loan.ID]
	})

	beforeCards := heldCards(rec.before)
	afterCards := heldCards(rec.after)
	for cardID := range afterCards {
		if !beforeCards[cardID] {
			target.Remove(cardID)
		}
	}
	for cardID := range beforeCards {
		if afterCards[cardID] {
			continue
		}
		if _, held := target.Hand.Find(cardID); held {
			continue
		}
		cardType, ok := rec.before.Hand.Find(cardID)
		if !ok {
			def, known := catalog.Card(cardID)
			if !known {
				continue
			}
			cardType = def.Type
		}
		target.Add(cardType, cardID)
	}

	beforeActive := make(map[string]bool, len(rec.before.ActiveCards))
	for _, card := range rec.before.ActiveCards {
		beforeActive[card.CardID] = true
	}
	target.ActiveCards = slices.DeleteFunc(target.ActiveCards, func(card player.ActiveCard) bool {
		return !beforeActive[card.CardID] && slices.ContainsFunc(rec.after.ActiveCards, func(a player.ActiveCard) bool {
			return a.CardID == card.CardID
		})
	})
	return target
}

func heldCards(p player.Player) map[string]bool {
	held := make(map[string]bool)
	for _, ids := range p.Hand {
		for _, cardID := range ids {
			held[cardID] = true
		}
	}
	return held
}

func (e *Engine) roll(ctx context.Context, playerID string) (int, effect.BatchResult, error) {
	value := dice.Clamp(e.deps.Dice.RollD6())
	p, err := e.deps.Store.Player(playerID)
	if err != nil {
		return 0, effect.BatchResult{}, err
	}
	defer func() {
		if after, err := e.deps.Store.Player(playerID); err == nil {
			e.lastRoll = &rollRecord{before: p, after: after}
		}
	}()
	// An optional roll does not count toward the required actions.
	required := e.needsDice(p)
	err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		st.Dice = value
		st.RolledThisTurn = true
		if required {
			if st.CompletedActions == nil {
				st.CompletedActions = map[string]bool{}
			}
			st.CompletedActions[ActionKeyDice] = true
		}
		return nil
	})
	if err != nil {
		return 0, effect.BatchResult{}, err
	}
	st := e.deps.Store.Snapshot()

	translator := e.deps.Resolver.Translator()
	var effects []effect.Effect
	// Manual rows gated on the roll are applied here rather than offered.
	for _, row := range e.deps.Rules.SpaceEffects(p.Space, p.Visit) {
		if row.IsLeaving() {
			continue
		}
		if cond := parseCondition(row); cond.IsDice() && e.deps.Conditions.EvaluateCondition(cond, p, value) {
			effects = append(effects, translator.FromRow(row)...)
		}
	}
	for _, row := range e.deps.Rules.DiceEffects(p.Space, p.Visit) {
		effects = append(effects, translator.FromDiceRow(row, value)...)
	}
	source := "dice:" + p.Space
	e.journal(ctx, st, playerID, journal.KindDice, source, fmt.Sprintf("rolled %d", value))
	e.logger.Info().Str("player_id", playerID).Int("dice", value).Int("effects", len(effects)).Msg("dice rolled")
	batch := e.deps.Resolver.Process(ctx, effects, effect.Context{Source: source, PlayerID: playerID, Trigger: "dice"})
	return value, batch, nil
}

// TriggerManualEffect applies a manual rule row once. A second call for the
// same key reports AlreadySatisfied and applies nothing.
func (e *Engine) TriggerManualEffect(ctx context.Context, playerID, key string) (out ManualOutcome, err error) {
	unlock, err := e.lock()
	if err != nil {
		return out, err
	}
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "turn.manual_effect", trace.WithAttributes(
		attribute.String("player.id", playerID),
		attribute.String("action.key", key),
	))
	defer func() { endSpan(span, err) }()

	st := e.deps.Store.Snapshot()
	if err = check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return out, err
	}
	manual := e.offered()
	idx := slices.IndexFunc(manual, func(m manualAction) bool { return m.key == key })
	if idx < 0 {
		return out, apperrors.WithMetadata(apperrors.CodeUnknownManualAction, "no such manual action on this space",
			map[string]string{"Key": key, "Available": joinKeys(manual)})
	}
	out.Key = key
	if st.CompletedActions[key] {
		out.AlreadySatisfied = true
		return out, nil
	}
	row := manual[idx].row
	// Completed before the effects run so a refused effect cannot leave the
	// turn unable to end.
	err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		if st.CompletedActions == nil {
			st.CompletedActions = map[string]bool{}
		}
		st.CompletedActions[key] = true
		return nil
	})
	if err != nil {
		return out, err
	}
	out.Effects = e.deps.Resolver.Process(ctx, e.deps.Resolver.Translator().FromRow(row),
		effect.Context{Source: "space:" + row.Space, PlayerID: playerID, Trigger: "manual:" + key})
	e.journal(ctx, st, playerID, journal.KindEffect, "space:"+row.Space, "manual action "+key)
	out.Ended, err = e.afterAction(ctx, playerID)
	return out, err
}

// PlayCard plays a held card and applies its effects. Unaffordable cards
// and cards not in hand are rejected before anything changes.
func (e *Engine) PlayCard(ctx context.Context, playerID, cardID string) (out PlayOutcome, err error) {
	unlock, err := e.lock()
	if err != nil {
		return out, err
	}
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "turn.play_card", trace.WithAttributes(
		attribute.String("player.id", playerID),
		attribute.String("card.id", cardID),
	))
	defer func() { endSpan(span, err) }()

	st := e.deps.Store.Snapshot()
	if err = check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return out, err
	}
	p, _ := st.Player(playerID)
	if _, held := p.Hand.Find(cardID); !held {
		return out, apperrors.WithMetadata(apperrors.CodeCardNotInHand, "card is not in hand",
			map[string]string{"PlayerID": playerID, "CardID": cardID})
	}
	def, _ := e.deps.Rules.Card(cardID)
	if def.Type != player.CardWork && def.Cost > p.Money {
		return out, apperrors.WithMetadata(apperrors.CodeInsufficientFunds, "cannot afford this card",
			map[string]string{"CardID": cardID, "Cost": fmt.Sprint(def.Cost)})
	}
	out.CardID = cardID
	out.Result = e.deps.Resolver.ProcessOne(ctx, effect.CardPlay{CardID: cardID},
		effect.Context{Source: "card:" + cardID, PlayerID: playerID, Trigger: "play"})
	e.journal(ctx, st, playerID, journal.KindEffect, "card:"+cardID, "played "+cardID)
	out.Ended, err = e.afterAction(ctx, playerID)
	return out, err
}

// ChooseDestination fixes the destination ahead of END_TURN.
func (e *Engine) ChooseDestination(ctx context.Context, playerID, destination string) error {
	unlock, err := e.lock()
	if err != nil {
		return err
	}
	defer unlock()

	st := e.deps.Store.Snapshot()
	if err := check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return err
	}
	p, _ := st.Player(playerID)
	dests := e.deps.Movement.Resolve(p.Space, p.Visit)
	allowed := dests.Allows(destination)
	if dests.Kind == rules.MovementDice {
		roll, rolled := dests.ForRoll(st.Dice)
		allowed = rolled && roll == destination
	}
	if !allowed {
		return apperrors.WithMetadata(apperrors.CodeInvalidDestination, "destination is not reachable from here",
			map[string]string{"Space": p.Space, "Destination": destination})
	}
	if err := e.SelectDestination(ctx, playerID, destination); err != nil {
		return err
	}
	e.journal(ctx, st, playerID, journal.KindMove, "space:"+p.Space, "chose destination "+destination)
	return nil
}

// StartNegotiation opens a negotiation initiated by the current player.
func (e *Engine) StartNegotiation(ctx context.Context, playerID string, participants []string) (negotiation.Negotiation, error) {
	if e.deps.Negotiations == nil {
		return negotiation.Negotiation{}, ErrCollaboratorRequired
	}
	unlock, err := e.lock()
	if err != nil {
		return negotiation.Negotiation{}, err
	}
	defer unlock()

	st := e.deps.Store.Snapshot()
	if err := check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return negotiation.Negotiation{}, err
	}
	neg, err := e.deps.Negotiations.Start(ctx, playerID, participants)
	if err != nil {
		return negotiation.Negotiation{}, err
	}
	e.journal(ctx, st, playerID, journal.KindEffect, "negotiation:"+neg.ID, "negotiation started")
	return neg, nil
}

// afterAction honours an end-of-turn request made by an effect.
func (e *Engine) afterAction(ctx context.Context, playerID string) (*EndOutcome, error) {
	if !e.endRequested {
		return nil, nil
	}
	e.endRequested = false
	st := e.deps.Store.Snapshot()
	if st.CompletedCount() < st.RequiredActions {
		e.logger.Info().Str("player_id", playerID).Msg("end of turn requested with actions outstanding, ignoring")
		e.journal(ctx, st, playerID, journal.KindWarning, "turn", "end of turn requested before required actions were done")
		return nil, nil
	}
	out, err := e.endTurn(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
