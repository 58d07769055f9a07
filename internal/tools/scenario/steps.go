package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/app"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/negotiation"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/turn"
)

func (r *Runner) runStep(ctx context.Context, state *scenarioState, step Step) error {
	if step.Kind != "players" && step.Kind != "choose" && state.game == nil {
		return r.failf("players must be seated before %s", step.Kind)
	}
	switch step.Kind {
	case "players":
		return r.runPlayersStep(ctx, state, step)
	case "action":
		return r.runActionStep(ctx, state, step)
	case "complete_actions":
		return r.runCompleteActionsStep(ctx, state, step)
	case "roll":
		return r.runRollStep(ctx, state, step, false)
	case "reroll":
		return r.runRollStep(ctx, state, step, true)
	case "play_card":
		return r.runPlayCardStep(ctx, state, step)
	case "choose":
		return r.runChooseStep(state, step)
	case "destination":
		return r.runDestinationStep(ctx, state, step)
	case "end_turn":
		return r.runEndTurnStep(ctx, state, step)
	case "try_again":
		return r.runTryAgainStep(ctx, state, step)
	case "negotiate":
		return r.runNegotiateStep(ctx, state, step)
	case "offer":
		return r.runOfferStep(ctx, state, step)
	case "accept":
		return r.runAcceptStep(ctx, state, step)
	case "cancel":
		return r.runCancelStep(ctx, state, step)
	case "expect":
		return r.runExpectStep(state, step)
	default:
		return r.failf("unknown step kind %q", step.Kind)
	}
}

func (r *Runner) failf(format string, args ...any) error {
	return r.assertions.Failf(format, args...)
}

func (r *Runner) assertf(format string, args ...any) error {
	return r.assertions.Assertf(format, args...)
}

func (r *Runner) runPlayersStep(ctx context.Context, state *scenarioState, step Step) error {
	if state.game != nil {
		return r.failf("players are already seated")
	}
	names := stringList(step.Args["names"])
	if len(names) == 0 {
		return r.failf("players step needs names")
	}
	startingMoney, _ := intArg(step.Args, "money")
	seed := r.seed
	if value, ok := intArg(step.Args, "seed"); ok {
		seed = int64(value)
	}
	state.dice = newScriptedDice(seed)
	cfg := app.Config{
		DataDir: r.dataDir,
		Seed:    seed,
		Dice:    state.dice,
		Logger:  r.logger,
	}
	if penalty, ok := intArg(step.Args, "penalty"); ok {
		cfg.TryAgainPenaltyDays = &penalty
	}
	game, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("assemble game: %w", err)
	}
	state.game = game
	state.stopAnswering = game.Choices.OnCreate(func(c choice.Choice) {
		r.answer(state, c)
	})

	start, err := game.Start(ctx, app.SetupFromNames(names, startingMoney))
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	for _, p := range game.Engine.State().Players {
		state.players[p.Name] = p.ID
		state.players[p.ID] = p.ID
	}
	r.logf("game %s started: %s on %s", game.ID, start.PlayerID, start.Space)
	return nil
}

// answer resolves a new choice with the oldest queued answer. A choice with
// no queued answer stays pending until the step times out.
func (r *Runner) answer(state *scenarioState, c choice.Choice) {
	if len(state.answers) == 0 {
		r.logger.Warn().Str("choice_id", c.ID).Str("prompt", c.Prompt).Msg("choice has no queued answer")
		return
	}
	want := state.answers[0]
	state.answers = state.answers[1:]
	for _, opt := range c.Options {
		if opt.ID == want || strings.EqualFold(opt.Label, want) {
			if _, err := state.game.Choices.Resolve(c.ID, opt.ID); err != nil {
				r.logger.Warn().Err(err).Str("choice_id", c.ID).Msg("resolve choice")
			}
			r.logf("answered %q with %q", c.Prompt, opt.Label)
			return
		}
	}
	r.logger.Warn().Str("choice_id", c.ID).Str("answer", want).Msg("queued answer matches no option")
	state.game.Choices.Cancel(c.PlayerID)
}

func (r *Runner) runActionStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	key, _ := stringArg(step.Args, "key")
	out, err := state.game.Engine.TriggerManualEffect(ctx, playerID, key)
	if err := r.checkError(step, err); err != nil || !out.AlreadySatisfied {
		return err
	}
	r.logf("%s was already completed", key)
	return nil
}

func (r *Runner) runCompleteActionsStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	engine := state.game.Engine
	for _, action := range engine.AvailableActions(playerID) {
		if action.Kind != turn.ActionManualEffect || action.Completed {
			continue
		}
		out, err := engine.TriggerManualEffect(ctx, playerID, action.Key)
		if err != nil {
			return r.checkError(step, err)
		}
		r.logf("completed %s", action.Key)
		if out.Ended != nil {
			break
		}
	}
	return r.checkError(step, nil)
}

func (r *Runner) runRollStep(ctx context.Context, state *scenarioState, step Step, reroll bool) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	value, scripted := intArg(step.Args, "value")
	if scripted {
		state.dice.push(value)
	}
	var out turn.RollOutcome
	if reroll {
		out, err = state.game.Engine.ReRoll(ctx, playerID)
	} else {
		out, err = state.game.Engine.RollDice(ctx, playerID)
	}
	if err != nil {
		state.dice.drain()
		return r.checkError(step, err)
	}
	r.logf("%s rolled %d", playerID, out.Roll)
	if scripted && out.Roll != value {
		return r.failf("roll = %d, want scripted %d", out.Roll, value)
	}
	return r.checkError(step, nil)
}

func (r *Runner) runPlayCardStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	card, _ := stringArg(step.Args, "card")
	_, err = state.game.Engine.PlayCard(ctx, playerID, card)
	return r.checkError(step, err)
}

func (r *Runner) runChooseStep(state *scenarioState, step Step) error {
	option, _ := stringArg(step.Args, "option")
	if option == "" {
		return r.failf("choose needs an option")
	}
	state.answers = append(state.answers, option)
	return nil
}

func (r *Runner) runDestinationStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	space, _ := stringArg(step.Args, "space")
	return r.checkError(step, state.game.Engine.ChooseDestination(ctx, playerID, space))
}

func (r *Runner) runEndTurnStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	out, err := state.game.Engine.EndTurn(ctx, playerID)
	if err == nil {
		r.logf("%s moved %s -> %s", playerID, out.From, out.Destination)
	}
	return r.checkError(step, err)
}

func (r *Runner) runTryAgainStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	out, err := state.game.Engine.TryAgain(ctx, playerID)
	if err == nil {
		r.logf("%s tried again for %d days", playerID, out.Penalty)
	}
	return r.checkError(step, err)
}

func (r *Runner) runNegotiateStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	var participants []string
	for _, name := range stringList(step.Args["with"]) {
		pid, known := state.players[name]
		if !known {
			return r.failf("unknown player %q", name)
		}
		participants = append(participants, pid)
	}
	neg, err := state.game.Engine.StartNegotiation(ctx, playerID, participants)
	if err == nil {
		state.negotiation = neg.ID
		r.logf("%s opened negotiation %s with %v", playerID, neg.ID, participants)
	}
	return r.checkError(step, err)
}

func (r *Runner) runOfferStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	negotiations, err := r.negotiations(state)
	if err != nil {
		return err
	}
	cardIDs, err := r.offeredCards(state, playerID, step.Args["cards"])
	if err != nil {
		return err
	}
	offered := 0
	if raw, ok := step.Args["money"]; ok {
		if offered, err = amount(raw); err != nil {
			return r.failf("offer money: %v", err)
		}
	}
	offer, err := negotiations.Offer(ctx, state.negotiation, playerID, cardIDs, offered)
	if err == nil {
		r.logf("%s offered %v and %s", playerID, offer.CardIDs, money.Format(offer.Money))
	}
	return r.checkError(step, err)
}

func (r *Runner) runAcceptStep(ctx context.Context, state *scenarioState, step Step) error {
	playerID, err := r.actor(state, step.Args)
	if err != nil {
		return err
	}
	negotiations, err := r.negotiations(state)
	if err != nil {
		return err
	}
	neg, err := negotiations.Accept(ctx, state.negotiation, playerID)
	if err == nil {
		r.logf("%s accepted offer %s", playerID, neg.Accepted.ID)
	}
	return r.checkError(step, err)
}

func (r *Runner) runCancelStep(ctx context.Context, state *scenarioState, step Step) error {
	negotiations, err := r.negotiations(state)
	if err != nil {
		return err
	}
	_, err = negotiations.Cancel(ctx, state.negotiation)
	if err == nil {
		r.logf("negotiation %s cancelled", state.negotiation)
	}
	return r.checkError(step, err)
}

func (r *Runner) negotiations(state *scenarioState) (*negotiation.Manager, error) {
	negotiations := state.game.Engine.Negotiations()
	if negotiations == nil {
		return nil, r.failf("negotiations are not configured")
	}
	if state.negotiation == "" {
		return nil, r.failf("no negotiation has been opened")
	}
	return negotiations, nil
}

// offeredCards accepts a list of card ids or a table of counts per card
// type, such as {E = 1}, taken from the front of the player's hand.
func (r *Runner) offeredCards(state *scenarioState, playerID string, raw any) ([]string, error) {
	switch cards := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return stringList(cards), nil
	case map[string]any:
		p, err := state.game.Store.Player(playerID)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(cards))
		for key := range cards {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var ids []string
		for _, key := range keys {
			cardType, known := player.ParseCardType(key)
			if !known {
				return nil, r.failf("unknown card type %q", key)
			}
			count, _ := intArg(cards, key)
			held := p.Hand[cardType]
			if count > len(held) {
				return nil, r.failf("%s holds %d %s cards, cannot offer %d", playerID, len(held), cardType, count)
			}
			ids = append(ids, held[:count]...)
		}
		return ids, nil
	default:
		return nil, r.failf("unsupported cards %v", raw)
	}
}

func (r *Runner) runExpectStep(state *scenarioState, step Step) error {
	st := state.game.Engine.State()
	args := step.Args

	if want, ok := stringArg(args, "status"); ok && !strings.EqualFold(string(st.Status), want) {
		if err := r.assertf("status = %s, want %s", st.Status, want); err != nil {
			return err
		}
	}
	if want, ok := stringArg(args, "phase"); ok && !strings.EqualFold(string(st.Phase), want) {
		if err := r.assertf("phase = %s, want %s", st.Phase, want); err != nil {
			return err
		}
	}
	if want, ok := intArg(args, "turn"); ok && st.Turn != want {
		if err := r.assertf("turn = %d, want %d", st.Turn, want); err != nil {
			return err
		}
	}
	if want, ok := intArg(args, "dice"); ok && st.Dice != want {
		if err := r.assertf("dice = %d, want %d", st.Dice, want); err != nil {
			return err
		}
	}
	if name, ok := stringArg(args, "current"); ok {
		current, _ := st.Current()
		if current.ID != state.players[name] {
			if err := r.assertf("current player = %s, want %s", current.ID, name); err != nil {
				return err
			}
		}
	}
	if name, ok := stringArg(args, "winner"); ok && st.WinnerID != state.players[name] {
		if err := r.assertf("winner = %q, want %s", st.WinnerID, name); err != nil {
			return err
		}
	}
	if want, ok := stringArg(args, "negotiation"); ok {
		var got negotiation.Status
		if negotiations := state.game.Engine.Negotiations(); negotiations != nil {
			neg, _ := negotiations.Get(state.negotiation)
			got = neg.Status
		}
		if !strings.EqualFold(string(got), want) {
			if err := r.assertf("negotiation = %q, want %s", got, want); err != nil {
				return err
			}
		}
	}
	return r.expectPlayer(state, st, args)
}

func (r *Runner) expectPlayer(state *scenarioState, st gamestate.State, args map[string]any) error {
	playerID, err := r.actor(state, args)
	if err != nil {
		return err
	}
	p, ok := st.Player(playerID)
	if !ok {
		return r.failf("player %s not found", playerID)
	}

	if want, ok := stringArg(args, "space"); ok && p.Space != want {
		if err := r.assertf("%s space = %s, want %s", p.ID, p.Space, want); err != nil {
			return err
		}
	}
	if want, ok := stringArg(args, "visit"); ok && !strings.EqualFold(string(p.Visit), want) {
		if err := r.assertf("%s visit = %s, want %s", p.ID, p.Visit, want); err != nil {
			return err
		}
	}
	if raw, ok := args["money"]; ok {
		want, err := amount(raw)
		if err != nil {
			return r.failf("expect money: %v", err)
		}
		if p.Money != want {
			if err := r.assertf("%s money = %s, want %s", p.ID, money.Format(p.Money), money.Format(want)); err != nil {
				return err
			}
		}
	}
	checks := []struct {
		key string
		got int
	}{
		{"time", p.TimeSpent},
		{"scope", p.ProjectScope},
		{"hand", p.Hand.Total()},
		{"skip", p.SkipTurns},
		{"turns_taken", p.TurnsTaken},
		{"loans", len(p.Loans)},
	}
	for _, check := range checks {
		if want, ok := intArg(args, check.key); ok && check.got != want {
			if err := r.assertf("%s %s = %d, want %d", p.ID, check.key, check.got, want); err != nil {
				return err
			}
		}
	}
	if want, ok := args["reroll"].(bool); ok && p.ReRollAvailable != want {
		if err := r.assertf("%s reroll available = %t, want %t", p.ID, p.ReRollAvailable, want); err != nil {
			return err
		}
	}
	if cards, ok := args["cards"].(map[string]any); ok {
		keys := make([]string, 0, len(cards))
		for key := range cards {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			cardType, known := player.ParseCardType(key)
			if !known {
				return r.failf("unknown card type %q", key)
			}
			want, _ := intArg(cards, key)
			if got := p.Hand.Count(cardType); got != want {
				if err := r.assertf("%s %s cards = %d, want %d", p.ID, cardType, got, want); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// actor resolves the step's player by name or id, defaulting to whoever's
// turn it is.
func (r *Runner) actor(state *scenarioState, args map[string]any) (string, error) {
	name, ok := stringArg(args, "player")
	if !ok {
		current, _ := state.game.Engine.State().Current()
		return current.ID, nil
	}
	playerID, known := state.players[name]
	if !known {
		return "", r.failf("unknown player %q", name)
	}
	return playerID, nil
}

// checkError compares an engine error against the step's expect_error code.
func (r *Runner) checkError(step Step, err error) error {
	want, _ := stringArg(step.Args, "expect_error")
	wantCategory, _ := stringArg(step.Args, "expect_category")
	if want == "" && wantCategory == "" {
		if rej, ok := apperrors.RejectionOf(err); ok {
			return fmt.Errorf("rejected %s: %w", rej, err)
		}
		return err
	}
	if err == nil {
		return r.assertf("expected error %s%s", want, wantCategory)
	}
	rej, ok := apperrors.RejectionOf(err)
	if !ok {
		return r.assertf("expected a rejection, got %v", err)
	}
	r.logf("rejected as expected: %s", rej)
	if want != "" && !strings.EqualFold(string(rej.Code), want) {
		return r.assertf("error code = %s, want %s: %v", rej.Code, want, err)
	}
	if wantCategory != "" && !strings.EqualFold(string(rej.Category), wantCategory) {
		return r.assertf("error category = %s, want %s: %v", rej.Category, wantCategory, err)
	}
	return nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	value, ok := args[key].(string)
	return value, ok
}

func intArg(args map[string]any, key string) (int, bool) {
	switch value := args[key].(type) {
	case int:
		return value, true
	case float64:
		return int(value), true
	default:
		return 0, false
	}
}

func stringList(raw any) []string {
	items, _ := raw.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// amount accepts a plain number or a formatted amount such as "$1,500".
func amount(raw any) (int, error) {
	switch value := raw.(type) {
	case int:
		return value, nil
	case string:
		return money.Parse(value)
	default:
		return 0, fmt.Errorf("unsupported amount %v", raw)
	}
}
