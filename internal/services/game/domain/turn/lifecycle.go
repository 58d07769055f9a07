package turn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/effect"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

// ActionKeyDice is the completed-action key of the mandated dice roll.
const ActionKeyDice = "dice_roll"

// Start reports how a new turn began.
type Start struct {
	PlayerID string
	Space    string
	Visit    player.Visit
	// Skipped lists players whose turn was consumed by a skip counter.
	Skipped         []string
	Expired         []string
	Arrival         effect.BatchResult
	RequiredActions int
}

// EndOutcome reports a completed END_TURN.
type EndOutcome struct {
	PlayerID    string
	From        string
	Destination string
	Leaving     effect.BatchResult
	GameOver    bool
	WinnerID    string
	Next        *Start
}

// TryAgainOutcome reports a revert.
type TryAgainOutcome struct {
	PlayerID string
	Penalty  int
	Next     *Start
}

// StartGame places players on the starting space, activates the game and
// starts the first player's turn.
func (e *Engine) StartGame(ctx context.Context, players []player.Player) (Start, error) {
	unlock, err := e.lock()
	if err != nil {
		return Start{}, err
	}
	defer unlock()

	if len(players) == 0 {
		return Start{}, apperrors.New(apperrors.CodePlayerNotFound, "at least one player is required")
	}
	start, ok := e.deps.Rules.StartingSpace()
	if !ok {
		return Start{}, apperrors.New(apperrors.CodeInvalidDestination, "board has no starting space")
	}
	seen := make(map[string]bool, len(players))
	placed := make([]player.Player, len(players))
	for i, p := range players {
		if p.ID == "" || seen[p.ID] {
			return Start{}, apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player ids must be unique and non-empty",
				map[string]string{"PlayerID": p.ID})
		}
		seen[p.ID] = true
		p = p.Clone()
		p.Space = start
		p.Visit = player.VisitFirst
		p.VisitedSpaces = []string{start}
		if p.Hand == nil {
			p.Hand = player.Hand{}
		}
		placed[i] = p
	}
	err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		if st.Status == gamestate.StatusActive {
			return apperrors.New(apperrors.CodeGameNotActive, "game already started")
		}
		*st = gamestate.State{
			Status:  gamestate.StatusActive,
			Phase:   gamestate.PhaseTurnStart,
			Players: placed,
		}
		st.ResetTurnFlags()
		return nil
	})
	if err != nil {
		return Start{}, err
	}
	if err := e.deps.Inventory.Reconcile(ctx); err != nil {
		return Start{}, err
	}
	st := e.deps.Store.Snapshot()
	e.journal(ctx, st, "", journal.KindGame, "game", fmt.Sprintf("game started with %d players on %s", len(placed), start))
	e.logger.Info().Int("players", len(placed)).Str("space", start).Msg("game started")
	return e.beginTurn(ctx)
}

// beginTurn runs TURN_START through AWAITING_ACTIONS for the current
// player, consuming skip counters on the way. Callers hold mu.
func (e *Engine) beginTurn(ctx context.Context) (start Start, err error) {
	ctx, span := e.tracer.Start(ctx, "turn.start")
	defer func() { endSpan(span, err) }()

	e.setManual(nil)
	e.lastRoll = nil
	e.endRequested = false

	st := e.deps.Store.Snapshot()
	for guard := 0; ; guard++ {
		if guard > len(st.Players)*64 {
			return start, fmt.Errorf("skip counters never ran out")
		}
		err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
			st.Turn++
			st.Phase = gamestate.PhaseTurnStart
			st.ResetTurnFlags()
			return nil
		})
		if err != nil {
			return start, err
		}
		st = e.deps.Store.Snapshot()
		current, ok := st.Current()
		if !ok {
			return start, apperrors.New(apperrors.CodePlayerNotFound, "no current player")
		}
		if current.SkipTurns == 0 {
			break
		}
		if err = e.deps.Store.UpdatePlayer(ctx, current.ID, func(p *player.Player) error {
			p.SkipTurns--
			return nil
		}); err != nil {
			return start, err
		}
		start.Skipped = append(start.Skipped, current.ID)
		e.journal(ctx, st, current.ID, journal.KindTurn, "turn", "turn skipped")
		e.logger.Info().Str("player_id", current.ID).Msg("turn skipped")
		if _, err = e.deps.Store.AdvanceTurn(ctx); err != nil {
			return start, err
		}
	}

	current, _ := st.Current()
	span.SetAttributes(attribute.String("player.id", current.ID), attribute.Int("turn", st.Turn))
	start.PlayerID = current.ID
	start.Space = current.Space
	start.Visit = current.Visit

	if start.Expired, err = e.deps.Inventory.ExpireActive(ctx, current.ID); err != nil {
		return start, err
	}

	if err = e.setPhase(ctx, gamestate.PhaseArrivalEffects); err != nil {
		return start, err
	}
	rows := e.deps.Rules.SpaceEffects(current.Space, current.Visit)
	var arrival []rules.EffectRow
	for _, row := range rows {
		if row.Trigger == rules.TriggerAuto && !row.IsLeaving() && e.holds(row, current, 0) {
			arrival = append(arrival, row)
		}
	}
	source := "space:" + current.Space
	start.Arrival = e.deps.Resolver.Process(ctx, e.deps.Resolver.Translator().FromRows(arrival),
		effect.Context{Source: source, PlayerID: current.ID, Trigger: "arrival"})
	if e.endRequested {
		// The turn has not started yet, so there is nothing to end.
		e.endRequested = false
		e.logger.Info().Str("player_id", current.ID).Msg("end of turn requested by arrival effects, ignoring")
		e.journal(ctx, st, current.ID, journal.KindWarning, source, "end of turn requested on arrival, ignored")
	}

	// Snapshot after arrival, so a revert keeps the player's entry into the space.
	arrived, err := e.deps.Store.Player(current.ID)
	if err != nil {
		return start, err
	}
	if err = e.deps.Snapshots.Save(ctx, arrived, st.Turn); err != nil {
		return start, err
	}
	if err = e.setPhase(ctx, gamestate.PhaseSnapshotTaken); err != nil {
		return start, err
	}

	manual := manualActions(rows, func(row rules.EffectRow) bool { return e.holds(row, arrived, 0) })
	e.setManual(manual)
	required := len(manual)
	if e.needsDice(arrived) {
		required++
	}
	start.RequiredActions = required
	err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		st.RequiredActions = required
		st.Phase = gamestate.PhaseAwaitingActions
		return nil
	})
	if err != nil {
		return start, err
	}
	e.journal(ctx, st, current.ID, journal.KindTurn, source,
		fmt.Sprintf("turn %d started on %s (%s visit), %d action(s) required", st.Turn, current.Space, current.Visit, required))
	e.logger.Info().
		Str("player_id", current.ID).
		Str("space", current.Space).
		Int("turn", st.Turn).
		Int("required_actions", required).
		Bool("arrival_ok", start.Arrival.Success).
		Msg("turn started")
	return start, nil
}

// holds evaluates a row's condition. Directional conditions select a
// target rather than gating the row.
func (e *Engine) holds(row rules.EffectRow, p player.Player, dice int) bool {
	return e.deps.Conditions.EvaluateCondition(condition.Parse(row.Condition), p, dice)
}

// needsDice reports whether the player must roll before leaving.
func (e *Engine) needsDice(p player.Player) bool {
	if cfg, ok := e.deps.Rules.Space(p.Space); ok && cfg.RequiresDiceRoll {
		return true
	}
	return e.deps.Movement.Resolve(p.Space, p.Visit).Kind == rules.MovementDice
}

// manualActions lists manual rows that currently hold. Repeated keys get a
// "#n" suffix so each row can be completed once. Dice-conditioned manual rows
// are left out; they apply when the dice are rolled.
func manualActions(rows []rules.EffectRow, holds func(rules.EffectRow) bool) []manualAction {
	var out []manualAction
	seen := make(map[string]int)
	for _, row := range rows {
		if row.Trigger != rules.TriggerManual || condition.Parse(row.Condition).IsDice() || !holds(row) {
			continue
		}
		key := row.Key()
		seen[key]++
		if n := seen[key]; n > 1 {
			key += "#" + strconv.Itoa(n)
		}
		out = append(out, manualAction{key: key, row: row})
	}
	return out
}

// EndTurn applies leaving effects, moves the player and hands the turn on,
// or ends the game when the win condition holds.
func (e *Engine) EndTurn(ctx context.Context, playerID string) (EndOutcome, error) {
	unlock, err := e.lock()
	if err != nil {
		return EndOutcome{}, err
	}
	defer unlock()
	return e.endTurn(ctx, playerID)
}

func (e *Engine) endTurn(ctx context.Context, playerID string) (out EndOutcome, err error) {
	ctx, span := e.tracer.Start(ctx, "turn.end", trace.WithAttributes(attribute.String("player.id", playerID)))
	defer func() { endSpan(span, err) }()

	st := e.deps.Store.Snapshot()
	if err = check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return out, err
	}
	if done := st.CompletedCount(); done < st.RequiredActions {
		return out, apperrors.WithMetadata(apperrors.CodeActionsIncomplete, "required actions are not complete",
			map[string]string{"Completed": strconv.Itoa(done), "Required": strconv.Itoa(st.RequiredActions)})
	}
	e.endRequested = false
	p, err := e.deps.Store.Player(playerID)
	if err != nil {
		return out, err
	}
	out.PlayerID = playerID
	out.From = p.Space

	// Pick the destination before anything changes so a failed or
	// abandoned choice leaves the turn as it was.
	dest, err := e.destination(ctx, playerID)
	if err != nil {
		return out, err
	}
	if err = e.setPhase(ctx, gamestate.PhaseEndTurn); err != nil {
		return out, err
	}

	var leaving []rules.EffectRow
	for _, row := range e.deps.Rules.SpaceEffects(p.Space, p.Visit) {
		if row.IsLeaving() && e.holds(row, p, st.Dice) {
			leaving = append(leaving, row)
		}
	}
	source := "space:" + p.Space
	out.Leaving = e.deps.Resolver.Process(ctx, e.deps.Resolver.Translator().FromRows(leaving),
		effect.Context{Source: source, PlayerID: playerID, Trigger: "leaving"})

	if selected := e.deps.Store.Snapshot().Destination; selected != "" {
		dest = selected
	}
	out.Destination = dest
	err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		mover, ok := st.Player(playerID)
		if !ok {
			return apperrors.New(apperrors.CodePlayerNotFound, "player not found")
		}
		if dest != "" {
			if mover.HasVisited(dest) {
				mover.Visit = player.VisitSubsequent
			} else {
				mover.Visit = player.VisitFirst
				mover.VisitedSpaces = append(mover.VisitedSpaces, dest)
			}
			mover.Space = dest
			st.MovedThisTurn = true
		}
		mover.TurnsTaken++
		st.Phase = gamestate.PhaseTurnEnd
		return nil
	})
	if err != nil {
		return out, err
	}
	e.deps.Snapshots.Clear(playerID)
	span.SetAttributes(attribute.String("destination", dest))

	st = e.deps.Store.Snapshot()
	if dest != "" {
		e.journal(ctx, st, playerID, journal.KindMove, source, fmt.Sprintf("moved %s -> %s", out.From, dest))
	}
	if winner, won := e.deps.Win.Check(st); won {
		err = e.deps.Store.Update(ctx, func(st *gamestate.State) error {
			st.Status = gamestate.StatusGameOver
			st.WinnerID = winner
			return nil
		})
		if err != nil {
			return out, err
		}
		out.GameOver = true
		out.WinnerID = winner
		e.setManual(nil)
		e.journal(ctx, st, winner, journal.KindGame, "game", "game over, winner "+winner)
		e.logger.Info().Str("winner_id", winner).Int("turn", st.Turn).Msg("game over")
		return out, nil
	}

	if _, err = e.deps.Store.AdvanceTurn(ctx); err != nil {
		return out, err
	}
	next, err := e.beginTurn(ctx)
	if err != nil {
		return out, err
	}
	out.Next = &next
	return out, nil
}

// destination picks where the player moves: an already selected
// destination, the single fixed one, the rolled one, or the player's choice.
func (e *Engine) destination(ctx context.Context, playerID string) (string, error) {
	st := e.deps.Store.Snapshot()
	if st.Destination != "" {
		return st.Destination, nil
	}
	p, _ := st.Player(playerID)
	dests := e.deps.Movement.Resolve(p.Space, p.Visit)
	switch dests.Kind {
	case rules.MovementFixed:
		dest, _ := dests.Single()
		return dest, nil
	case rules.MovementDice:
		roll := st.Dice
		if roll == 0 {
			roll = e.deps.Dice.RollD6()
		}
		dest, _ := dests.ForRoll(roll)
		return dest, nil
	case rules.MovementChoice:
		options := make([]choice.Option, len(dests.Options))
		for i, opt := range dests.Options {
			options[i] = choice.Option{ID: opt, Label: opt}
		}
		_, selected, err := e.deps.Choices.Ask(ctx, choice.Request{
			PlayerID: playerID,
			Category: choice.CategoryMovement,
			Prompt:   "Choose your destination",
			Options:  options,
		})
		if err != nil {
			return "", err
		}
		return selected, nil
	}
	return "", nil
}

// TryAgain reverts the current player to their post-arrival snapshot,
// keeping visit history, charges the time penalty and forfeits the rest of
// the turn.
func (e *Engine) TryAgain(ctx context.Context, playerID string) (out TryAgainOutcome, err error) {
	unlock, err := e.lock()
	if err != nil {
		return out, err
	}
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "turn.try_again", trace.WithAttributes(attribute.String("player.id", playerID)))
	defer func() { endSpan(span, err) }()

	st := e.deps.Store.Snapshot()
	if err = check(st, playerID, gamestate.PhaseAwaitingActions); err != nil {
		return out, err
	}
	snap, err := e.deps.Snapshots.Restore(ctx, playerID)
	if err != nil {
		return out, err
	}
	if err = e.setPhase(ctx, gamestate.PhaseTryAgain); err != nil {
		return out, err
	}
	target := snap.Player()
	source := "try_again"
	if _, err = e.deps.Ledger.Restore(ctx, playerID, target, source); err != nil {
		return out, err
	}
	if err = e.deps.Inventory.Restore(ctx, playerID, target); err != nil {
		return out, err
	}
	err = e.deps.Store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		p.Space = target.Space
		p.SkipTurns = target.SkipTurns
		p.ReRollAvailable = target.ReRollAvailable
		// The space is in the history now, so the retry is a subsequent visit.
		if p.HasVisited(target.Space) {
			p.Visit = player.VisitSubsequent
		}
		p.TurnsTaken++
		return nil
	})
	if err != nil {
		return out, err
	}
	if e.penalty > 0 {
		if _, err = e.deps.Ledger.AddTime(ctx, playerID, e.penalty, source, "try again penalty"); err != nil {
			return out, err
		}
	}
	e.deps.Snapshots.Clear(playerID)
	e.deps.Choices.Cancel(playerID)
	out.PlayerID = playerID
	out.Penalty = e.penalty
	e.journal(ctx, st, playerID, journal.KindTurn, source, fmt.Sprintf("tried again, %d day penalty", e.penalty))
	e.logger.Info().Str("player_id", playerID).Int("penalty_days", e.penalty).Msg("try again")

	if _, err = e.deps.Store.AdvanceTurn(ctx); err != nil {
		return out, err
	}
	next, err := e.beginTurn(ctx)
	if err != nil {
		return out, err
	}
	out.Next = &next
	return out, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

func joinKeys(actions []manualAction) string {
	keys := make([]string, len(actions))
	for i, a := range actions {
		keys[i] = a.key
	}
	return strings.Join(keys, ",")
}

func parseCondition(row rules.EffectRow) condition.Condition {
	return condition.Parse(row.Condition)
}
