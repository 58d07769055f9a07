package app

import (
	"context"
	"errors"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/turn"
)

// ErrTurnLimit is returned by Autoplay when maxTurns pass without a winner.
var ErrTurnLimit = errors.New("turn limit reached without a winner")

// TurnSummary describes one finished turn.
type TurnSummary struct {
	Turn      int
	PlayerID  string
	From      string
	To        string
	Roll      int
	Money     int
	TimeSpent int
	Played    []string
	GameOver  bool
	WinnerID  string
}

// Autoplay plays a started game with simple bots until someone wins or
// maxTurns turns have ended. Bots complete every manual action, roll once,
// play affordable expeditor cards and end the turn. Choices must be
// answered by a listener such as AnswerFirstOption.
func Autoplay(ctx context.Context, g *Game, maxTurns int, report func(TurnSummary)) (gamestate.State, error) {
	for played := 0; maxTurns <= 0 || played < maxTurns; played++ {
		if err := ctx.Err(); err != nil {
			return g.Engine.State(), err
		}
		st := g.Engine.State()
		if st.Status != gamestate.StatusActive {
			return st, nil
		}
		summary, err := playTurn(ctx, g, st)
		if err != nil {
			return g.Engine.State(), err
		}
		if report != nil {
			report(summary)
		}
		if summary.GameOver {
			return g.Engine.State(), nil
		}
	}
	return g.Engine.State(), ErrTurnLimit
}

func playTurn(ctx context.Context, g *Game, st gamestate.State) (TurnSummary, error) {
	engine := g.Engine
	current, _ := st.Current()
	summary := TurnSummary{Turn: st.Turn, PlayerID: current.ID, From: current.Space}
	finish := func(out turn.EndOutcome) (TurnSummary, error) {
		summary.To = out.Destination
		summary.GameOver = out.GameOver
		summary.WinnerID = out.WinnerID
		after := engine.State()
		if p, ok := after.Player(current.ID); ok {
			summary.Money = p.Money
			summary.TimeSpent = p.TimeSpent
		}
		return summary, nil
	}

	for _, action := range engine.AvailableActions(current.ID) {
		if action.Kind != turn.ActionManualEffect || action.Completed {
			continue
		}
		out, err := engine.TriggerManualEffect(ctx, current.ID, action.Key)
		if err != nil {
			return summary, err
		}
		if out.Ended != nil {
			return finish(*out.Ended)
		}
	}

	if !engine.State().RolledThisTurn {
		out, err := engine.RollDice(ctx, current.ID)
		if err != nil {
			return summary, err
		}
		summary.Roll = out.Roll
		if out.Ended != nil {
			return finish(*out.Ended)
		}
	}

	for _, action := range engine.AvailableActions(current.ID) {
		if action.Kind != turn.ActionPlayCard || !g.playable(engine.State(), current.ID, action.Key) {
			continue
		}
		out, err := engine.PlayCard(ctx, current.ID, action.Key)
		if apperrors.CodeOf(err).Category() == apperrors.CategoryValidation {
			// An earlier play this turn made the card unaffordable.
			g.logger.Debug().Err(err).Str("player_id", current.ID).Str("card_id", action.Key).Msg("bot skipped card")
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Played = append(summary.Played, action.Key)
		if out.Ended != nil {
			return finish(*out.Ended)
		}
	}

	out, err := engine.EndTurn(ctx, current.ID)
	if err != nil {
		return summary, err
	}
	return finish(out)
}

// playable keeps bots from spending more than half their money on one card.
func (g *Game) playable(st gamestate.State, playerID, cardID string) bool {
	p, ok := st.Player(playerID)
	if !ok {
		return false
	}
	def, known := g.Rules.Card(cardID)
	return known && def.Type == player.CardExpeditor && p.Money >= 2*def.Cost
}
