package effect

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/rs/zerolog"
	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/movement"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

// MsgInvalidChoice is reported when a choice selection is outside the
// branch list.
const MsgInvalidChoice = "Invalid choice option selected"

// maxCardPlayDepth bounds cards whose definitions play further cards.
const maxCardPlayDepth = 4

var (
	// ErrPlayersRequired indicates a missing player store.
	ErrPlayersRequired = errors.New("player store is required")
	// ErrLedgerRequired indicates a missing ledger.
	ErrLedgerRequired = errors.New("ledger is required")
	// ErrInventoryRequired indicates a missing card inventory.
	ErrInventoryRequired = errors.New("card inventory is required")
)

// Players reads and updates player state.
type Players interface {
	Player(id string) (player.Player, error)
	UpdatePlayer(ctx context.Context, id string, fn func(*player.Player) error) error
	Snapshot() gamestate.State
}

// Ledger applies balance changes.
type Ledger interface {
	AddMoney(ctx context.Context, playerID string, amount int, source, reason string) (ledger.Transaction, error)
	SpendMoney(ctx context.Context, playerID string, amount int, source, reason string) (ledger.Transaction, error)
	AddTime(ctx context.Context, playerID string, days int, source, reason string) (ledger.Transaction, error)
	SpendTime(ctx context.Context, playerID string, days int, source, reason string) (ledger.Transaction, error)
	TakeLoan(ctx context.Context, playerID string, principal int, ratePercent float64, turn int, source string) (player.Loan, ledger.Transaction, error)
}

// Inventory moves cards.
type Inventory interface {
	DrawCards(ctx context.Context, playerID string, cardType player.CardType, count int, source, reason string) ([]string, error)
	DiscardCards(ctx context.Context, playerID string, cardIDs []string, source, reason string) ([]string, error)
	DiscardByType(ctx context.Context, playerID string, cardType player.CardType, count int, source, reason string) ([]string, error)
	TransferByType(ctx context.Context, fromID, toID string, cardType player.CardType, count int, source string) ([]string, error)
	DrawAndApply(ctx context.Context, playerID string, cardType player.CardType, count int, source string) ([]string, []ledger.Transaction, error)
	PlayCard(ctx context.Context, playerID, cardID, source string) (rules.CardDefinition, error)
}

// Chooser asks a player to pick an option and blocks until they do.
type Chooser interface {
	Ask(ctx context.Context, req choice.Request) (choice.Choice, string, error)
}

// Mover resolves legal destinations.
type Mover interface {
	Resolve(space string, visit player.Visit) movement.Destinations
}

// Journal records log effects.
type Journal interface {
	Append(ctx context.Context, entry journal.Entry) (journal.Entry, error)
}

// TurnController carries out turn-level requests on behalf of effects. It is
// set after construction because the turn orchestrator owns the resolver.
type TurnController interface {
	RequestEndTurn(ctx context.Context, playerID string) error
	SelectDestination(ctx context.Context, playerID, destination string) error
}

// Deps are the resolver collaborators. Chooser, Movement and Journal are
// optional; effects needing a missing one fail non-fatally.
type Deps struct {
	Players   Players
	Ledger    Ledger
	Inventory Inventory
	Chooser   Chooser
	Movement  Mover
	Journal   Journal
}

// Context describes where an effect list came from. It is passed by value.
type Context struct {
	// Source is a readable origin such as "space:PM-DECISION-CHECK" or "card:E012".
	Source   string
	PlayerID string
	// Trigger optionally tags the event that produced the effects.
	Trigger string
}

// Result is the outcome of one effect.
type Result struct {
	Kind    Kind
	Success bool
	// Fatal marks failures that indicate a broken request rather than a
	// game-rule refusal.
	Fatal     bool
	Message   string
	Amount    int
	Shortfall int
	CardIDs   []string
	Selected  string
	Nested    *BatchResult
}

// BatchResult aggregates an ordered effect list.
type BatchResult struct {
	Success           bool
	TotalEffects      int
	SuccessfulEffects int
	FailedEffects     int
	Results           []Result
	Errors            []string
}

// Resolver applies effects in order through its collaborators.
type Resolver struct {
	deps       Deps
	translator *Translator
	logger     zerolog.Logger
	turns      TurnController
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver validates deps and builds a resolver.
func NewResolver(deps Deps, opts ...Option) (*Resolver, error) {
	switch {
	case deps.Players == nil:
		return nil, ErrPlayersRequired
	case deps.Ledger == nil:
		return nil, ErrLedgerRequired
	case deps.Inventory == nil:
		return nil, ErrInventoryRequired
	}
	r := &Resolver{deps: deps, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.translator = NewTranslator(r.logger)
	return r, nil
}

// SetTurnController binds the turn controller.
func (r *Resolver) SetTurnController(tc TurnController) {
	r.turns = tc
}

// Translator returns the row translator sharing the resolver's logger.
func (r *Resolver) Translator() *Translator {
	return r.translator
}

// Process applies effects strictly left to right. A failed effect never
// stops the ones after it.
func (r *Resolver) Process(ctx context.Context, effects []Effect, ec Context) BatchResult {
	return r.process(ctx, effects, ec, 0)
}

// ProcessOne applies a single effect.
func (r *Resolver) ProcessOne(ctx context.Context, e Effect, ec Context) Result {
	return r.processOne(ctx, e, ec, 0)
}

func (r *Resolver) process(ctx context.Context, effects []Effect, ec Context, depth int) BatchResult {
	batch := BatchResult{TotalEffects: len(effects), Results: make([]Result, 0, len(effects))}
	for _, e := range effects {
		res := r.processOne(ctx, e, ec, depth)
		batch.Results = append(batch.Results, res)
		if res.Success {
			batch.SuccessfulEffects++
			continue
		}
		batch.FailedEffects++
		batch.Errors = append(batch.Errors, res.Message)
	}
	batch.Success = batch.FailedEffects == 0
	return batch
}

func (r *Resolver) processOne(ctx context.Context, e Effect, ec Context, depth int) Result {
	if e == nil {
		return Result{Fatal: true, Message: "nil effect"}
	}
	var res Result
	switch v := e.(type) {
	case ResourceChange:
		res = r.resourceChange(ctx, v, ec)
	case CardDraw:
		res = r.cardDraw(ctx, v, ec)
	case CardDiscard:
		res = r.cardDiscard(ctx, v, ec)
	case CardTransfer:
		res = r.cardTransfer(ctx, v, ec)
	case CardReplace:
		res = r.cardReplace(ctx, v, ec)
	case CardDrawAndApply:
		res = r.cardDrawAndApply(ctx, v, ec)
	case CardPlay:
		res = r.cardPlay(ctx, v, ec, depth)
	case Loan:
		res = r.loan(ctx, v, ec)
	case Choice:
		res = r.choice(ctx, v, ec, depth)
	case TurnControl:
		res = r.turnControl(ctx, v, ec)
	case Movement:
		res = r.movement(ctx, v, ec)
	case Log:
		res = r.log(ctx, v, ec)
	default:
		res = Result{Fatal: true, Message: fmt.Sprintf("unsupported effect %T", e)}
	}
	res.Kind = e.Kind()
	event := r.logger.Debug()
	if !res.Success {
		event = r.logger.Info()
	}
	event.Str("player_id", ec.PlayerID).
		Str("source", ec.Source).
		Str("effect", string(res.Kind)).
		Bool("success", res.Success).
		Str("message", res.Message).
		Msg("effect processed")
	return res
}

func (r *Resolver) resourceChange(ctx context.Context, e ResourceChange, ec Context) Result {
	p, err := r.deps.Players.Player(ec.PlayerID)
	if err != nil {
		return failure(err, true)
	}
	amount := e.Amount.Evaluate(p)
	if amount == 0 {
		return Result{Success: true, Message: "no change"}
	}
	var tx ledger.Transaction
	switch {
	case e.Resource == ledger.Money && amount > 0:
		tx, err = r.deps.Ledger.AddMoney(ctx, ec.PlayerID, amount, ec.Source, e.Reason)
	case e.Resource == ledger.Money:
		tx, err = r.deps.Ledger.SpendMoney(ctx, ec.PlayerID, -amount, ec.Source, e.Reason)
	case e.Resource == ledger.Time && amount > 0:
		tx, err = r.deps.Ledger.AddTime(ctx, ec.PlayerID, amount, ec.Source, e.Reason)
	case e.Resource == ledger.Time:
		tx, err = r.deps.Ledger.SpendTime(ctx, ec.PlayerID, -amount, ec.Source, e.Reason)
	default:
		return Result{Fatal: true, Message: fmt.Sprintf("unknown resource %q", e.Resource)}
	}
	if err != nil {
		res := failure(err, false)
		res.Amount = amount
		res.Shortfall = ledger.Shortfall(err)
		return res
	}
	return Result{Success: true, Amount: tx.Amount, Message: e.Describe()}
}

func (r *Resolver) cardDraw(ctx context.Context, e CardDraw, ec Context) Result {
	ids, err := r.deps.Inventory.DrawCards(ctx, ec.PlayerID, e.CardType, e.Count, ec.Source, e.Reason)
	if err != nil {
		return failure(err, false)
	}
	if len(ids) == 0 {
		return Result{Success: true, Message: fmt.Sprintf("no %s cards left to draw", e.CardType)}
	}
	return Result{Success: true, CardIDs: ids, Message: fmt.Sprintf("drew %d %s", len(ids), e.CardType)}
}

func (r *Resolver) cardDiscard(ctx context.Context, e CardDiscard, ec Context) Result {
	var (
		ids []string
		err error
	)
	if len(e.CardIDs) > 0 {
		ids, err = r.deps.Inventory.DiscardCards(ctx, ec.PlayerID, e.CardIDs, ec.Source, e.Reason)
	} else {
		ids, err = r.deps.Inventory.DiscardByType(ctx, ec.PlayerID, e.CardType, e.Count, ec.Source, e.Reason)
	}
	if err != nil {
		return failure(err, false)
	}
	return Result{Success: true, CardIDs: ids, Message: fmt.Sprintf("discarded %d card(s)", len(ids))}
}

func (r *Resolver) cardTransfer(ctx context.Context, e CardTransfer, ec Context) Result {
	target := e.TargetPlayerID
	if target == "" {
		state := r.deps.Players.Snapshot()
		var ok bool
		target, ok = condition.Target(e.Direction, state.PlayerIDs(), state.IndexOf(ec.PlayerID))
		if !ok {
			return Result{Success: true, Message: "no player to transfer to"}
		}
	}
	if target == ec.PlayerID {
		return Result{Fatal: true, Message: "cannot transfer cards to yourself"}
	}
	ids, err := r.deps.Inventory.TransferByType(ctx, ec.PlayerID, target, e.CardType, e.Count, ec.Source)
	if err != nil {
		return failure(err, false)
	}
	return Result{Success: true, CardIDs: ids, Message: fmt.Sprintf("gave %d %s to %s", len(ids), e.CardType, target)}
}

// cardReplace asks the player which held card to swap, once per card, and
// replaces each pick with a fresh draw of the same type.
func (r *Resolver) cardReplace(ctx context.Context, e CardReplace, ec Context) Result {
	var replaced []string
	for i := 0; i < e.Count; i++ {
		p, err := r.deps.Players.Player(ec.PlayerID)
		if err != nil {
			return failure(err, true)
		}
		held := slices.DeleteFunc(slices.Clone(p.Hand[e.CardType]), func(id string) bool { return slices.Contains(replaced, id) })
		if len(held) == 0 {
			break
		}
		pick := held[0]
		if r.deps.Chooser != nil && len(held) > 1 {
			options := make([]choice.Option, len(held))
			for j, id := range held {
				options[j] = choice.Option{ID: id, Label: id}
			}
			_, selected, err := r.deps.Chooser.Ask(ctx, choice.Request{
				PlayerID: ec.PlayerID,
				Category: choice.CategoryCardReplacement,
				Prompt:   fmt.Sprintf("Choose a %s card to replace", e.CardType),
				Options:  options,
				Metadata: map[string]string{"card_type": string(e.CardType)},
			})
			if err != nil {
				return failure(err, false)
			}
			if !slices.Contains(held, selected) {
				return Result{Fatal: true, Message: MsgInvalidChoice, Selected: selected, CardIDs: replaced}
			}
			pick = selected
		}
		if _, err := r.deps.Inventory.DiscardCards(ctx, ec.PlayerID, []string{pick}, ec.Source, e.Reason); err != nil {
			return failure(err, false)
		}
		drawn, err := r.deps.Inventory.DrawCards(ctx, ec.PlayerID, e.CardType, 1, ec.Source, e.Reason)
		if err != nil {
			return failure(err, false)
		}
		replaced = append(replaced, drawn...)
	}
	if len(replaced) == 0 {
		return Result{Success: true, Message: fmt.Sprintf("no %s cards replaced", e.CardType)}
	}
	return Result{Success: true, CardIDs: replaced, Message: fmt.Sprintf("replaced %d %s", len(replaced), e.CardType)}
}

func (r *Resolver) cardDrawAndApply(ctx context.Context, e CardDrawAndApply, ec Context) Result {
	ids, txs, err := r.deps.Inventory.DrawAndApply(ctx, ec.PlayerID, e.CardType, e.Count, ec.Source)
	if err != nil {
		return failure(err, false)
	}
	if len(ids) == 0 {
		return Result{Success: true, Message: fmt.Sprintf("no %s cards available, nothing applied", e.CardType)}
	}
	amount := 0
	for _, tx := range txs {
		if tx.Resource == ledger.Money {
			amount += tx.Amount
		}
	}
	return Result{Success: true, CardIDs: ids, Amount: amount, Message: fmt.Sprintf("applied %d %s", len(ids), e.CardType)}
}

func (r *Resolver) cardPlay(ctx context.Context, e CardPlay, ec Context, depth int) Result {
	if depth >= maxCardPlayDepth {
		return Result{Fatal: true, Message: "card play nested too deeply"}
	}
	def, err := r.deps.Inventory.PlayCard(ctx, ec.PlayerID, e.CardID, ec.Source)
	if err != nil {
		return failure(err, false)
	}
	nestedCtx := ec
	nestedCtx.Source = "card:" + def.ID
	nested := r.process(ctx, r.translator.FromCard(def), nestedCtx, depth+1)
	return Result{
		Success: nested.Success,
		CardIDs: []string{def.ID},
		Message: fmt.Sprintf("played %s", def.ID),
		Nested:  &nested,
	}
}

func (r *Resolver) loan(ctx context.Context, e Loan, ec Context) Result {
	turn := r.deps.Players.Snapshot().Turn
	loan, _, err := r.deps.Ledger.TakeLoan(ctx, ec.PlayerID, e.Amount, e.RatePercent, turn, ec.Source)
	if err != nil {
		return failure(err, false)
	}
	return Result{Success: true, Amount: loan.Principal, Message: e.Describe()}
}

func (r *Resolver) choice(ctx context.Context, e Choice, ec Context, depth int) Result {
	if r.deps.Chooser == nil {
		return Result{Message: "no chooser available"}
	}
	if len(e.Branches) == 0 {
		return Result{Fatal: true, Message: "choice has no branches"}
	}
	options := make([]choice.Option, len(e.Branches))
	for i, b := range e.Branches {
		options[i] = choice.Option{ID: strconv.Itoa(i), Label: b.Label}
	}
	_, selected, err := r.deps.Chooser.Ask(ctx, choice.Request{
		PlayerID: ec.PlayerID,
		Category: choice.CategoryGeneral,
		Prompt:   e.Prompt,
		Options:  options,
		Metadata: map[string]string{"source": ec.Source},
	})
	if err != nil {
		return failure(err, false)
	}
	index, err := strconv.Atoi(selected)
	if err != nil || index < 0 || index >= len(e.Branches) {
		return Result{Fatal: true, Message: MsgInvalidChoice, Selected: selected}
	}
	nested := r.process(ctx, e.Branches[index].Effects, ec, depth)
	return Result{
		Success:  nested.Success,
		Selected: selected,
		Message:  "chose " + e.Branches[index].Label,
		Nested:   &nested,
	}
}

func (r *Resolver) turnControl(ctx context.Context, e TurnControl, ec Context) Result {
	switch e.Action {
	case GrantReRoll:
		err := r.deps.Players.UpdatePlayer(ctx, ec.PlayerID, func(p *player.Player) error {
			p.ReRollAvailable = true
			return nil
		})
		if err != nil {
			return failure(err, true)
		}
		return Result{Success: true, Message: "re-roll granted"}
	case SkipTurn:
		err := r.deps.Players.UpdatePlayer(ctx, ec.PlayerID, func(p *player.Player) error {
			p.SkipTurns++
			return nil
		})
		if err != nil {
			return failure(err, true)
		}
		return Result{Success: true, Message: "next turn skipped"}
	case EndTurn:
		if r.turns == nil {
			return Result{Message: "no turn controller bound"}
		}
		if err := r.turns.RequestEndTurn(ctx, ec.PlayerID); err != nil {
			return failure(err, false)
		}
		return Result{Success: true, Message: "end of turn requested"}
	}
	return Result{Fatal: true, Message: fmt.Sprintf("unknown turn action %q", e.Action)}
}

func (r *Resolver) movement(ctx context.Context, e Movement, ec Context) Result {
	if r.turns == nil {
		return Result{Message: "no turn controller bound"}
	}
	dest := e.Destination
	options := e.Options
	if dest == "" && len(options) == 0 {
		if r.deps.Movement == nil {
			return Result{Message: "no movement rules available"}
		}
		state := r.deps.Players.Snapshot()
		p, ok := state.Player(ec.PlayerID)
		if !ok {
			return failure(apperrors.New(apperrors.CodePlayerNotFound, "player not found"), true)
		}
		dests := r.deps.Movement.Resolve(p.Space, p.Visit)
		switch dests.Kind {
		case rules.MovementFixed:
			dest, _ = dests.Single()
		case rules.MovementDice:
			var rolled bool
			if dest, rolled = dests.ForRoll(state.Dice); !rolled {
				return Result{Message: "destination depends on a dice roll"}
			}
		case rules.MovementChoice:
			options = dests.Options
		default:
			return Result{Success: true, Message: "no movement from this space"}
		}
	}
	if dest == "" && len(options) == 1 {
		dest = options[0]
	}
	if dest == "" {
		if r.deps.Chooser == nil {
			return Result{Message: "no chooser available"}
		}
		opts := make([]choice.Option, len(options))
		for i, o := range options {
			opts[i] = choice.Option{ID: o, Label: o}
		}
		_, selected, err := r.deps.Chooser.Ask(ctx, choice.Request{
			PlayerID: ec.PlayerID,
			Category: choice.CategoryMovement,
			Prompt:   "Choose your destination",
			Options:  opts,
		})
		if err != nil {
			return failure(err, false)
		}
		if !slices.Contains(options, selected) {
			return Result{Fatal: true, Message: MsgInvalidChoice, Selected: selected}
		}
		dest = selected
	}
	if err := r.turns.SelectDestination(ctx, ec.PlayerID, dest); err != nil {
		return failure(err, false)
	}
	return Result{Success: true, Selected: dest, Message: "destination " + dest}
}

func (r *Resolver) log(ctx context.Context, e Log, ec Context) Result {
	kind := journal.KindLog
	event := r.logger.Info()
	if e.Warning {
		kind = journal.KindWarning
		event = r.logger.Warn()
	}
	event.Str("player_id", ec.PlayerID).Str("source", ec.Source).Msg(e.Message)
	if r.deps.Journal != nil && e.Message != "" {
		if _, err := r.deps.Journal.Append(ctx, journal.Entry{
			PlayerID: ec.PlayerID,
			Kind:     kind,
			Source:   ec.Source,
			Message:  e.Message,
		}); err != nil {
			r.logger.Warn().Err(err).Msg("journal append failed")
		}
	}
	return Result{Success: true, Message: e.Message}
}

func failure(err error, fatal bool) Result {
	return Result{Fatal: fatal, Message: err.Error()}
}
