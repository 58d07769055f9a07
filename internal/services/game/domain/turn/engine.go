// Package turn drives the turn state machine: arrival effects, snapshots,
// manual actions, dice, leaving effects, movement and the win check.
package turn

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	platformotel "github.com/tomaszsb/code2027/internal/platform/otel"
	"github.com/tomaszsb/code2027/internal/services/game/domain/cards"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/effect"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/movement"
	"github.com/tomaszsb/code2027/internal/services/game/domain/negotiation"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
	"github.com/tomaszsb/code2027/internal/services/game/domain/snapshot"
)

//go:generate go tool mockgen -destination=turnmock/turnmock.go -package=turnmock . Roller,WinChecker

// DefaultTryAgainPenalty is the time cost, in days, of reverting a turn.
const DefaultTryAgainPenalty = 1

// TracerName names the tracer used for turn spans.
const TracerName = "github.com/tomaszsb/code2027/turn"

var (
	// ErrStoreRequired indicates a missing game state store.
	ErrStoreRequired = errors.New("game state store is required")
	// ErrRulesRequired indicates a missing rule repository.
	ErrRulesRequired = errors.New("rule repository is required")
	// ErrResolverRequired indicates a missing effect resolver.
	ErrResolverRequired = errors.New("effect resolver is required")
	// ErrCollaboratorRequired indicates another missing collaborator.
	ErrCollaboratorRequired = errors.New("turn collaborator is required")
)

// Roller rolls the six-sided die.
type Roller interface {
	RollD6() int
}

// WinChecker decides whether the game is won after a completed turn.
type WinChecker interface {
	Check(state gamestate.State) (string, bool)
}

// Journal records turn transitions.
type Journal interface {
	Append(ctx context.Context, entry journal.Entry) (journal.Entry, error)
}

// Deps are the engine collaborators. Negotiations and Journal are optional.
type Deps struct {
	Store        *gamestate.Store
	Rules        rules.Repository
	Ledger       *ledger.Ledger
	Inventory    *cards.Inventory
	Resolver     *effect.Resolver
	Conditions   *condition.Evaluator
	Movement     *movement.Resolver
	Choices      *choice.Broker
	Snapshots    *snapshot.Manager
	Negotiations *negotiation.Manager
	Journal      Journal
	Dice         Roller
	Win          WinChecker
}

// manualAction is a manual rule row offered this turn.
type manualAction struct {
	key string
	row rules.EffectRow
}

// Engine runs turns. Every player-facing method takes the action lock and
// fails with ACTION_IN_PROGRESS rather than waiting for it.
type Engine struct {
	deps    Deps
	logger  zerolog.Logger
	tracer  trace.Tracer
	penalty int

	// mu is the action lock. It is also held while arrival effects run.
	mu sync.Mutex
	// The fields below are only touched while mu is held.
	lastRoll     *rollRecord
	endRequested bool

	// manualMu guards manual so AvailableActions can read it while an
	// action holds mu.
	manualMu sync.RWMutex
	manual   []manualAction
}

// rollRecord brackets the player's state around the latest roll so a
// re-roll can take back that roll's effects and nothing else.
type rollRecord struct {
	before player.Player
	after  player.Player
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the tracer for turn spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithTryAgainPenalty sets the days added when a player tries again.
func WithTryAgainPenalty(days int) Option {
	return func(e *Engine) {
		if days >= 0 {
			e.penalty = days
		}
	}
}

// NewEngine validates deps and binds the engine as the resolver's turn
// controller.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, ErrStoreRequired
	case deps.Rules == nil:
		return nil, ErrRulesRequired
	case deps.Resolver == nil:
		return nil, ErrResolverRequired
	case deps.Ledger == nil, deps.Inventory == nil, deps.Conditions == nil, deps.Movement == nil,
		deps.Choices == nil, deps.Snapshots == nil, deps.Dice == nil, deps.Win == nil:
		return nil, ErrCollaboratorRequired
	}
	e := &Engine{
		deps:    deps,
		logger:  zerolog.Nop(),
		tracer:  platformotel.Tracer(TracerName),
		penalty: DefaultTryAgainPenalty,
	}
	for _, opt := range opts {
		opt(e)
	}
	deps.Resolver.SetTurnController(e)
	return e, nil
}

// State returns a copy of the game state.
func (e *Engine) State() gamestate.State {
	return e.deps.Store.Snapshot()
}

// Choices exposes the broker so callers can answer pending choices.
func (e *Engine) Choices() *choice.Broker {
	return e.deps.Choices
}

// Negotiations exposes the negotiation manager, nil when not configured.
func (e *Engine) Negotiations() *negotiation.Manager {
	return e.deps.Negotiations
}

// ResolveChoice answers a pending choice. It does not take the action lock
// because the action waiting on the choice holds it.
func (e *Engine) ResolveChoice(choiceID, optionID string) (choice.Choice, error) {
	return e.deps.Choices.Resolve(choiceID, optionID)
}

func (e *Engine) setManual(actions []manualAction) {
	e.manualMu.Lock()
	defer e.manualMu.Unlock()
	e.manual = actions
}

func (e *Engine) offered() []manualAction {
	e.manualMu.RLock()
	defer e.manualMu.RUnlock()
	return e.manual
}

// lock takes the action lock without waiting.
func (e *Engine) lock() (func(), error) {
	if !e.mu.TryLock() {
		return nil, apperrors.New(apperrors.CodeActionInProgress, "another action is in progress")
	}
	return e.mu.Unlock, nil
}

// check rejects playerID unless the game is active, it is their turn and the
// turn is in one of phases.
func check(st gamestate.State, playerID string, phases ...gamestate.Phase) error {
	if st.Status != gamestate.StatusActive {
		return apperrors.WithMetadata(apperrors.CodeGameNotActive, "game is not in active play",
			map[string]string{"Status": string(st.Status)})
	}
	current, ok := st.Current()
	if !ok || current.ID != playerID {
		return apperrors.WithMetadata(apperrors.CodeNotCurrentPlayer, "it is not this player's turn",
			map[string]string{"PlayerID": playerID, "CurrentPlayerID": current.ID})
	}
	if len(phases) == 0 {
		return nil
	}
	for _, phase := range phases {
		if st.Phase == phase {
			return nil
		}
	}
	return apperrors.WithMetadata(apperrors.CodeTurnPhaseDisallowsOp, "action not allowed in this phase",
		map[string]string{"Phase": string(st.Phase)})
}

func (e *Engine) journal(ctx context.Context, st gamestate.State, playerID string, kind journal.Kind, source, message string) {
	if e.deps.Journal == nil {
		return
	}
	if _, err := e.deps.Journal.Append(ctx, journal.Entry{
		Turn:     st.Turn,
		PlayerID: playerID,
		Kind:     kind,
		Source:   source,
		Message:  message,
	}); err != nil {
		e.logger.Warn().Err(err).Str("player_id", playerID).Msg("journal append")
	}
}

func (e *Engine) setPhase(ctx context.Context, phase gamestate.Phase) error {
	return e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		st.Phase = phase
		return nil
	})
}

// RequestEndTurn is called by effects asking to end the current turn. The
// request is honoured once the running action finishes.
func (e *Engine) RequestEndTurn(_ context.Context, playerID string) error {
	current, ok := e.deps.Store.Snapshot().Current()
	if !ok || current.ID != playerID {
		return apperrors.New(apperrors.CodeNotCurrentPlayer, "only the current player's turn can be ended")
	}
	e.endRequested = true
	return nil
}

// SelectDestination is called by movement effects to fix where the current
// player goes at END_TURN.
func (e *Engine) SelectDestination(ctx context.Context, playerID, destination string) error {
	return e.deps.Store.Update(ctx, func(st *gamestate.State) error {
		current, ok := st.Current()
		if !ok || current.ID != playerID {
			return apperrors.New(apperrors.CodeNotCurrentPlayer, "only the current player can move")
		}
		if _, known := e.deps.Rules.Space(destination); !known {
			return apperrors.WithMetadata(apperrors.CodeInvalidDestination, "unknown destination",
				map[string]string{"Destination": destination})
		}
		st.Destination = destination
		return nil
	})
}
