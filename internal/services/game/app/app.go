package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomaszsb/code2027/internal/platform/id"
	"github.com/tomaszsb/code2027/internal/services/game/content/csvdata"
	"github.com/tomaszsb/code2027/internal/services/game/domain/cards"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/dice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/random"
	"github.com/tomaszsb/code2027/internal/services/game/domain/effect"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/movement"
	"github.com/tomaszsb/code2027/internal/services/game/domain/negotiation"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
	"github.com/tomaszsb/code2027/internal/services/game/domain/snapshot"
	"github.com/tomaszsb/code2027/internal/services/game/domain/turn"
	"github.com/tomaszsb/code2027/internal/services/game/domain/wincondition"
	"github.com/tomaszsb/code2027/internal/services/game/storage/sqlite"
)

// Config selects rule data, randomness and persistence for one game.
type Config struct {
	// DataDir holds the CSV tables; empty uses the embedded board.
	DataDir string
	// AuditDB is a SQLite file for the audit trail; empty keeps it in memory.
	AuditDB string
	// GameID labels audit rows; empty generates one.
	GameID string
	// Seed drives deck shuffles and dice; zero draws a crypto seed.
	Seed int64
	// TryAgainPenaltyDays overrides turn.DefaultTryAgainPenalty when non-nil.
	TryAgainPenaltyDays *int
	// Dice replaces the seeded roller, e.g. with scripted rolls.
	Dice   dice.Roller
	Logger zerolog.Logger
}

// Game is a fully wired engine and the collaborators callers may inspect.
type Game struct {
	ID        string
	Seed      int64
	Rules     *rules.Catalog
	Store     *gamestate.Store
	Ledger    *ledger.Ledger
	Inventory *cards.Inventory
	Choices   *choice.Broker
	Journal   *journal.Memory
	Engine    *turn.Engine

	audit  *sqlite.Store
	logger zerolog.Logger
}

// New builds every collaborator and the turn engine. The game is in setup
// until Start is called.
func New(ctx context.Context, cfg Config) (*Game, error) {
	logger := cfg.Logger
	catalog, err := LoadRules(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	seed, err := random.Resolve(cfg.Seed, nil)
	if err != nil {
		return nil, err
	}
	gameID := strings.TrimSpace(cfg.GameID)
	if gameID == "" {
		if gameID, err = id.NewID(); err != nil {
			return nil, err
		}
	}
	g := &Game{ID: gameID, Seed: seed, Rules: catalog, logger: logger}

	var (
		journalOpts = []journal.Option{journal.WithLogger(logger)}
		ledgerOpts  = []ledger.Option{ledger.WithLogger(logger)}
	)
	if cfg.AuditDB != "" {
		g.audit, err = sqlite.Open(ctx, cfg.AuditDB, gameID, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		journalOpts = append(journalOpts, journal.WithSink(g.audit))
		ledgerOpts = append(ledgerOpts, ledger.WithHistorySink(g.audit))
	}
	fail := func(err error) (*Game, error) {
		_ = g.Close()
		return nil, err
	}

	g.Store = gamestate.NewStore(gamestate.State{Status: gamestate.StatusSetup})
	g.Journal = journal.NewMemory(journalOpts...)
	if g.Ledger, err = ledger.New(g.Store, ledgerOpts...); err != nil {
		return fail(err)
	}
	if g.Inventory, err = cards.New(g.Store, catalog, seed, cards.WithFunding(g.Ledger), cards.WithLogger(logger)); err != nil {
		return fail(err)
	}
	mv, err := movement.NewResolver(catalog)
	if err != nil {
		return fail(err)
	}
	g.Choices = choice.NewBroker(choice.WithLogger(logger))
	resolver, err := effect.NewResolver(effect.Deps{
		Players:   g.Store,
		Ledger:    g.Ledger,
		Inventory: g.Inventory,
		Chooser:   g.Choices,
		Movement:  mv,
		Journal:   g.Journal,
	}, effect.WithLogger(logger))
	if err != nil {
		return fail(err)
	}
	negotiations, err := negotiation.NewManager(g.Store, g.Inventory, g.Ledger, negotiation.WithLogger(logger))
	if err != nil {
		return fail(err)
	}

	roller := cfg.Dice
	if roller == nil {
		roller = dice.NewSeeded(seed)
	}
	opts := []turn.Option{turn.WithLogger(logger)}
	if cfg.TryAgainPenaltyDays != nil {
		opts = append(opts, turn.WithTryAgainPenalty(*cfg.TryAgainPenaltyDays))
	}
	g.Engine, err = turn.NewEngine(turn.Deps{
		Store:        g.Store,
		Rules:        catalog,
		Ledger:       g.Ledger,
		Inventory:    g.Inventory,
		Resolver:     resolver,
		Conditions:   condition.NewEvaluator(condition.WithLogger(logger)),
		Movement:     mv,
		Choices:      g.Choices,
		Snapshots:    snapshot.NewManager(),
		Negotiations: negotiations,
		Journal:      g.Journal,
		Dice:         roller,
		Win:          wincondition.New(catalog),
	}, opts...)
	if err != nil {
		return fail(err)
	}
	logger.Info().Str("game_id", gameID).Int64("seed", seed).Bool("audit", g.audit != nil).Msg("game assembled")
	return g, nil
}

// LoadRules reads CSV tables from dir, or the embedded board when dir is
// empty.
func LoadRules(dir string, logger zerolog.Logger) (*rules.Catalog, error) {
	if strings.TrimSpace(dir) == "" {
		catalog, err := csvdata.Default(csvdata.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("load embedded board: %w", err)
		}
		return catalog, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data dir %s is not a directory", dir)
	}
	catalog, err := csvdata.Load(os.DirFS(dir), csvdata.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load board from %s: %w", dir, err)
	}
	return catalog, nil
}

// Start seats the setup's players and starts the first turn.
func (g *Game) Start(ctx context.Context, setup Setup) (turn.Start, error) {
	if err := setup.Validate(); err != nil {
		return turn.Start{}, err
	}
	return g.Engine.StartGame(ctx, setup.Roster())
}

// Audit returns the SQLite audit store, or nil when auditing is in memory.
func (g *Game) Audit() *sqlite.Store {
	return g.audit
}

// Close releases the audit store.
func (g *Game) Close() error {
	if g == nil {
		return nil
	}
	return g.audit.Close()
}

// AnswerFirstOption resolves every new choice with its first option. It is
// how bots play; the returned func stops answering.
func AnswerFirstOption(broker *choice.Broker) func() {
	return broker.OnCreate(func(c choice.Choice) {
		if len(c.Options) == 0 {
			return
		}
		// The choice may already be cancelled; nothing to answer then.
		_, _ = broker.Resolve(c.ID, c.Options[0].ID)
	})
}
