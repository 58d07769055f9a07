// Package game parses game command flags and runs an autoplay simulation.
package game

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	entrypoint "github.com/tomaszsb/code2027/internal/platform/cmd"
	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/platform/logging"
	"github.com/tomaszsb/code2027/internal/services/game/app"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
)

// Config holds game command configuration.
type Config struct {
	DataDir         string `env:"DATA_DIR"`
	Players         string `env:"PLAYERS"                 envDefault:"Alice,Bob"`
	StartingMoney   int    `env:"STARTING_MONEY"`
	TryAgainPenalty int    `env:"TRY_AGAIN_PENALTY_DAYS" envDefault:"1"`
	Seed            int64  `env:"SEED"`
	AuditDB         string `env:"AUDIT_DB"`
	SetupFile       string `env:"SETUP_FILE"`
	MaxTurns        int    `env:"MAX_TURNS"               envDefault:"500"`
	LogLevel        string `env:"LOG_LEVEL"               envDefault:"warn"`
	LogFormat       string `env:"LOG_FORMAT"              envDefault:"console"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "directory of board CSV tables (empty uses the embedded board)")
	fs.StringVar(&cfg.Players, "players", cfg.Players, "comma-separated player names")
	fs.IntVar(&cfg.StartingMoney, "money", cfg.StartingMoney, "starting money per player")
	fs.IntVar(&cfg.TryAgainPenalty, "try-again-penalty", cfg.TryAgainPenalty, "days added when a player tries again")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed (0 picks one)")
	fs.StringVar(&cfg.AuditDB, "audit-db", cfg.AuditDB, "SQLite file for the audit trail")
	fs.StringVar(&cfg.SetupFile, "setup", cfg.SetupFile, "YAML game setup file")
	fs.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, "stop after this many turns (0 means no limit)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Setup builds the game setup from the setup file, filling anything the
// file leaves out from cfg.
func (cfg Config) Setup() (app.Setup, error) {
	var setup app.Setup
	if strings.TrimSpace(cfg.SetupFile) != "" {
		loaded, err := app.LoadSetup(cfg.SetupFile)
		if err != nil {
			return app.Setup{}, err
		}
		setup = loaded
	}
	if len(setup.Players) == 0 {
		setup.Players = app.SetupFromNames(strings.Split(cfg.Players, ","), 0).Players
	}
	if setup.StartingMoney == 0 {
		setup.StartingMoney = cfg.StartingMoney
	}
	if setup.Seed == 0 {
		setup.Seed = cfg.Seed
	}
	if setup.TryAgainPenaltyDays == nil {
		penalty := cfg.TryAgainPenalty
		setup.TryAgainPenaltyDays = &penalty
	}
	if setup.MaxTurns == 0 {
		setup.MaxTurns = cfg.MaxTurns
	}
	if err := setup.Validate(); err != nil {
		return app.Setup{}, err
	}
	return setup, nil
}

// Run plays one game with bots and writes turn summaries to out.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: logging.Format(cfg.LogFormat), Output: errOut})
	if err != nil {
		return err
	}
	logger = logging.Service(logger, entrypoint.ServiceGame)
	setup, err := cfg.Setup()
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceGame, entrypoint.RunOptions{Logger: &logger}, func(ctx context.Context) error {
		return play(ctx, cfg, setup, logger, out)
	})
}

func play(ctx context.Context, cfg Config, setup app.Setup, logger zerolog.Logger, out io.Writer) error {
	g, err := app.New(ctx, app.Config{
		DataDir:             cfg.DataDir,
		AuditDB:             cfg.AuditDB,
		Seed:                setup.Seed,
		TryAgainPenaltyDays: setup.TryAgainPenaltyDays,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	defer g.Close()
	stop := app.AnswerFirstOption(g.Choices)
	defer stop()

	start, err := g.Start(ctx, setup)
	if err != nil {
		return err
	}
	names := make(map[string]string)
	for _, p := range g.Engine.State().Players {
		names[p.ID] = p.Name
	}
	fmt.Fprintf(out, "game %s seed %d: %d players, %s starts on %s\n", g.ID, g.Seed, len(names), names[start.PlayerID], start.Space)

	final, err := app.Autoplay(ctx, g, setup.MaxTurns, func(s app.TurnSummary) {
		writeSummary(out, names, s)
	})
	if errors.Is(err, app.ErrTurnLimit) {
		fmt.Fprintf(out, "no winner after %d turns\n", setup.MaxTurns)
		writeStandings(out, final)
		return nil
	}
	if reportRejection(out, logger, final.Turn, err) {
		writeStandings(out, final)
		return fmt.Errorf("autoplay: %w", err)
	}
	if err != nil {
		return err
	}
	writeStandings(out, final)
	if final.WinnerID != "" {
		fmt.Fprintf(out, "%s wins on turn %d\n", names[final.WinnerID], final.Turn)
	}
	return nil
}

// reportRejection logs and prints a domain rejection. It reports false for
// errors that carry no domain code.
func reportRejection(out io.Writer, logger zerolog.Logger, turn int, err error) bool {
	rej, ok := apperrors.RejectionOf(err)
	if !ok {
		return false
	}
	fields := make(map[string]any, len(rej.Metadata))
	for key, value := range rej.Metadata {
		fields[key] = value
	}
	logger.Error().
		Str("code", string(rej.Code)).
		Str("category", string(rej.Category)).
		Str("grpc_code", rej.Status.String()).
		Fields(fields).
		Int("turn", turn).
		Msg(rej.Message)
	fmt.Fprintf(out, "turn %d rejected: %s\n", turn, rej)
	return true
}

func writeSummary(out io.Writer, names map[string]string, s app.TurnSummary) {
	line := fmt.Sprintf("turn %3d  %-10s %s -> %s", s.Turn, names[s.PlayerID], s.From, s.To)
	if s.Roll > 0 {
		line += fmt.Sprintf("  roll %d", s.Roll)
	}
	line += fmt.Sprintf("  %s  %d days", money.Format(s.Money), s.TimeSpent)
	if len(s.Played) > 0 {
		line += "  played " + strings.Join(s.Played, ",")
	}
	fmt.Fprintln(out, line)
}

func writeStandings(out io.Writer, st gamestate.State) {
	for _, p := range st.Players {
		fmt.Fprintf(out, "  %-10s %-24s %s  %d days  %d cards\n", p.Name, p.Space, money.Format(p.Money), p.TimeSpent, p.Hand.Total())
	}
}
