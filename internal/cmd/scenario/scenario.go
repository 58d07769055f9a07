// Package scenario parses scenario command flags and runs Lua scenarios.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	entrypoint "github.com/tomaszsb/code2027/internal/platform/cmd"
	"github.com/tomaszsb/code2027/internal/platform/logging"
	"github.com/tomaszsb/code2027/internal/tools/scenario"
)

// Config holds scenario command configuration.
type Config struct {
	Scenario   string        `env:"SCENARIO_FILE"`
	DataDir    string        `env:"DATA_DIR"`
	Seed       int64         `env:"SCENARIO_SEED"    envDefault:"1"`
	Assertions bool          `env:"SCENARIO_ASSERT"  envDefault:"true"`
	Verbose    bool          `env:"SCENARIO_VERBOSE"`
	Timeout    time.Duration `env:"SCENARIO_TIMEOUT" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to scenario lua file")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "directory of board CSV tables (empty uses the embedded board)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed for shuffles and unscripted rolls")
	fs.BoolVar(&cfg.Assertions, "assert", cfg.Assertions, "enable assertions (disable to log expectations)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout per step")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the scenario command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Scenario == "" {
		return errors.New("scenario path is required")
	}

	mode := scenario.AssertionStrict
	if !cfg.Assertions {
		mode = scenario.AssertionLogOnly
	}
	logger, err := logging.New(logging.Config{Level: "info", Output: errOut})
	if err != nil {
		return err
	}
	logger = logging.Service(logger, entrypoint.ServiceScenario)

	loaded, err := scenario.LoadScenarioFromFile(cfg.Scenario)
	if err != nil {
		return err
	}
	runner := scenario.NewRunner(scenario.Config{
		DataDir:    cfg.DataDir,
		Seed:       cfg.Seed,
		Timeout:    cfg.Timeout,
		Assertions: mode,
		Verbose:    cfg.Verbose,
		Logger:     logger,
	})
	err = entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceScenario, entrypoint.RunOptions{Logger: &logger}, func(ctx context.Context) error {
		return runner.RunScenario(ctx, loaded)
	})
	if err != nil {
		return err
	}
	if failures := runner.Failures(); failures > 0 {
		fmt.Fprintf(out, "%s: %d steps, %d expectations failed\n", loaded.Name, len(loaded.Steps), failures)
		return nil
	}
	fmt.Fprintf(out, "%s: %d steps ok\n", loaded.Name, len(loaded.Steps))
	return nil
}
