package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomaszsb/code2027/internal/platform/timeouts"
	"github.com/tomaszsb/code2027/internal/services/game/app"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/dice"
)

// Config controls scenario execution.
type Config struct {
	// DataDir holds the board CSV tables; empty uses the embedded board.
	DataDir string
	// Seed drives shuffles and unscripted rolls unless a scenario sets one.
	Seed       int64
	Timeout    time.Duration
	Assertions AssertionMode
	Verbose    bool
	Logger     zerolog.Logger
}

// DefaultConfig returns default runner configuration.
func DefaultConfig() Config {
	return Config{
		Seed:       1,
		Timeout:    timeouts.ScenarioStep,
		Assertions: AssertionStrict,
		Logger:     zerolog.Nop(),
	}
}

// Runner executes Lua scenarios against an in-process game.
type Runner struct {
	assertions *Assertions
	logger     zerolog.Logger
	verbose    bool
	timeout    time.Duration
	dataDir    string
	seed       int64
}

// NewRunner prepares a scenario runner.
func NewRunner(cfg Config) *Runner {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = timeouts.ScenarioStep
	}
	return &Runner{
		assertions: &Assertions{Mode: cfg.Assertions, Logger: cfg.Logger},
		logger:     cfg.Logger,
		verbose:    cfg.Verbose,
		timeout:    timeout,
		dataDir:    cfg.DataDir,
		seed:       cfg.Seed,
	}
}

// Failures returns how many expectations were logged instead of failing the
// run. It stays zero in strict mode.
func (r *Runner) Failures() int {
	return r.assertions.Failures
}

// RunFile loads and executes a scenario file.
func RunFile(ctx context.Context, cfg Config, path string) error {
	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		return err
	}
	return NewRunner(cfg).RunScenario(ctx, scenario)
}

// RunScenario executes the scenario steps against a fresh game.
func (r *Runner) RunScenario(ctx context.Context, scenario *Scenario) error {
	if scenario == nil {
		return errors.New("scenario is required")
	}
	r.logf("scenario start: %s (%d steps)", scenario.Name, len(scenario.Steps))
	state := &scenarioState{players: map[string]string{}}
	defer state.close()

	for index, step := range scenario.Steps {
		stepNumber := index + 1
		r.logf("step %d/%d start: %s", stepNumber, len(scenario.Steps), step.Kind)
		stepStart := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.runStep(stepCtx, state, step)
		cancel()
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", stepNumber, step.Kind, err)
		}
		r.logf("step %d/%d done: %s (%s)", stepNumber, len(scenario.Steps), step.Kind, time.Since(stepStart))
	}
	r.logf("scenario done: %s", scenario.Name)
	return nil
}

func (r *Runner) logf(format string, args ...any) {
	if !r.verbose {
		return
	}
	r.logger.Info().Msgf(format, args...)
}

type scenarioState struct {
	game    *app.Game
	dice    *scriptedDice
	players map[string]string
	// answers are option ids or labels for the next choices, oldest first.
	answers       []string
	stopAnswering func()
	// negotiation is the id of the latest negotiation the scenario opened.
	negotiation string
}

func (s *scenarioState) close() {
	if s.stopAnswering != nil {
		s.stopAnswering()
	}
	if s.game != nil {
		_ = s.game.Close()
	}
}

// scriptedDice returns queued rolls first and seeded rolls afterwards.
type scriptedDice struct {
	mu       sync.Mutex
	queued   []int
	fallback dice.Roller
}

func newScriptedDice(seed int64) *scriptedDice {
	return &scriptedDice{fallback: dice.NewSeeded(seed)}
}

func (d *scriptedDice) push(roll int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = append(d.queued, dice.Clamp(roll))
}

// drain drops rolls a rejected command never consumed.
func (d *scriptedDice) drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = nil
}

func (d *scriptedDice) RollD6() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queued) == 0 {
		return d.fallback.RollD6()
	}
	roll := d.queued[0]
	d.queued = d.queued[1:]
	return roll
}
