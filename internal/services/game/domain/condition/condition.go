// Package condition evaluates the named predicates attached to rule rows.
//
// Names are parsed once at the data boundary into a closed set of kinds;
// evaluation is pure and always reads the player's current values.
package condition

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/dice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// Kind is the closed set of condition families.
type Kind int

const (
	Unknown Kind = iota
	Always
	ScopeAtMost
	ScopeAbove
	DiceExact
	LoanAtMost
	LoanBetween
	LoanAbove
	ToLeft
	ToRight
)

var kindNames = map[Kind]string{
	Unknown:     "unknown",
	Always:      "always",
	ScopeAtMost: "scope_le",
	ScopeAbove:  "scope_gt",
	DiceExact:   "dice_roll",
	LoanAtMost:  "loan_up_to",
	LoanBetween: "loan_between",
	LoanAbove:   "loan_above",
	ToLeft:      "to_left",
	ToRight:     "to_right",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Condition is a parsed condition name.
type Condition struct {
	Kind Kind
	Raw  string
	// Low is the threshold, band floor or dice face.
	Low int
	// High is the band ceiling for LoanBetween.
	High int
}

// IsDice reports whether the condition depends on a dice roll.
func (c Condition) IsDice() bool { return c.Kind == DiceExact }

// IsDirectional reports whether the condition selects a neighbouring player.
func (c Condition) IsDirectional() bool { return c.Kind == ToLeft || c.Kind == ToRight }

// Parse translates a raw condition name. Blank names are Always; names that
// match no family are Unknown.
func Parse(name string) Condition {
	raw := strings.TrimSpace(name)
	lower := strings.ToLower(raw)
	c := Condition{Raw: raw}

	switch lower {
	case "", "always", "none", "n/a":
		c.Kind = Always
		return c
	case "to_left", "left", "player_left":
		c.Kind = ToLeft
		return c
	case "to_right", "right", "player_right":
		c.Kind = ToRight
		return c
	}

	switch {
	case strings.HasPrefix(lower, "scope_le_"):
		return withAmount(c, ScopeAtMost, strings.TrimPrefix(lower, "scope_le_"))
	case strings.HasPrefix(lower, "scope_gt_"):
		return withAmount(c, ScopeAbove, strings.TrimPrefix(lower, "scope_gt_"))
	case strings.HasPrefix(lower, "dice_roll_"):
		face, err := strconv.Atoi(strings.TrimPrefix(lower, "dice_roll_"))
		if err != nil || !dice.Valid(face) {
			return c
		}
		c.Kind = DiceExact
		c.Low = face
		return c
	case strings.HasPrefix(lower, "loan_up_to_"):
		return withAmount(c, LoanAtMost, strings.TrimPrefix(lower, "loan_up_to_"))
	case strings.HasPrefix(lower, "loan_above_"):
		return withAmount(c, LoanAbove, strings.TrimPrefix(lower, "loan_above_"))
	case strings.HasPrefix(lower, "loan_"):
		low, high, ok := strings.Cut(strings.TrimPrefix(lower, "loan_"), "_to_")
		if !ok {
			return c
		}
		lo, errLo := money.Parse(low)
		hi, errHi := money.Parse(high)
		if errLo != nil || errHi != nil || lo > hi {
			return c
		}
		c.Kind = LoanBetween
		c.Low, c.High = lo, hi
		return c
	}
	return c
}

func withAmount(c Condition, kind Kind, raw string) Condition {
	amount, err := money.Parse(raw)
	if err != nil {
		return c
	}
	c.Kind = kind
	c.Low = amount
	return c
}

// Evaluator evaluates conditions. It never caches results.
type Evaluator struct {
	logger zerolog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used for unknown-condition warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// NewEvaluator creates an evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Evaluate parses name and evaluates it. diceValue 0 means no roll yet.
func (e *Evaluator) Evaluate(name string, p player.Player, diceValue int) bool {
	return e.EvaluateCondition(Parse(name), p, diceValue)
}

// EvaluateCondition evaluates an already parsed condition. Unknown
// conditions hold, with a warning.
func (e *Evaluator) EvaluateCondition(c Condition, p player.Player, diceValue int) bool {
	switch c.Kind {
	case Always, ToLeft, ToRight:
		return true
	case ScopeAtMost:
		return p.ProjectScope <= c.Low
	case ScopeAbove:
		return p.ProjectScope > c.Low
	case DiceExact:
		return diceValue != 0 && diceValue == c.Low
	case LoanAtMost:
		return p.LoanTotal() <= c.Low
	case LoanBetween:
		total := p.LoanTotal()
		return total >= c.Low && total <= c.High
	case LoanAbove:
		return p.LoanTotal() > c.Low
	default:
		e.logger.Warn().Str("condition", c.Raw).Str("player_id", p.ID).Msg("unknown condition, treating as always")
		return true
	}
}

// Target returns the player id a directional condition points at, given
// the turn order and the acting player's index. Order wraps at both ends;
// a lone player has no neighbour.
func Target(kind Kind, order []string, current int) (string, bool) {
	n := len(order)
	if n < 2 || current < 0 || current >= n {
		return "", false
	}
	switch kind {
	case ToLeft:
		return order[(current+1)%n], true
	case ToRight:
		return order[(current-1+n)%n], true
	}
	return "", false
}
