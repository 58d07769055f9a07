package effect

import (
	"fmt"

	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// FormulaKind selects how an amount is derived.
type FormulaKind int

const (
	// FormulaFixed is a constant amount.
	FormulaFixed FormulaKind = iota
	// FormulaPercentOfMoney is a percentage of the player's money at execution.
	FormulaPercentOfMoney
	// FormulaPerScope is Value for every Per units of project scope.
	FormulaPerScope
)

// Formula is a signed amount, possibly derived from live player values.
type Formula struct {
	Kind    FormulaKind
	Value   int
	Percent float64
	Per     int
}

// Fixed returns a constant formula.
func Fixed(amount int) Formula {
	return Formula{Kind: FormulaFixed, Value: amount}
}

// PercentOfMoney returns pct percent of current money; negative pct debits.
func PercentOfMoney(pct float64) Formula {
	return Formula{Kind: FormulaPercentOfMoney, Percent: pct}
}

// PerScope returns value for every per units of current project scope.
func PerScope(value, per int) Formula {
	return Formula{Kind: FormulaPerScope, Value: value, Per: per}
}

// Evaluate computes the signed amount against p as it is now.
func (f Formula) Evaluate(p player.Player) int {
	switch f.Kind {
	case FormulaPercentOfMoney:
		return money.Percent(p.Money, f.Percent)
	case FormulaPerScope:
		if f.Per <= 0 {
			return 0
		}
		return f.Value * (p.ProjectScope / f.Per)
	default:
		return f.Value
	}
}

// Negate flips the sign of the formula.
func (f Formula) Negate() Formula {
	f.Value = -f.Value
	f.Percent = -f.Percent
	return f
}

func (f Formula) String() string {
	switch f.Kind {
	case FormulaPercentOfMoney:
		return fmt.Sprintf("%+g%% of money", f.Percent)
	case FormulaPerScope:
		return fmt.Sprintf("%+d per %s of scope", f.Value, money.Format(f.Per))
	default:
		return fmt.Sprintf("%+d", f.Value)
	}
}
