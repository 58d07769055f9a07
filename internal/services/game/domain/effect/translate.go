package effect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

const (
	branchSeparator = "||"
	effectSeparator = ";"
)

var firstNumber = regexp.MustCompile(`-?\d+`)

// Translator turns loosely typed rule rows into effects. Rows it cannot
// understand become Log effects and a warning, never an error.
type Translator struct {
	logger zerolog.Logger
}

// NewTranslator creates a translator logging data problems to logger.
func NewTranslator(logger zerolog.Logger) *Translator {
	return &Translator{logger: logger}
}

// FromRows translates rows in order.
func (t *Translator) FromRows(rows []rules.EffectRow) []Effect {
	var out []Effect
	for _, row := range rows {
		out = append(out, t.FromRow(row)...)
	}
	return out
}

// FromRow translates one space effect row.
func (t *Translator) FromRow(row rules.EffectRow) []Effect {
	category := strings.ToLower(strings.TrimSpace(row.Category))
	action := strings.ToLower(strings.TrimSpace(row.Action))
	value := strings.TrimSpace(row.Value)

	var (
		eff Effect
		err error
	)
	switch category {
	case "money":
		eff, err = moneyEffect(action, value, row.Description)
	case "fee", "fees":
		eff, err = feeEffect(value, row.Description)
	case "time":
		eff, err = timeEffect(action, value, row.Description)
	case "cards", "card":
		eff, err = cardEffect(action, value, row)
	case "loan":
		eff, err = loanEffect(value)
	case "turn":
		eff, err = turnEffect(action)
	case "movement", "move":
		eff = movementEffect(action, value)
	case "choice":
		eff, err = t.choiceEffect(row)
	case "log", "info", "message":
		msg := row.Description
		if msg == "" {
			msg = value
		}
		eff = Log{Message: msg}
	default:
		err = fmt.Errorf("unknown effect category %q", row.Category)
	}
	if err != nil {
		return []Effect{t.malformed(row.Space, row.Category, row.Action, value, err)}
	}
	return []Effect{eff}
}

// FromDiceRow translates the outcome of roll in a dice effect row. "No
// change" and blank outcomes produce nothing.
func (t *Translator) FromDiceRow(row rules.DiceEffectRow, roll int) []Effect {
	outcome := row.Outcome(roll)
	switch strings.ToLower(outcome) {
	case "", "-", "n/a", "none", "no change", "no effect":
		return nil
	}
	category := strings.ToLower(strings.TrimSpace(row.Category))
	reason := fmt.Sprintf("dice %d", roll)

	var (
		eff Effect
		err error
	)
	cardType, isCards := player.ParseCardType(row.CardType)
	if !isCards && strings.HasSuffix(category, "cards") {
		cardType, isCards = player.ParseCardType(category)
	}
	switch {
	case isCards:
		eff, err = diceCardEffect(cardType, outcome, reason)
	case category == "money":
		if pct, ok := money.ParsePercent(outcome); ok {
			eff = ResourceChange{Resource: ledger.Money, Amount: PercentOfMoney(-pct), Reason: reason}
			break
		}
		var amount int
		amount, err = money.Parse(outcome)
		eff = ResourceChange{Resource: ledger.Money, Amount: Fixed(amount), Reason: reason}
	case strings.Contains(category, "fee"):
		eff, err = feeEffect(outcome, reason)
	case category == "time":
		var days int
		days, err = money.ParseDays(outcome)
		eff = ResourceChange{Resource: ledger.Time, Amount: Fixed(days), Reason: reason}
	default:
		err = fmt.Errorf("unknown dice category %q", row.Category)
	}
	if err != nil {
		return []Effect{t.malformed(row.Space, row.Category, strconv.Itoa(roll), outcome, err)}
	}
	return []Effect{eff}
}

// FromCard translates a card definition into the effects of playing it.
func (t *Translator) FromCard(def rules.CardDefinition) []Effect {
	var out []Effect
	reason := "card " + def.ID
	if def.Type != player.CardWork && def.Cost > 0 {
		out = append(out, ResourceChange{Resource: ledger.Money, Amount: Fixed(-def.Cost), Reason: reason + " cost"})
	}
	if def.MoneyEffect != 0 {
		out = append(out, ResourceChange{Resource: ledger.Money, Amount: Fixed(def.MoneyEffect), Reason: reason})
	}
	if def.InvestmentAmount > 0 {
		out = append(out, ResourceChange{Resource: ledger.Money, Amount: Fixed(def.InvestmentAmount), Reason: reason + " investment"})
	}
	if def.LoanAmount > 0 {
		out = append(out, Loan{Amount: def.LoanAmount, RatePercent: def.LoanRate})
	}
	if def.TimeEffect != 0 {
		out = append(out, ResourceChange{Resource: ledger.Time, Amount: Fixed(def.TimeEffect), Reason: reason})
	}
	if def.DrawCards != "" {
		if cardType, count, err := parseCardCount(def.DrawCards); err == nil {
			out = append(out, CardDraw{CardType: cardType, Count: count, Reason: reason})
		} else {
			out = append(out, t.malformed(def.ID, "draw_cards", "", def.DrawCards, err))
		}
	}
	if def.DiscardCards != "" {
		if cardType, count, err := parseCardCount(def.DiscardCards); err == nil {
			out = append(out, CardDiscard{CardType: cardType, Count: count, Reason: reason})
		} else {
			out = append(out, t.malformed(def.ID, "discard_cards", "", def.DiscardCards, err))
		}
	}
	if def.TurnEffect != "" {
		if eff, err := turnEffect(def.TurnEffect); err == nil {
			out = append(out, eff)
		} else {
			out = append(out, t.malformed(def.ID, "turn_effect", "", def.TurnEffect, err))
		}
	}
	if len(out) == 0 {
		out = append(out, Log{Message: fmt.Sprintf("played %s (%s)", def.ID, def.Name)})
	}
	return out
}

func (t *Translator) malformed(space, category, action, value string, cause error) Effect {
	t.logger.Warn().
		Err(cause).
		Str("space", space).
		Str("category", category).
		Str("action", action).
		Str("value", value).
		Msg("malformed rule row, logging instead")
	return Log{Message: fmt.Sprintf("ignored rule %s/%s %q: %v", category, action, value, cause), Warning: true}
}

func moneyEffect(action, value, description string) (Effect, error) {
	formula, err := parseAmountFormula(value, money.Parse)
	if err != nil {
		return nil, err
	}
	if isDebit(action) {
		formula = formula.Negate()
	}
	return ResourceChange{Resource: ledger.Money, Amount: formula, Reason: description}, nil
}

func feeEffect(value, description string) (Effect, error) {
	formula, err := parseAmountFormula(value, money.Parse)
	if err != nil {
		return nil, err
	}
	if formula.Value > 0 || formula.Percent > 0 {
		formula = formula.Negate()
	}
	return ResourceChange{Resource: ledger.Money, Amount: formula, Reason: description}, nil
}

func timeEffect(action, value, description string) (Effect, error) {
	formula, err := parseAmountFormula(value, money.ParseDays)
	if err != nil {
		return nil, err
	}
	if formula.Kind == FormulaPercentOfMoney {
		return nil, fmt.Errorf("time cannot be a percentage")
	}
	if isDebit(action) {
		formula = formula.Negate()
	}
	return ResourceChange{Resource: ledger.Time, Amount: formula, Reason: description}, nil
}

// parseAmountFormula reads "5%", "1 per $200K" or a plain amount.
func parseAmountFormula(value string, parse func(string) (int, error)) (Formula, error) {
	if pct, ok := money.ParsePercent(value); ok {
		return PercentOfMoney(pct), nil
	}
	lower := strings.ToLower(value)
	if amountText, perText, ok := strings.Cut(lower, " per "); ok {
		amount, err := parse(amountText)
		if err != nil {
			return Formula{}, err
		}
		per, err := money.Parse(perText)
		if err != nil {
			return Formula{}, err
		}
		if per <= 0 {
			return Formula{}, fmt.Errorf("per amount must be positive")
		}
		return PerScope(amount, per), nil
	}
	amount, err := parse(value)
	if err != nil {
		return Formula{}, err
	}
	return Fixed(amount), nil
}

func isDebit(action string) bool {
	switch action {
	case "subtract", "deduct", "pay", "spend", "cost", "debit", "lose", "reduce", "save":
		return true
	}
	return false
}

func cardEffect(action, value string, row rules.EffectRow) (Effect, error) {
	verb, typeText, _ := strings.Cut(action, "_")
	if verb == "draw" && strings.HasPrefix(typeText, "apply_") {
		verb, typeText = "fund", strings.TrimPrefix(typeText, "apply_")
	}
	if verb == "play" {
		if value == "" {
			return nil, fmt.Errorf("play needs a card id")
		}
		return CardPlay{CardID: value}, nil
	}
	cardType, ok := player.ParseCardType(typeText)
	if !ok {
		return nil, fmt.Errorf("unknown card type in action %q", action)
	}
	count := 1
	if value != "" {
		n, err := parseCount(value)
		if err != nil {
			return nil, err
		}
		count = n
	}
	reason := row.Description
	switch verb {
	case "draw":
		return CardDraw{CardType: cardType, Count: count, Reason: reason}, nil
	case "discard", "remove", "return":
		return CardDiscard{CardType: cardType, Count: count, Reason: reason}, nil
	case "replace":
		return CardReplace{CardType: cardType, Count: count, Reason: reason}, nil
	case "transfer", "give":
		dir := condition.Parse(row.Condition)
		if !dir.IsDirectional() {
			return nil, fmt.Errorf("transfer needs a to_left or to_right condition")
		}
		return CardTransfer{CardType: cardType, Count: count, Direction: dir.Kind, Reason: reason}, nil
	case "fund", "apply":
		return CardDrawAndApply{CardType: cardType, Count: count, Reason: reason}, nil
	}
	return nil, fmt.Errorf("unknown card action %q", action)
}

func diceCardEffect(cardType player.CardType, outcome, reason string) (Effect, error) {
	verb, _, _ := strings.Cut(strings.ToLower(outcome), " ")
	count, err := parseCount(outcome)
	if err != nil {
		return nil, err
	}
	switch verb {
	case "draw":
		return CardDraw{CardType: cardType, Count: count, Reason: reason}, nil
	case "remove", "discard", "return":
		return CardDiscard{CardType: cardType, Count: count, Reason: reason}, nil
	case "replace":
		return CardReplace{CardType: cardType, Count: count, Reason: reason}, nil
	case "fund", "apply":
		return CardDrawAndApply{CardType: cardType, Count: count, Reason: reason}, nil
	}
	return nil, fmt.Errorf("unknown card outcome %q", outcome)
}

func loanEffect(value string) (Effect, error) {
	amountText, rateText, hasRate := strings.Cut(value, "@")
	amount, err := money.Parse(amountText)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("loan amount must be positive")
	}
	var rate float64
	if hasRate {
		pct, ok := money.ParsePercent(rateText)
		if !ok {
			return nil, fmt.Errorf("bad loan rate %q", rateText)
		}
		rate = pct
	}
	return Loan{Amount: amount, RatePercent: rate}, nil
}

func turnEffect(action string) (Effect, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "reroll", "re_roll", "re-roll", "grant_reroll":
		return TurnControl{Action: GrantReRoll}, nil
	case "skip", "skip_turn", "skip_next_turn", "lose_turn":
		return TurnControl{Action: SkipTurn}, nil
	case "end", "end_turn":
		return TurnControl{Action: EndTurn}, nil
	}
	return nil, fmt.Errorf("unknown turn action %q", action)
}

func movementEffect(action, value string) Effect {
	switch action {
	case "goto", "move_to", "teleport":
		return Movement{Destination: value}
	case "choose", "choice":
		var options []string
		for _, opt := range strings.Split(value, "|") {
			if opt = strings.TrimSpace(opt); opt != "" {
				options = append(options, opt)
			}
		}
		return Movement{Options: options}
	}
	return Movement{}
}

// choiceEffect parses "label=cat:act:val;cat:act:val || label=...".
func (t *Translator) choiceEffect(row rules.EffectRow) (Effect, error) {
	var branches []Branch
	for i, part := range strings.Split(row.Value, branchSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, body, ok := strings.Cut(part, "=")
		if !ok {
			label, body = fmt.Sprintf("Option %d", i+1), part
		}
		branch := Branch{Label: strings.TrimSpace(label)}
		for _, spec := range strings.Split(body, effectSeparator) {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			fields := strings.SplitN(spec, ":", 3)
			if len(fields) < 2 {
				return nil, fmt.Errorf("bad branch effect %q", spec)
			}
			nested := rules.EffectRow{
				Space:       row.Space,
				Visit:       row.Visit,
				Category:    fields[0],
				Action:      fields[1],
				Description: branch.Label,
				Trigger:     row.Trigger,
			}
			if len(fields) == 3 {
				nested.Value = fields[2]
			}
			if strings.EqualFold(nested.Category, "choice") {
				return nil, fmt.Errorf("nested choices are not supported")
			}
			branch.Effects = append(branch.Effects, t.FromRow(nested)...)
		}
		branches = append(branches, branch)
	}
	if len(branches) == 0 {
		return nil, fmt.Errorf("choice has no branches")
	}
	prompt := row.Description
	if prompt == "" {
		prompt = "Choose an option"
	}
	return Choice{Prompt: prompt, Branches: branches}, nil
}

func parseCount(value string) (int, error) {
	match := firstNumber.FindString(value)
	if match == "" {
		return 0, fmt.Errorf("no count in %q", value)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("count must be positive in %q", value)
	}
	return n, nil
}

// parseCardCount reads "2 E", "E:2" or "E".
func parseCardCount(value string) (player.CardType, int, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ' ' || r == ':' })
	var (
		cardType player.CardType
		count    = 1
		typed    bool
	)
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			count = n
			continue
		}
		if ct, ok := player.ParseCardType(f); ok {
			cardType, typed = ct, true
		}
	}
	if !typed {
		return "", 0, fmt.Errorf("no card type in %q", value)
	}
	if count <= 0 {
		return "", 0, fmt.Errorf("count must be positive in %q", value)
	}
	return cardType, count, nil
}
