// Package csvdata loads board rule data from the CSV tables used by the
// board designers into a rules.Catalog.
package csvdata

import (
	"bytes"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomaszsb/code2027/internal/services/game/domain/core/money"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

// Table file names.
const (
	FileGameConfig   = "GAME_CONFIG.csv"
	FileSpaceEffects = "SPACE_EFFECTS.csv"
	FileDiceEffects  = "DICE_EFFECTS.csv"
	FileMovement     = "MOVEMENT.csv"
	FileDiceOutcomes = "DICE_OUTCOMES.csv"
	FileCards        = "CARDS_EXPANDED.csv"
)

const maxDestinations = 5

//go:embed board/*.csv
var boardFS embed.FS

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type loader struct {
	logger zerolog.Logger
}

// Option configures Load.
type Option func(*loader)

// WithLogger logs skipped rows and defaulted values.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *loader) {
		l.logger = logger
	}
}

// Default loads the embedded sample board.
func Default(opts ...Option) (*rules.Catalog, error) {
	sub, err := fs.Sub(boardFS, "board")
	if err != nil {
		return nil, fmt.Errorf("open embedded board: %w", err)
	}
	return Load(sub, opts...)
}

// Load reads the board tables from the root of fsys. GAME_CONFIG.csv and
// MOVEMENT.csv are required; the other tables may be absent.
func Load(fsys fs.FS, opts ...Option) (*rules.Catalog, error) {
	l := &loader{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	catalog := rules.NewCatalog()

	steps := []struct {
		file     string
		required bool
		load     func(*rules.Catalog, *table) error
	}{
		{FileGameConfig, true, l.spaces},
		{FileCards, false, l.cards},
		{FileSpaceEffects, false, l.spaceEffects},
		{FileDiceEffects, false, l.diceEffects},
		{FileMovement, true, l.movement},
		{FileDiceOutcomes, false, l.diceOutcomes},
	}
	for _, step := range steps {
		t, err := readTable(fsys, step.file)
		if errors.Is(err, fs.ErrNotExist) && !step.required {
			l.logger.Debug().Str("file", step.file).Msg("optional table missing")
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := step.load(catalog, t); err != nil {
			return nil, fmt.Errorf("%s: %w", step.file, err)
		}
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// table is a header-keyed CSV table.
type table struct {
	columns map[string]int
	rows    [][]string
}

func readTable(fsys fs.FS, name string) (*table, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: missing header", name)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	t := &table{columns: make(map[string]int, len(header))}
	for i, col := range header {
		t.columns[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if blank(record) {
			continue
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

// get returns the trimmed value of the first present column.
func (t *table) get(row []string, cols ...string) string {
	for _, col := range cols {
		if i, ok := t.columns[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}

func (t *table) require(cols ...string) error {
	var missing []string
	for _, col := range cols {
		if _, ok := t.columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns %s", strings.Join(missing, ", "))
	}
	return nil
}

func (l *loader) spaces(c *rules.Catalog, t *table) error {
	if err := t.require("space_name"); err != nil {
		return err
	}
	for i, row := range t.rows {
		cfg := rules.SpaceConfig{
			Name:             t.get(row, "space_name"),
			Phase:            t.get(row, "phase"),
			Path:             t.get(row, "path_type", "path"),
			Starting:         yes(t.get(row, "is_starting_space")),
			Ending:           yes(t.get(row, "is_ending_space")),
			RequiresDiceRoll: yes(t.get(row, "requires_dice_roll")),
		}
		if err := c.AddSpace(cfg); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return nil
}

func (l *loader) spaceEffects(c *rules.Catalog, t *table) error {
	if err := t.require("space_name", "visit_type", "effect_type"); err != nil {
		return err
	}
	for i, row := range t.rows {
		visit, err := visitOf(t.get(row, "visit_type"), i)
		if err != nil {
			return err
		}
		trigger, ok := rules.ParseTrigger(t.get(row, "trigger_type"))
		if !ok {
			l.logger.Warn().
				Int("row", i+2).
				Str("trigger", t.get(row, "trigger_type")).
				Msg("unknown trigger type, treating as auto")
			trigger = rules.TriggerAuto
		}
		c.AddEffect(rules.EffectRow{
			Space:       t.get(row, "space_name"),
			Visit:       visit,
			Category:    t.get(row, "effect_type"),
			Action:      t.get(row, "effect_action"),
			Value:       t.get(row, "effect_value"),
			Condition:   t.get(row, "condition"),
			Description: t.get(row, "description"),
			Trigger:     trigger,
		})
	}
	return nil
}

func (l *loader) diceEffects(c *rules.Catalog, t *table) error {
	if err := t.require("space_name", "visit_type", "effect_type"); err != nil {
		return err
	}
	for i, row := range t.rows {
		visit, err := visitOf(t.get(row, "visit_type"), i)
		if err != nil {
			return err
		}
		c.AddDiceEffect(rules.DiceEffectRow{
			Space:    t.get(row, "space_name"),
			Visit:    visit,
			Category: t.get(row, "effect_type"),
			CardType: t.get(row, "card_type"),
			Rolls:    rolls(t, row),
		})
	}
	return nil
}

func (l *loader) movement(c *rules.Catalog, t *table) error {
	if err := t.require("space_name", "visit_type"); err != nil {
		return err
	}
	for i, row := range t.rows {
		visit, err := visitOf(t.get(row, "visit_type"), i)
		if err != nil {
			return err
		}
		var dests []string
		for n := 1; n <= maxDestinations; n++ {
			if dest := t.get(row, "destination_"+strconv.Itoa(n)); dest != "" {
				dests = append(dests, dest)
			}
		}
		kind, err := movementKind(t.get(row, "movement_type"), len(dests))
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		c.SetMovement(rules.MovementRow{
			Space:        t.get(row, "space_name"),
			Visit:        visit,
			Kind:         kind,
			Destinations: dests,
		})
	}
	return nil
}

func (l *loader) diceOutcomes(c *rules.Catalog, t *table) error {
	if err := t.require("space_name", "visit_type"); err != nil {
		return err
	}
	for i, row := range t.rows {
		visit, err := visitOf(t.get(row, "visit_type"), i)
		if err != nil {
			return err
		}
		c.SetDiceOutcomes(rules.DiceOutcomeRow{
			Space:        t.get(row, "space_name"),
			Visit:        visit,
			Destinations: rolls(t, row),
		})
	}
	return nil
}

func (l *loader) cards(c *rules.Catalog, t *table) error {
	if err := t.require("card_id", "card_type"); err != nil {
		return err
	}
	for i, row := range t.rows {
		line := i + 2
		cardType, ok := player.ParseCardType(t.get(row, "card_type"))
		if !ok {
			return fmt.Errorf("row %d: unknown card type %q", line, t.get(row, "card_type"))
		}
		def := rules.CardDefinition{
			ID:           t.get(row, "card_id"),
			Name:         t.get(row, "card_name"),
			Type:         cardType,
			Description:  t.get(row, "description"),
			TurnEffect:   t.get(row, "turn_effect"),
			DrawCards:    t.get(row, "draw_cards"),
			DiscardCards: t.get(row, "discard_cards"),
		}
		ints := []struct {
			dst  *int
			cols []string
		}{
			{&def.Cost, []string{"cost"}},
			{&def.Duration, []string{"duration_count"}},
			{&def.MoneyEffect, []string{"money_effect"}},
			{&def.TimeEffect, []string{"tick_modifier", "time_effect"}},
			{&def.LoanAmount, []string{"loan_amount"}},
			{&def.InvestmentAmount, []string{"investment_amount"}},
		}
		for _, field := range ints {
			raw := t.get(row, field.cols...)
			if raw == "" {
				continue
			}
			n, err := money.Parse(raw)
			if err != nil {
				return fmt.Errorf("row %d: %s: %w", line, field.cols[0], err)
			}
			*field.dst = n
		}
		if cardType == player.CardWork && def.Cost == 0 {
			if n, err := money.Parse(t.get(row, "work_cost")); err == nil {
				def.Cost = n
			}
		}
		if raw := strings.TrimSuffix(t.get(row, "loan_rate"), "%"); raw != "" {
			rate, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("row %d: loan_rate: %w", line, err)
			}
			def.LoanRate = rate
		}
		if err := c.AddCard(def); err != nil {
			return fmt.Errorf("row %d: %w", line, err)
		}
	}
	return nil
}

func rolls(t *table, row []string) [6]string {
	var out [6]string
	for n := range out {
		out[n] = t.get(row, "roll_"+strconv.Itoa(n+1))
	}
	return out
}

func visitOf(raw string, index int) (player.Visit, error) {
	visit, ok := player.ParseVisit(raw)
	if !ok {
		return "", fmt.Errorf("row %d: unknown visit type %q", index+2, raw)
	}
	return visit, nil
}

// movementKind infers the kind from the destination count when the column
// is blank.
func movementKind(raw string, destinations int) (rules.MovementKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fixed":
		return rules.MovementFixed, nil
	case "choice":
		return rules.MovementChoice, nil
	case "dice", "dice_outcome":
		return rules.MovementDice, nil
	case "none":
		return rules.MovementNone, nil
	case "":
		switch {
		case destinations == 0:
			return rules.MovementNone, nil
		case destinations == 1:
			return rules.MovementFixed, nil
		default:
			return rules.MovementChoice, nil
		}
	}
	return "", fmt.Errorf("unknown movement type %q", raw)
}

func yes(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
