package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

type spaceVisit struct {
	space string
	visit player.Visit
}

// Catalog is an in-memory Repository.
type Catalog struct {
	effects      map[spaceVisit][]EffectRow
	diceEffects  map[spaceVisit][]DiceEffectRow
	spaces       map[string]SpaceConfig
	spaceOrder   []string
	movement     map[spaceVisit]MovementRow
	diceOutcomes map[spaceVisit]DiceOutcomeRow
	cards        map[string]CardDefinition
	cardOrder    []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		effects:      make(map[spaceVisit][]EffectRow),
		diceEffects:  make(map[spaceVisit][]DiceEffectRow),
		spaces:       make(map[string]SpaceConfig),
		movement:     make(map[spaceVisit]MovementRow),
		diceOutcomes: make(map[spaceVisit]DiceOutcomeRow),
		cards:        make(map[string]CardDefinition),
	}
}

func key(space string, visit player.Visit) spaceVisit {
	return spaceVisit{space: strings.TrimSpace(space), visit: visit}
}

// AddSpace registers a space configuration.
func (c *Catalog) AddSpace(cfg SpaceConfig) error {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return fmt.Errorf("space name is required")
	}
	if _, exists := c.spaces[name]; !exists {
		c.spaceOrder = append(c.spaceOrder, name)
	}
	cfg.Name = name
	c.spaces[name] = cfg
	return nil
}

// AddEffect appends a space effect row, preserving order.
func (c *Catalog) AddEffect(row EffectRow) {
	k := key(row.Space, row.Visit)
	c.effects[k] = append(c.effects[k], row)
}

// AddDiceEffect appends a dice effect row.
func (c *Catalog) AddDiceEffect(row DiceEffectRow) {
	k := key(row.Space, row.Visit)
	c.diceEffects[k] = append(c.diceEffects[k], row)
}

// SetMovement sets the movement row for a space and visit.
func (c *Catalog) SetMovement(row MovementRow) {
	c.movement[key(row.Space, row.Visit)] = row
}

// SetDiceOutcomes sets the dice destination table for a space and visit.
func (c *Catalog) SetDiceOutcomes(row DiceOutcomeRow) {
	c.diceOutcomes[key(row.Space, row.Visit)] = row
}

// AddCard registers a card definition.
func (c *Catalog) AddCard(card CardDefinition) error {
	id := strings.TrimSpace(card.ID)
	if id == "" {
		return fmt.Errorf("card id is required")
	}
	if _, exists := c.cards[id]; exists {
		return fmt.Errorf("duplicate card id %q", id)
	}
	card.ID = id
	c.cards[id] = card
	c.cardOrder = append(c.cardOrder, id)
	return nil
}

func (c *Catalog) SpaceEffects(space string, visit player.Visit) []EffectRow {
	return slices.Clone(c.effects[key(space, visit)])
}

func (c *Catalog) DiceEffects(space string, visit player.Visit) []DiceEffectRow {
	return slices.Clone(c.diceEffects[key(space, visit)])
}

func (c *Catalog) Space(name string) (SpaceConfig, bool) {
	cfg, ok := c.spaces[strings.TrimSpace(name)]
	return cfg, ok
}

// Spaces returns space configurations in registration order.
func (c *Catalog) Spaces() []SpaceConfig {
	out := make([]SpaceConfig, 0, len(c.spaceOrder))
	for _, name := range c.spaceOrder {
		out = append(out, c.spaces[name])
	}
	return out
}

func (c *Catalog) Movement(space string, visit player.Visit) (MovementRow, bool) {
	row, ok := c.movement[key(space, visit)]
	if !ok {
		return MovementRow{}, false
	}
	row.Destinations = slices.Clone(row.Destinations)
	return row, true
}

func (c *Catalog) DiceOutcomes(space string, visit player.Visit) (DiceOutcomeRow, bool) {
	row, ok := c.diceOutcomes[key(space, visit)]
	return row, ok
}

func (c *Catalog) Card(id string) (CardDefinition, bool) {
	card, ok := c.cards[strings.TrimSpace(id)]
	return card, ok
}

func (c *Catalog) Cards() []CardDefinition {
	out := make([]CardDefinition, 0, len(c.cardOrder))
	for _, id := range c.cardOrder {
		out = append(out, c.cards[id])
	}
	return out
}

// StartingSpace returns the first space flagged as starting.
func (c *Catalog) StartingSpace() (string, bool) {
	for _, name := range c.spaceOrder {
		if c.spaces[name].Starting {
			return name, true
		}
	}
	return "", false
}

// Validate checks that every movement destination names a known space and
// that a starting space exists.
func (c *Catalog) Validate() error {
	if _, ok := c.StartingSpace(); !ok {
		return fmt.Errorf("no starting space configured")
	}
	var problems []string
	for k, row := range c.movement {
		for _, dest := range row.Destinations {
			if _, ok := c.spaces[dest]; !ok {
				problems = append(problems, fmt.Sprintf("%s/%s -> unknown space %q", k.space, k.visit, dest))
			}
		}
	}
	for k, row := range c.diceOutcomes {
		for _, dest := range row.Destinations {
			if dest == "" {
				continue
			}
			if _, ok := c.spaces[dest]; !ok {
				problems = append(problems, fmt.Sprintf("%s/%s dice -> unknown space %q", k.space, k.visit, dest))
			}
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("invalid movement: %s", strings.Join(problems, "; "))
	}
	return nil
}

var _ Repository = (*Catalog)(nil)
