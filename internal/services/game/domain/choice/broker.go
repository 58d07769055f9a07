// Package choice brokers blocking player decisions. Movement ambiguity,
// effect branches and card replacement all flow through the same primitive:
// a choice is created for one player, blocks that player's progress and is
// resolved by submitting one of its option ids.
package choice

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/platform/id"
)

// Category tags what a choice decides.
type Category string

const (
	CategoryMovement        Category = "movement"
	CategoryCardReplacement Category = "card_replacement"
	CategoryGeneral         Category = "general"
)

// Option is one selectable answer.
type Option struct {
	ID    string
	Label string
}

// Request describes a choice to create.
type Request struct {
	PlayerID string
	Category Category
	Prompt   string
	// Options without ids are numbered from "0".
	Options  []Option
	Metadata map[string]string
}

// Choice is a created decision.
type Choice struct {
	ID        string
	PlayerID  string
	Category  Category
	Prompt    string
	Options   []Option
	Metadata  map[string]string
	CreatedAt time.Time
	Resolved  bool
	Cancelled bool
	Selected  string
}

// OptionIndex returns the position of an option id.
func (c Choice) OptionIndex(optionID string) int {
	return slices.IndexFunc(c.Options, func(o Option) bool { return o.ID == optionID })
}

func (c Choice) clone() Choice {
	cloned := c
	cloned.Options = slices.Clone(c.Options)
	if c.Metadata != nil {
		cloned.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return cloned
}

// Listener is notified after a choice is created. Listeners may resolve the
// choice synchronously.
type Listener func(Choice)

type entry struct {
	choice Choice
	done   chan string
}

// Broker tracks outstanding choices.
type Broker struct {
	logger zerolog.Logger
	newID  id.Generator
	now    func() time.Time

	mu        sync.Mutex
	byID      map[string]*entry
	pending   map[string]string
	listeners map[int]Listener
	nextLis   int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = logger }
}

// WithIDGenerator overrides choice id generation.
func WithIDGenerator(gen id.Generator) BrokerOption {
	return func(b *Broker) {
		if gen != nil {
			b.newID = gen
		}
	}
}

// WithClock overrides creation timestamps.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		logger:    zerolog.Nop(),
		newID:     id.NewID,
		now:       time.Now,
		byID:      make(map[string]*entry),
		pending:   make(map[string]string),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// OnCreate registers a listener and returns its unregister function.
func (b *Broker) OnCreate(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := b.nextLis
	b.nextLis++
	b.listeners[key] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, key)
	}
}

// Create registers a choice. A player can have only one outstanding choice.
func (b *Broker) Create(ctx context.Context, req Request) (Choice, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Choice{}, err
		}
	}
	playerID := strings.TrimSpace(req.PlayerID)
	if playerID == "" {
		return Choice{}, apperrors.New(apperrors.CodePlayerNotFound, "choice player is required")
	}
	if len(req.Options) == 0 {
		return Choice{}, apperrors.New(apperrors.CodeInvalidChoiceOption, "choice needs at least one option")
	}
	options := make([]Option, len(req.Options))
	seen := make(map[string]bool, len(req.Options))
	for i, opt := range req.Options {
		if strings.TrimSpace(opt.ID) == "" {
			opt.ID = strconv.Itoa(i)
		}
		if seen[opt.ID] {
			return Choice{}, apperrors.WithMetadata(apperrors.CodeInvalidChoiceOption, "duplicate choice option id", map[string]string{"OptionID": opt.ID})
		}
		seen[opt.ID] = true
		options[i] = opt
	}
	category := req.Category
	if category == "" {
		category = CategoryGeneral
	}
	choiceID, err := b.newID()
	if err != nil {
		return Choice{}, err
	}

	b.mu.Lock()
	if existing, ok := b.pending[playerID]; ok {
		b.mu.Unlock()
		return Choice{}, apperrors.WithMetadata(apperrors.CodeChoicePending, "player already has an outstanding choice",
			map[string]string{"PlayerID": playerID, "ChoiceID": existing})
	}
	c := Choice{
		ID:        choiceID,
		PlayerID:  playerID,
		Category:  category,
		Prompt:    req.Prompt,
		Options:   options,
		Metadata:  req.Metadata,
		CreatedAt: b.now().UTC(),
	}
	c = c.clone()
	b.byID[choiceID] = &entry{choice: c, done: make(chan string, 1)}
	b.pending[playerID] = choiceID
	listeners := make([]Listener, 0, len(b.listeners))
	for _, key := range sortedKeys(b.listeners) {
		listeners = append(listeners, b.listeners[key])
	}
	b.mu.Unlock()

	b.logger.Debug().Str("choice_id", choiceID).Str("player_id", playerID).Str("category", string(category)).Msg("choice created")
	for _, listener := range listeners {
		listener(c.clone())
	}
	return c.clone(), nil
}

// Resolve submits optionID for a choice. Unknown choices, already resolved
// choices and options outside the original list are rejected.
func (b *Broker) Resolve(choiceID, optionID string) (Choice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[choiceID]
	if !ok {
		return Choice{}, apperrors.WithMetadata(apperrors.CodeChoiceNotFound, "choice not found", map[string]string{"ChoiceID": choiceID})
	}
	if e.choice.Resolved || e.choice.Cancelled {
		return Choice{}, apperrors.WithMetadata(apperrors.CodeChoiceAlreadyResolved, "choice already resolved", map[string]string{"ChoiceID": choiceID})
	}
	if e.choice.OptionIndex(optionID) < 0 {
		return Choice{}, apperrors.WithMetadata(apperrors.CodeInvalidChoiceOption, "Invalid choice option selected",
			map[string]string{"ChoiceID": choiceID, "OptionID": optionID})
	}
	e.choice.Resolved = true
	e.choice.Selected = optionID
	delete(b.pending, e.choice.PlayerID)
	e.done <- optionID
	b.logger.Debug().Str("choice_id", choiceID).Str("option_id", optionID).Msg("choice resolved")
	return e.choice.clone(), nil
}

// Await blocks until the choice is resolved, cancelled, or ctx ends.
func (b *Broker) Await(ctx context.Context, choiceID string) (string, error) {
	b.mu.Lock()
	e, ok := b.byID[choiceID]
	var resolved bool
	var selected string
	if ok {
		resolved, selected = e.choice.Resolved, e.choice.Selected
	}
	b.mu.Unlock()
	if !ok {
		return "", apperrors.WithMetadata(apperrors.CodeChoiceNotFound, "choice not found", map[string]string{"ChoiceID": choiceID})
	}
	if resolved {
		return selected, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case optionID, open := <-e.done:
		if !open {
			return "", apperrors.WithMetadata(apperrors.CodeChoiceNotFound, "choice cancelled", map[string]string{"ChoiceID": choiceID})
		}
		return optionID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ask creates a choice and waits for its resolution.
func (b *Broker) Ask(ctx context.Context, req Request) (Choice, string, error) {
	c, err := b.Create(ctx, req)
	if err != nil {
		return Choice{}, "", err
	}
	optionID, err := b.Await(ctx, c.ID)
	if err != nil {
		return c, "", err
	}
	return c, optionID, nil
}

// Pending returns the player's outstanding choice.
func (b *Broker) Pending(playerID string) (Choice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	choiceID, ok := b.pending[playerID]
	if !ok {
		return Choice{}, false
	}
	return b.byID[choiceID].choice.clone(), true
}

// Get returns a choice by id.
func (b *Broker) Get(choiceID string) (Choice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byID[choiceID]
	if !ok {
		return Choice{}, false
	}
	return e.choice.clone(), true
}

// Cancel drops the player's outstanding choice, releasing any waiter.
func (b *Broker) Cancel(playerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	choiceID, ok := b.pending[playerID]
	if !ok {
		return false
	}
	e := b.byID[choiceID]
	e.choice.Cancelled = true
	delete(b.pending, playerID)
	close(e.done)
	return true
}

func sortedKeys(m map[int]Listener) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
