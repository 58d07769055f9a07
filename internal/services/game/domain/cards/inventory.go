// Package cards owns the draw and discard piles and moves cards between
// piles, hands and active play.
package cards

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

var (
	// ErrCatalogRequired indicates a missing card catalog.
	ErrCatalogRequired = errors.New("card catalog is required")
	// ErrFundingRequired indicates DrawAndApply was called without a funding ledger.
	ErrFundingRequired = errors.New("funding ledger is required")
)

// Funding stages balance changes inside a store update and records them
// after the commit.
type Funding interface {
	Stage(p *player.Player, resource ledger.Resource, delta int, source, reason string) (ledger.Transaction, error)
	Record(ctx context.Context, txs ...ledger.Transaction)
}

type pile struct {
	draw    []string
	discard []string
}

// Inventory moves cards for every player.
type Inventory struct {
	store   *gamestate.Store
	catalog rules.Repository
	funding Funding
	logger  zerolog.Logger

	mu    sync.Mutex
	piles map[player.CardType]*pile
	rng   *rand.Rand
}

// Option configures an Inventory.
type Option func(*Inventory)

// WithFunding enables DrawAndApply.
func WithFunding(funding Funding) Option {
	return func(inv *Inventory) { inv.funding = funding }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(inv *Inventory) { inv.logger = logger }
}

// New builds shuffled draw piles from every card in catalog.
func New(store *gamestate.Store, catalog rules.Repository, seed int64, opts ...Option) (*Inventory, error) {
	if store == nil {
		return nil, gamestate.ErrStoreRequired
	}
	if catalog == nil {
		return nil, ErrCatalogRequired
	}
	inv := &Inventory{
		store:   store,
		catalog: catalog,
		logger:  zerolog.Nop(),
		piles:   make(map[player.CardType]*pile),
		rng:     rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	for _, t := range player.CardTypes {
		inv.piles[t] = &pile{}
	}
	for _, card := range catalog.Cards() {
		p, ok := inv.piles[card.Type]
		if !ok {
			return nil, fmt.Errorf("card %s has unknown type %q", card.ID, card.Type)
		}
		p.draw = append(p.draw, card.ID)
	}
	for _, p := range inv.piles {
		inv.shuffle(p.draw)
	}
	return inv, nil
}

// Available returns how many cards of a type can still be drawn, counting
// the discard pile that would be reshuffled in.
func (inv *Inventory) Available(cardType player.CardType) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	p, ok := inv.piles[cardType]
	if !ok {
		return 0
	}
	return len(p.draw) + len(p.discard)
}

// DrawCards moves up to count cards of a type into the player's hand and
// returns the ids actually drawn. An exhausted supply draws nothing.
func (inv *Inventory) DrawCards(ctx context.Context, playerID string, cardType player.CardType, count int, source, reason string) ([]string, error) {
	if count <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "draw count must be positive")
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	ids := inv.peek(cardType, count)
	if len(ids) == 0 {
		return nil, nil
	}
	err := inv.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		for _, cardID := range ids {
			p.Add(cardType, cardID)
		}
		p.ProjectScope = inv.scopeOf(p.Hand)
		return nil
	})
	if err != nil {
		return nil, err
	}
	inv.pop(cardType, len(ids))
	inv.logger.Debug().Str("player_id", playerID).Strs("cards", ids).Str("source", source).Str("reason", reason).Msg("drew cards")
	return ids, nil
}

// DiscardCards moves the given held cards to their discard piles. Nothing
// changes unless every id is held.
func (inv *Inventory) DiscardCards(ctx context.Context, playerID string, cardIDs []string, source, reason string) ([]string, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	discarded := make(map[player.CardType][]string)
	err := inv.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		for _, cardID := range cardIDs {
			cardType, ok := p.Remove(cardID)
			if !ok {
				return notInHand(playerID, cardID)
			}
			discarded[cardType] = append(discarded[cardType], cardID)
		}
		p.ProjectScope = inv.scopeOf(p.Hand)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for cardType, ids := range discarded {
		inv.piles[cardType].discard = append(inv.piles[cardType].discard, ids...)
	}
	inv.logger.Debug().Str("player_id", playerID).Strs("cards", cardIDs).Str("source", source).Str("reason", reason).Msg("discarded cards")
	return slices.Clone(cardIDs), nil
}

// DiscardByType discards up to count of the player's oldest cards of a type.
func (inv *Inventory) DiscardByType(ctx context.Context, playerID string, cardType player.CardType, count int, source, reason string) ([]string, error) {
	if count <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "discard count must be positive")
	}
	p, err := inv.store.Player(playerID)
	if err != nil {
		return nil, err
	}
	held := p.Hand[cardType]
	if len(held) == 0 {
		return nil, nil
	}
	return inv.DiscardCards(ctx, playerID, slices.Clone(held[:min(count, len(held))]), source, reason)
}

// PlayCard removes a held card and returns its definition. Cards with a
// duration stay active until they expire; others are discarded.
func (inv *Inventory) PlayCard(ctx context.Context, playerID, cardID, source string) (rules.CardDefinition, error) {
	def, ok := inv.catalog.Card(cardID)
	if !ok {
		return rules.CardDefinition{}, notInHand(playerID, cardID)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	err := inv.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		if _, ok := p.Remove(cardID); !ok {
			return notInHand(playerID, cardID)
		}
		if def.Duration > 0 {
			p.ActiveCards = append(p.ActiveCards, player.ActiveCard{
				CardID:           cardID,
				ExpiresAfterTurn: p.TurnsTaken + def.Duration,
			})
		}
		p.ProjectScope = inv.scopeOf(p.Hand)
		return nil
	})
	if err != nil {
		return rules.CardDefinition{}, err
	}
	if def.Duration <= 0 {
		inv.piles[def.Type].discard = append(inv.piles[def.Type].discard, cardID)
	}
	inv.logger.Debug().Str("player_id", playerID).Str("card_id", cardID).Str("source", source).Msg("played card")
	return def, nil
}

// ExpireActive discards active cards whose duration has run out.
func (inv *Inventory) ExpireActive(ctx context.Context, playerID string) ([]string, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var expired []string
	err := inv.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		expired = expired[:0]
		kept := p.ActiveCards[:0:0]
		for _, active := range p.ActiveCards {
			if active.ExpiresAfterTurn <= p.TurnsTaken {
				expired = append(expired, active.CardID)
				continue
			}
			kept = append(kept, active)
		}
		p.ActiveCards = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, cardID := range expired {
		if def, ok := inv.catalog.Card(cardID); ok {
			inv.piles[def.Type].discard = append(inv.piles[def.Type].discard, cardID)
		}
	}
	return expired, nil
}

// TransferCard moves a held card from one player to another.
func (inv *Inventory) TransferCard(ctx context.Context, fromID, toID, cardID, source string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.store.Update(ctx, func(st *gamestate.State) error {
		return transfer(st, fromID, toID, []string{cardID}, inv.scopeOf)
	})
}

// TransferByType moves up to count of the sender's oldest cards of a type.
func (inv *Inventory) TransferByType(ctx context.Context, fromID, toID string, cardType player.CardType, count int, source string) ([]string, error) {
	if count <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "transfer count must be positive")
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var moved []string
	err := inv.store.Update(ctx, func(st *gamestate.State) error {
		from, ok := st.Player(fromID)
		if !ok {
			return playerNotFound(fromID)
		}
		held := from.Hand[cardType]
		moved = slices.Clone(held[:min(count, len(held))])
		return transfer(st, fromID, toID, moved, inv.scopeOf)
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// DrawAndApply draws up to count cards and applies their funding in the same
// commit, so no reader ever sees a drawn card whose effect is not applied.
// Applied cards go straight to the discard pile. An exhausted supply is a
// no-op.
func (inv *Inventory) DrawAndApply(ctx context.Context, playerID string, cardType player.CardType, count int, source string) ([]string, []ledger.Transaction, error) {
	if inv.funding == nil {
		return nil, nil, ErrFundingRequired
	}
	if count <= 0 {
		return nil, nil, apperrors.New(apperrors.CodeInvalidAmount, "draw count must be positive")
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	ids := inv.peek(cardType, count)
	if len(ids) == 0 {
		return nil, nil, nil
	}
	var txs []ledger.Transaction
	err := inv.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		txs = txs[:0]
		for _, cardID := range ids {
			def, _ := inv.catalog.Card(cardID)
			reason := "apply " + cardID
			if def.LoanAmount > 0 {
				p.Loans = append(p.Loans, player.Loan{ID: cardID, Principal: def.LoanAmount, RatePercent: def.LoanRate, Turn: p.TurnsTaken})
			}
			if funding := def.Funding(); funding != 0 {
				tx, err := inv.funding.Stage(p, ledger.Money, funding, source, reason)
				if err != nil {
					return err
				}
				txs = append(txs, tx)
			}
			if def.TimeEffect != 0 {
				tx, err := inv.funding.Stage(p, ledger.Time, def.TimeEffect, source, reason)
				if err != nil {
					return err
				}
				txs = append(txs, tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	inv.pop(cardType, len(ids))
	inv.piles[cardType].discard = append(inv.piles[cardType].discard, ids...)
	inv.funding.Record(ctx, txs...)
	inv.logger.Debug().Str("player_id", playerID).Strs("cards", ids).Str("source", source).Msg("drew and applied cards")
	return ids, txs, nil
}

// Restore returns a player's hand and active cards to a captured state.
// Cards gained since go back on top of their draw piles; cards lost since
// are reclaimed from wherever they are now.
func (inv *Inventory) Restore(ctx context.Context, playerID string, target player.Player) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	targetOwned := ownedCards(target)
	var returned []string
	err := inv.store.Update(ctx, func(st *gamestate.State) error {
		returned = returned[:0]
		p, ok := st.Player(playerID)
		if !ok {
			return playerNotFound(playerID)
		}
		currentOwned := ownedCards(*p)
		for cardID := range currentOwned {
			if !targetOwned[cardID] {
				returned = append(returned, cardID)
			}
		}
		for cardID := range targetOwned {
			if currentOwned[cardID] {
				continue
			}
			for i := range st.Players {
				other := &st.Players[i]
				if other.ID == playerID {
					continue
				}
				if _, ok := other.Remove(cardID); ok {
					other.ProjectScope = inv.scopeOf(other.Hand)
				}
			}
		}
		p.Hand = target.Hand.Clone()
		if p.Hand == nil {
			p.Hand = player.Hand{}
		}
		p.ActiveCards = slices.Clone(target.ActiveCards)
		p.ProjectScope = inv.scopeOf(p.Hand)
		return nil
	})
	if err != nil {
		return err
	}
	for cardID := range targetOwned {
		inv.removeFromPiles(cardID)
	}
	slices.Sort(returned)
	for i := len(returned) - 1; i >= 0; i-- {
		if def, ok := inv.catalog.Card(returned[i]); ok {
			p := inv.piles[def.Type]
			p.draw = append([]string{returned[i]}, p.draw...)
		}
	}
	return nil
}

// Reconcile recomputes every player's project scope from held work cards.
func (inv *Inventory) Reconcile(ctx context.Context) error {
	return inv.store.Update(ctx, func(st *gamestate.State) error {
		for i := range st.Players {
			st.Players[i].ProjectScope = inv.scopeOf(st.Players[i].Hand)
		}
		return nil
	})
}

func (inv *Inventory) scopeOf(hand player.Hand) int {
	scope := 0
	for _, cardID := range hand[player.CardWork] {
		if def, ok := inv.catalog.Card(cardID); ok {
			scope += def.Cost
		}
	}
	return scope
}

// peek returns up to count ids from the top of the draw pile, reshuffling the
// discard pile underneath when the draw pile runs short. Callers hold mu.
func (inv *Inventory) peek(cardType player.CardType, count int) []string {
	p, ok := inv.piles[cardType]
	if !ok {
		return nil
	}
	if len(p.draw) < count && len(p.discard) > 0 {
		inv.shuffle(p.discard)
		p.draw = append(p.draw, p.discard...)
		p.discard = nil
		inv.logger.Debug().Str("card_type", string(cardType)).Msg("reshuffled discard pile")
	}
	return slices.Clone(p.draw[:min(count, len(p.draw))])
}

func (inv *Inventory) pop(cardType player.CardType, n int) {
	p := inv.piles[cardType]
	p.draw = p.draw[n:]
}

func (inv *Inventory) removeFromPiles(cardID string) {
	for _, p := range inv.piles {
		p.draw = slices.DeleteFunc(p.draw, func(id string) bool { return id == cardID })
		p.discard = slices.DeleteFunc(p.discard, func(id string) bool { return id == cardID })
	}
}

func (inv *Inventory) shuffle(ids []string) {
	inv.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

func transfer(st *gamestate.State, fromID, toID string, cardIDs []string, scopeOf func(player.Hand) int) error {
	from, ok := st.Player(fromID)
	if !ok {
		return playerNotFound(fromID)
	}
	to, ok := st.Player(toID)
	if !ok {
		return playerNotFound(toID)
	}
	for _, cardID := range cardIDs {
		cardType, ok := from.Remove(cardID)
		if !ok {
			return notInHand(fromID, cardID)
		}
		to.Add(cardType, cardID)
	}
	from.ProjectScope = scopeOf(from.Hand)
	to.ProjectScope = scopeOf(to.Hand)
	return nil
}

func ownedCards(p player.Player) map[string]bool {
	owned := make(map[string]bool)
	for _, ids := range p.Hand {
		for _, cardID := range ids {
			owned[cardID] = true
		}
	}
	for _, active := range p.ActiveCards {
		owned[active.CardID] = true
	}
	return owned
}

func notInHand(playerID, cardID string) error {
	return apperrors.WithMetadata(apperrors.CodeCardNotInHand, "card is not in hand",
		map[string]string{"PlayerID": playerID, "CardID": cardID})
}

func playerNotFound(playerID string) error {
	return apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player not found", map[string]string{"PlayerID": playerID})
}
