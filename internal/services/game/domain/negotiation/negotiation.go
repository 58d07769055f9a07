// Package negotiation runs player-to-player trades of cards and money.
package negotiation

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/platform/id"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// Status is the lifecycle state of a negotiation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
)

// Active reports whether the negotiation still accepts offers.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

var (
	// ErrPlayersRequired indicates a missing player reader.
	ErrPlayersRequired = errors.New("player reader is required")
	// ErrCardsRequired indicates a missing card mover.
	ErrCardsRequired = errors.New("card mover is required")
	// ErrFundsRequired indicates a missing ledger.
	ErrFundsRequired = errors.New("ledger is required")
)

// Players reads player state.
type Players interface {
	Player(id string) (player.Player, error)
}

// Cards moves cards between players and restores card pools.
type Cards interface {
	TransferCard(ctx context.Context, fromID, toID, cardID, source string) error
	Restore(ctx context.Context, playerID string, target player.Player) error
}

// Funds moves money between players.
type Funds interface {
	AddMoney(ctx context.Context, playerID string, amount int, source, reason string) (ledger.Transaction, error)
	SpendMoney(ctx context.Context, playerID string, amount int, source, reason string) (ledger.Transaction, error)
}

// Offer is what a participant is willing to give.
type Offer struct {
	ID       string
	PlayerID string
	CardIDs  []string
	Money    int
	At       time.Time
}

// Negotiation is one trade between participants.
type Negotiation struct {
	ID           string
	InitiatorID  string
	Participants []string
	Status       Status
	Offers       []Offer
	// CardPools holds each participant's hand when the negotiation started.
	CardPools  map[string]player.Hand
	Accepted   *Offer
	AcceptedBy string
	CreatedAt  time.Time
	ClosedAt   time.Time
}

func (n Negotiation) clone() Negotiation {
	cloned := n
	cloned.Participants = slices.Clone(n.Participants)
	cloned.Offers = make([]Offer, len(n.Offers))
	for i, o := range n.Offers {
		o.CardIDs = slices.Clone(o.CardIDs)
		cloned.Offers[i] = o
	}
	cloned.CardPools = make(map[string]player.Hand, len(n.CardPools))
	for k, v := range n.CardPools {
		cloned.CardPools[k] = v.Clone()
	}
	if n.Accepted != nil {
		accepted := *n.Accepted
		accepted.CardIDs = slices.Clone(accepted.CardIDs)
		cloned.Accepted = &accepted
	}
	return cloned
}

// LatestOfferFrom returns the newest offer not made by playerID.
func (n Negotiation) LatestOfferFrom(excludePlayerID string) (Offer, bool) {
	for i := len(n.Offers) - 1; i >= 0; i-- {
		if n.Offers[i].PlayerID != excludePlayerID {
			return n.Offers[i], true
		}
	}
	return Offer{}, false
}

type record struct {
	neg       Negotiation
	snapshots map[string]player.Player
}

// Manager tracks negotiations.
type Manager struct {
	players Players
	cards   Cards
	funds   Funds
	logger  zerolog.Logger
	now     func() time.Time
	newID   id.Generator

	mu    sync.Mutex
	byID  map[string]*record
	order []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator sets the negotiation and offer id generator.
func WithIDGenerator(gen id.Generator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// NewManager creates a negotiation manager.
func NewManager(players Players, cards Cards, funds Funds, opts ...Option) (*Manager, error) {
	switch {
	case players == nil:
		return nil, ErrPlayersRequired
	case cards == nil:
		return nil, ErrCardsRequired
	case funds == nil:
		return nil, ErrFundsRequired
	}
	m := &Manager{
		players: players,
		cards:   cards,
		funds:   funds,
		logger:  zerolog.Nop(),
		now:     time.Now,
		newID:   id.NewID,
		byID:    make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start opens a negotiation and snapshots every participant's card pool.
// The initiator is always a participant. A player can be in at most one
// active negotiation.
func (m *Manager) Start(ctx context.Context, initiatorID string, participants []string) (Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return Negotiation{}, err
	}
	members := []string{initiatorID}
	for _, pid := range participants {
		if !slices.Contains(members, pid) {
			members = append(members, pid)
		}
	}
	if len(members) < 2 {
		return Negotiation{}, apperrors.New(apperrors.CodePlayerNotFound, "a negotiation needs another player")
	}
	snapshots := make(map[string]player.Player, len(members))
	pools := make(map[string]player.Hand, len(members))
	for _, pid := range members {
		p, err := m.players.Player(pid)
		if err != nil {
			return Negotiation{}, err
		}
		snapshots[pid] = p.Clone()
		pools[pid] = p.Hand.Clone()
	}
	negID, err := m.newID()
	if err != nil {
		return Negotiation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pid := range members {
		if busy, ok := m.activeFor(pid); ok {
			return Negotiation{}, apperrors.WithMetadata(apperrors.CodeActionInProgress, "player is already negotiating",
				map[string]string{"PlayerID": pid, "NegotiationID": busy})
		}
	}
	neg := Negotiation{
		ID:           negID,
		InitiatorID:  initiatorID,
		Participants: members,
		Status:       StatusPending,
		CardPools:    pools,
		CreatedAt:    m.now().UTC(),
	}
	m.byID[negID] = &record{neg: neg, snapshots: snapshots}
	m.order = append(m.order, negID)
	m.logger.Info().Str("negotiation_id", negID).Strs("participants", members).Msg("negotiation started")
	return neg.clone(), nil
}

// Offer records what playerID is willing to give. Offered cards must be in
// the player's hand and the money must be affordable now.
func (m *Manager) Offer(ctx context.Context, negotiationID, playerID string, cardIDs []string, money int) (Offer, error) {
	if err := ctx.Err(); err != nil {
		return Offer{}, err
	}
	if money < 0 {
		return Offer{}, apperrors.New(apperrors.CodeInvalidAmount, "offered money must not be negative")
	}
	p, err := m.players.Player(playerID)
	if err != nil {
		return Offer{}, err
	}
	if err := checkHolding(p, cardIDs, money); err != nil {
		return Offer{}, err
	}
	offerID, err := m.newID()
	if err != nil {
		return Offer{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.active(negotiationID, playerID)
	if err != nil {
		return Offer{}, err
	}
	offer := Offer{
		ID:       offerID,
		PlayerID: playerID,
		CardIDs:  slices.Clone(cardIDs),
		Money:    money,
		At:       m.now().UTC(),
	}
	rec.neg.Offers = append(rec.neg.Offers, offer)
	rec.neg.Status = StatusInProgress
	m.logger.Debug().Str("negotiation_id", negotiationID).Str("player_id", playerID).
		Strs("cards", cardIDs).Int("money", money).Msg("offer made")
	offer.CardIDs = slices.Clone(offer.CardIDs)
	return offer, nil
}

// Accept executes the latest offer made by someone other than playerID:
// the offered cards and money move from the offerer to playerID.
func (m *Manager) Accept(ctx context.Context, negotiationID, playerID string) (Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return Negotiation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.active(negotiationID, playerID)
	if err != nil {
		return Negotiation{}, err
	}
	offer, ok := rec.neg.LatestOfferFrom(playerID)
	if !ok {
		return Negotiation{}, apperrors.WithMetadata(apperrors.CodeNegotiationNotActive, "no offer to accept",
			map[string]string{"NegotiationID": negotiationID})
	}
	offerer, err := m.players.Player(offer.PlayerID)
	if err != nil {
		return Negotiation{}, err
	}
	if err := checkHolding(offerer, offer.CardIDs, offer.Money); err != nil {
		return Negotiation{}, err
	}

	source := "negotiation:" + negotiationID
	for i, cardID := range offer.CardIDs {
		if err := m.cards.TransferCard(ctx, offer.PlayerID, playerID, cardID, source); err != nil {
			m.rollback(ctx, offer.PlayerID, playerID, offer.CardIDs[:i], source)
			return Negotiation{}, err
		}
	}
	if offer.Money > 0 {
		if _, err := m.funds.SpendMoney(ctx, offer.PlayerID, offer.Money, source, "trade"); err != nil {
			m.rollback(ctx, offer.PlayerID, playerID, offer.CardIDs, source)
			return Negotiation{}, err
		}
		if _, err := m.funds.AddMoney(ctx, playerID, offer.Money, source, "trade"); err != nil {
			m.logger.Error().Err(err).Str("negotiation_id", negotiationID).Msg("credit trade money")
			return Negotiation{}, err
		}
	}
	rec.neg.Status = StatusResolved
	rec.neg.Accepted = &offer
	rec.neg.AcceptedBy = playerID
	rec.neg.ClosedAt = m.now().UTC()
	m.logger.Info().Str("negotiation_id", negotiationID).Str("offer_id", offer.ID).Str("accepted_by", playerID).Msg("negotiation resolved")
	return rec.neg.clone(), nil
}

// Cancel restores every participant's card pool to its state at Start and
// closes the negotiation.
func (m *Manager) Cancel(ctx context.Context, negotiationID string) (Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[negotiationID]
	if !ok {
		return Negotiation{}, notFound(negotiationID)
	}
	if !rec.neg.Status.Active() {
		return Negotiation{}, notActive(negotiationID, rec.neg.Status)
	}
	for _, pid := range rec.neg.Participants {
		if err := m.cards.Restore(ctx, pid, rec.snapshots[pid]); err != nil {
			return Negotiation{}, err
		}
	}
	rec.neg.Status = StatusCancelled
	rec.neg.ClosedAt = m.now().UTC()
	m.logger.Info().Str("negotiation_id", negotiationID).Msg("negotiation cancelled")
	return rec.neg.clone(), nil
}

// Get returns a negotiation by id.
func (m *Manager) Get(negotiationID string) (Negotiation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[negotiationID]
	if !ok {
		return Negotiation{}, false
	}
	return rec.neg.clone(), true
}

// List returns every negotiation in start order.
func (m *Manager) List() []Negotiation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Negotiation, 0, len(m.order))
	for _, negID := range m.order {
		out = append(out, m.byID[negID].neg.clone())
	}
	return out
}

// Active returns the ids of open negotiations, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for negID, rec := range m.byID {
		if rec.neg.Status.Active() {
			ids = append(ids, negID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) active(negotiationID, playerID string) (*record, error) {
	rec, ok := m.byID[negotiationID]
	if !ok {
		return nil, notFound(negotiationID)
	}
	if !rec.neg.Status.Active() {
		return nil, notActive(negotiationID, rec.neg.Status)
	}
	if !slices.Contains(rec.neg.Participants, playerID) {
		return nil, apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player is not part of this negotiation",
			map[string]string{"NegotiationID": negotiationID, "PlayerID": playerID})
	}
	return rec, nil
}

func (m *Manager) activeFor(playerID string) (string, bool) {
	for negID, rec := range m.byID {
		if rec.neg.Status.Active() && slices.Contains(rec.neg.Participants, playerID) {
			return negID, true
		}
	}
	return "", false
}

func (m *Manager) rollback(ctx context.Context, fromID, toID string, moved []string, source string) {
	for _, cardID := range moved {
		if err := m.cards.TransferCard(ctx, toID, fromID, cardID, source); err != nil {
			m.logger.Error().Err(err).Str("card_id", cardID).Msg("return traded card")
		}
	}
}

func checkHolding(p player.Player, cardIDs []string, money int) error {
	for _, cardID := range cardIDs {
		if _, ok := p.Hand.Find(cardID); !ok {
			return apperrors.WithMetadata(apperrors.CodeCardNotInHand, "card is not in hand",
				map[string]string{"PlayerID": p.ID, "CardID": cardID})
		}
	}
	if money > p.Money {
		return apperrors.New(apperrors.CodeInsufficientFunds, "cannot offer more money than held")
	}
	return nil
}

func notFound(negotiationID string) error {
	return apperrors.WithMetadata(apperrors.CodeNegotiationNotFound, "negotiation not found",
		map[string]string{"NegotiationID": negotiationID})
}

func notActive(negotiationID string, status Status) error {
	return apperrors.WithMetadata(apperrors.CodeNegotiationNotActive, "negotiation is closed",
		map[string]string{"NegotiationID": negotiationID, "Status": string(status)})
}
