// Package player defines the per-player state mutated during play.
package player

import (
	"slices"
	"strings"
)

// Visit distinguishes the first arrival on a space from later ones.
type Visit string

const (
	VisitFirst      Visit = "First"
	VisitSubsequent Visit = "Subsequent"
)

// ParseVisit normalizes the visit designation used by rule data.
func ParseVisit(raw string) (Visit, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "first":
		return VisitFirst, true
	case "subsequent":
		return VisitSubsequent, true
	}
	return "", false
}

// CardType is the single-letter card family.
type CardType string

const (
	CardWork      CardType = "W"
	CardBank      CardType = "B"
	CardInvestor  CardType = "I"
	CardLife      CardType = "L"
	CardExpeditor CardType = "E"
)

// CardTypes lists every card family in display order.
var CardTypes = []CardType{CardWork, CardBank, CardInvestor, CardLife, CardExpeditor}

// ParseCardType accepts "W", "w", "W cards" and similar.
func ParseCardType(raw string) (CardType, bool) {
	if raw == "" {
		return "", false
	}
	letter := CardType(strings.ToUpper(raw[:1]))
	if slices.Contains(CardTypes, letter) {
		return letter, true
	}
	return "", false
}

// Hand groups held card ids by type.
type Hand map[CardType][]string

// ActiveCard is a played card whose effect lasts several turns.
type ActiveCard struct {
	CardID string
	// ExpiresAfterTurn is the owner's turn number after which the card is discarded.
	ExpiresAfterTurn int
}

// Loan is an outstanding loan.
type Loan struct {
	ID          string
	Principal   int
	RatePercent float64
	Turn        int
}

// Player is one participant's mutable state.
type Player struct {
	ID    string
	Name  string
	Space string
	Visit Visit
	// VisitedSpaces is the arrival history, oldest first.
	VisitedSpaces []string

	Money        int
	TimeSpent    int
	ProjectScope int

	Hand        Hand
	ActiveCards []ActiveCard
	Loans       []Loan

	SkipTurns       int
	ReRollAvailable bool
	// TurnsTaken counts completed turns for this player.
	TurnsTaken int
}

// Clone returns a deep copy.
func (p Player) Clone() Player {
	cloned := p
	cloned.VisitedSpaces = slices.Clone(p.VisitedSpaces)
	cloned.Hand = p.Hand.Clone()
	cloned.ActiveCards = slices.Clone(p.ActiveCards)
	cloned.Loans = slices.Clone(p.Loans)
	return cloned
}

// Clone returns a deep copy of the hand.
func (h Hand) Clone() Hand {
	if h == nil {
		return nil
	}
	cloned := make(Hand, len(h))
	for cardType, ids := range h {
		cloned[cardType] = slices.Clone(ids)
	}
	return cloned
}

// Count returns the number of held cards of one type.
func (h Hand) Count(cardType CardType) int {
	return len(h[cardType])
}

// Total returns the number of held cards.
func (h Hand) Total() int {
	total := 0
	for _, ids := range h {
		total += len(ids)
	}
	return total
}

// Find reports the type of a held card.
func (h Hand) Find(cardID string) (CardType, bool) {
	for cardType, ids := range h {
		if slices.Contains(ids, cardID) {
			return cardType, true
		}
	}
	return "", false
}

// Add appends a card to the hand, allocating as needed.
func (p *Player) Add(cardType CardType, cardID string) {
	if p.Hand == nil {
		p.Hand = Hand{}
	}
	p.Hand[cardType] = append(p.Hand[cardType], cardID)
}

// Remove drops a card from the hand and reports whether it was held.
func (p *Player) Remove(cardID string) (CardType, bool) {
	cardType, ok := p.Hand.Find(cardID)
	if !ok {
		return "", false
	}
	ids := p.Hand[cardType]
	idx := slices.Index(ids, cardID)
	p.Hand[cardType] = slices.Delete(ids, idx, idx+1)
	return cardType, true
}

// HasVisited reports whether the space appears in the arrival history.
func (p Player) HasVisited(space string) bool {
	return slices.Contains(p.VisitedSpaces, space)
}

// LoanTotal sums outstanding loan principals.
func (p Player) LoanTotal() int {
	total := 0
	for _, loan := range p.Loans {
		total += loan.Principal
	}
	return total
}
