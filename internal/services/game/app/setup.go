package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// Setup describes who plays and with what.
type Setup struct {
	Players       []SetupPlayer `yaml:"players"`
	StartingMoney int           `yaml:"starting_money"`
	Seed          int64         `yaml:"seed"`
	// TryAgainPenaltyDays is nil when the file leaves the engine default.
	TryAgainPenaltyDays *int `yaml:"try_again_penalty_days"`
	MaxTurns            int  `yaml:"max_turns"`
}

// SetupPlayer is one seat. Money overrides StartingMoney.
type SetupPlayer struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Money *int   `yaml:"money"`
}

// SetupFromNames seats one player per name.
func SetupFromNames(names []string, startingMoney int) Setup {
	s := Setup{StartingMoney: startingMoney}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			s.Players = append(s.Players, SetupPlayer{Name: name})
		}
	}
	return s
}

// LoadSetup reads a YAML setup file.
func LoadSetup(path string) (Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Setup{}, fmt.Errorf("read setup: %w", err)
	}
	return ParseSetup(data)
}

// ParseSetup decodes YAML, rejecting unknown keys.
func ParseSetup(data []byte) (Setup, error) {
	var s Setup
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Setup{}, fmt.Errorf("parse setup: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Setup{}, err
	}
	return s, nil
}

// Validate checks the roster and amounts.
func (s Setup) Validate() error {
	if len(s.Players) == 0 {
		return errors.New("setup needs at least one player")
	}
	if s.StartingMoney < 0 {
		return errors.New("starting money cannot be negative")
	}
	if s.TryAgainPenaltyDays != nil && *s.TryAgainPenaltyDays < 0 {
		return errors.New("try again penalty cannot be negative")
	}
	seen := make(map[string]bool, len(s.Players))
	for i, p := range s.Roster() {
		if seen[p.ID] {
			return fmt.Errorf("player %d: duplicate id %q", i+1, p.ID)
		}
		seen[p.ID] = true
		if p.Money < 0 {
			return fmt.Errorf("player %s: money cannot be negative", p.ID)
		}
	}
	return nil
}

// Roster builds the players in seat order. Missing ids default to p1, p2...
// and missing names to the id.
func (s Setup) Roster() []player.Player {
	out := make([]player.Player, 0, len(s.Players))
	for i, seat := range s.Players {
		p := player.Player{
			ID:    strings.TrimSpace(seat.ID),
			Name:  strings.TrimSpace(seat.Name),
			Money: s.StartingMoney,
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("p%d", i+1)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if seat.Money != nil {
			p.Money = *seat.Money
		}
		out = append(out, p)
	}
	return out
}
