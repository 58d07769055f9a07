package movement

import (
	"testing"

	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

func testCatalog() *rules.Catalog {
	c := rules.NewCatalog()
	_ = c.AddSpace(rules.SpaceConfig{Name: "START", Starting: true})
	_ = c.AddSpace(rules.SpaceConfig{Name: "FORK"})
	_ = c.AddSpace(rules.SpaceConfig{Name: "ROLL"})
	_ = c.AddSpace(rules.SpaceConfig{Name: "END", Ending: true})
	c.SetMovement(rules.MovementRow{Space: "START", Visit: player.VisitFirst, Kind: rules.MovementFixed, Destinations: []string{"FORK"}})
	c.SetMovement(rules.MovementRow{Space: "FORK", Visit: player.VisitFirst, Destinations: []string{"ROLL", "END"}})
	c.SetDiceOutcomes(rules.DiceOutcomeRow{Space: "ROLL", Visit: player.VisitFirst, Destinations: [6]string{"FORK", "FORK", "FORK", "END", "END", "END"}})
	c.SetMovement(rules.MovementRow{Space: "END", Visit: player.VisitFirst, Destinations: []string{"START"}})
	return c
}

func TestResolve(t *testing.T) {
	r, err := NewResolver(testCatalog())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	tests := []struct {
		space   string
		visit   player.Visit
		kind    rules.MovementKind
		options int
	}{
		{space: "START", visit: player.VisitFirst, kind: rules.MovementFixed, options: 1},
		{space: "FORK", visit: player.VisitFirst, kind: rules.MovementChoice, options: 2},
		{space: "ROLL", visit: player.VisitFirst, kind: rules.MovementDice, options: 2},
		{space: "END", visit: player.VisitFirst, kind: rules.MovementNone},
		{space: "START", visit: player.VisitSubsequent, kind: rules.MovementNone},
	}
	for _, tt := range tests {
		got := r.Resolve(tt.space, tt.visit)
		if got.Kind != tt.kind || len(got.Options) != tt.options {
			t.Fatalf("Resolve(%s, %s) = %+v, want kind %s with %d options", tt.space, tt.visit, got, tt.kind, tt.options)
		}
	}
}

func TestDestinationsHelpers(t *testing.T) {
	r, _ := NewResolver(testCatalog())

	fixed := r.Resolve("START", player.VisitFirst)
	if dest, ok := fixed.Single(); !ok || dest != "FORK" {
		t.Fatalf("Single() = %q, %v", dest, ok)
	}

	byDice := r.Resolve("ROLL", player.VisitFirst)
	if dest, ok := byDice.ForRoll(5); !ok || dest != "END" {
		t.Fatalf("ForRoll(5) = %q, %v", dest, ok)
	}
	if _, ok := byDice.ForRoll(0); ok {
		t.Fatal("ForRoll(0) should fail")
	}
	if !byDice.Allows("FORK") || byDice.Allows("START") {
		t.Fatal("Allows disagrees with dice table")
	}
}

func TestNewResolverRequiresRules(t *testing.T) {
	if _, err := NewResolver(nil); err != ErrRulesRequired {
		t.Fatalf("err = %v, want ErrRulesRequired", err)
	}
}
