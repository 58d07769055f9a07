package effect

import (
	"context"
	"testing"

	"github.com/tomaszsb/code2027/internal/platform/id"
	"github.com/tomaszsb/code2027/internal/services/game/domain/cards"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/movement"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
)

type fakeChooser struct {
	answer   string
	requests []choice.Request
}

func (c *fakeChooser) Ask(_ context.Context, req choice.Request) (choice.Choice, string, error) {
	c.requests = append(c.requests, req)
	return choice.Choice{ID: "c1", PlayerID: req.PlayerID}, c.answer, nil
}

type fakeTurns struct {
	endRequests  []string
	destinations map[string]string
}

func (f *fakeTurns) RequestEndTurn(_ context.Context, playerID string) error {
	f.endRequests = append(f.endRequests, playerID)
	return nil
}

func (f *fakeTurns) SelectDestination(_ context.Context, playerID, destination string) error {
	if f.destinations == nil {
		f.destinations = make(map[string]string)
	}
	f.destinations[playerID] = destination
	return nil
}

type fixture struct {
	store    *gamestate.Store
	catalog  *rules.Catalog
	inv      *cards.Inventory
	chooser  *fakeChooser
	turns    *fakeTurns
	journal  *journal.Memory
	resolver *Resolver
}

func newFixture(t *testing.T, defs ...rules.CardDefinition) *fixture {
	t.Helper()
	catalog := rules.NewCatalog()
	for _, def := range defs {
		if err := catalog.AddCard(def); err != nil {
			t.Fatalf("add card: %v", err)
		}
	}
	store := gamestate.NewStore(gamestate.State{
		Status: gamestate.StatusActive,
		Turn:   1,
		Players: []player.Player{
			{ID: "p1", Space: "START", Visit: player.VisitFirst, Money: 1000, Hand: player.Hand{}},
			{ID: "p2", Space: "START", Visit: player.VisitFirst, Money: 1000, Hand: player.Hand{}},
			{ID: "p3", Space: "START", Visit: player.VisitFirst, Money: 1000, Hand: player.Hand{}},
		},
	})
	l, err := ledger.New(store, ledger.WithIDGenerator(id.Sequence("tx")))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	inv, err := cards.New(store, catalog, 3, cards.WithFunding(l))
	if err != nil {
		t.Fatalf("new inventory: %v", err)
	}
	mv, err := movement.NewResolver(catalog)
	if err != nil {
		t.Fatalf("new movement: %v", err)
	}
	f := &fixture{
		store:   store,
		catalog: catalog,
		inv:     inv,
		chooser: &fakeChooser{answer: "0"},
		turns:   &fakeTurns{},
		journal: journal.NewMemory(),
	}
	r, err := NewResolver(Deps{
		Players:   store,
		Ledger:    l,
		Inventory: inv,
		Chooser:   f.chooser,
		Movement:  mv,
		Journal:   f.journal,
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	r.SetTurnController(f.turns)
	f.resolver = r
	return f
}

func (f *fixture) player(t *testing.T, id string) player.Player {
	t.Helper()
	p, err := f.store.Player(id)
	if err != nil {
		t.Fatalf("player %s: %v", id, err)
	}
	return p
}

var ec = Context{Source: "space:START", PlayerID: "p1"}

func TestNewResolverRequiresCollaborators(t *testing.T) {
	if _, err := NewResolver(Deps{}); err != ErrPlayersRequired {
		t.Fatalf("err = %v, want ErrPlayersRequired", err)
	}
	store := gamestate.NewStore(gamestate.State{})
	if _, err := NewResolver(Deps{Players: store}); err != ErrLedgerRequired {
		t.Fatalf("err = %v, want ErrLedgerRequired", err)
	}
}

func TestPercentFeeUsesBalanceAtExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := f.resolver.Process(ctx, []Effect{
		ResourceChange{Resource: ledger.Money, Amount: PercentOfMoney(-5), Reason: "leaving fee"},
	}, ec)
	if !batch.Success {
		t.Fatalf("batch failed: %v", batch.Errors)
	}
	if got := f.player(t, "p1").Money; got != 950 {
		t.Fatalf("money = %d, want 950", got)
	}

	batch = f.resolver.Process(ctx, []Effect{
		ResourceChange{Resource: ledger.Money, Amount: Fixed(1050)},
		ResourceChange{Resource: ledger.Money, Amount: PercentOfMoney(-10)},
	}, ec)
	if !batch.Success {
		t.Fatalf("batch failed: %v", batch.Errors)
	}
	if got := f.player(t, "p1").Money; got != 1800 {
		t.Fatalf("money = %d, want 1800", got)
	}
	if got := batch.Results[1].Amount; got != -200 {
		t.Fatalf("fee amount = %d, want -200", got)
	}
}

func TestInsufficientFundsIsNonFatal(t *testing.T) {
	f := newFixture(t)
	batch := f.resolver.Process(context.Background(), []Effect{
		ResourceChange{Resource: ledger.Money, Amount: Fixed(-1500)},
		ResourceChange{Resource: ledger.Time, Amount: Fixed(2)},
	}, ec)

	if batch.Success {
		t.Fatal("expected batch failure")
	}
	if batch.TotalEffects != 2 || batch.SuccessfulEffects != 1 || batch.FailedEffects != 1 {
		t.Fatalf("batch counts = %+v", batch)
	}
	first := batch.Results[0]
	if first.Fatal || first.Shortfall != 500 {
		t.Fatalf("first = %+v, want non-fatal shortfall 500", first)
	}
	p := f.player(t, "p1")
	if p.Money != 1000 || p.TimeSpent != 2 {
		t.Fatalf("player = money %d time %d, want 1000/2", p.Money, p.TimeSpent)
	}
}

func TestBatchCountsAlwaysAddUp(t *testing.T) {
	f := newFixture(t)
	effects := []Effect{
		Log{Message: "hello"},
		CardDraw{CardType: player.CardWork, Count: 1},
		ResourceChange{Resource: ledger.Money, Amount: Fixed(-5000)},
		TurnControl{Action: SkipTurn},
	}
	batch := f.resolver.Process(context.Background(), effects, ec)
	if batch.TotalEffects != batch.SuccessfulEffects+batch.FailedEffects {
		t.Fatalf("counts = %+v", batch)
	}
	if batch.Success != (batch.FailedEffects == 0) {
		t.Fatalf("success = %v with %d failures", batch.Success, batch.FailedEffects)
	}
	if len(batch.Errors) != batch.FailedEffects {
		t.Fatalf("errors = %v, want %d", batch.Errors, batch.FailedEffects)
	}
}

func TestChoiceAppliesOnlySelectedBranch(t *testing.T) {
	f := newFixture(t)
	c := Choice{
		Prompt: "Pay or wait?",
		Branches: []Branch{
			{Label: "Pay", Effects: []Effect{ResourceChange{Resource: ledger.Money, Amount: Fixed(-100)}}},
			{Label: "Wait", Effects: []Effect{ResourceChange{Resource: ledger.Time, Amount: Fixed(5)}}},
		},
	}

	res := f.resolver.ProcessOne(context.Background(), c, ec)
	if !res.Success || res.Selected != "0" {
		t.Fatalf("result = %+v", res)
	}
	if res.Nested == nil || res.Nested.TotalEffects != 1 {
		t.Fatalf("nested = %+v", res.Nested)
	}
	p := f.player(t, "p1")
	if p.Money != 900 || p.TimeSpent != 0 {
		t.Fatalf("player = money %d time %d, want 900/0", p.Money, p.TimeSpent)
	}
	if len(f.chooser.requests) != 1 || len(f.chooser.requests[0].Options) != 2 {
		t.Fatalf("requests = %+v", f.chooser.requests)
	}
}

func TestChoiceOutOfRangeIsFatalWithoutMutation(t *testing.T) {
	f := newFixture(t)
	f.chooser.answer = "7"
	before := f.player(t, "p1")

	batch := f.resolver.Process(context.Background(), []Effect{
		ResourceChange{Resource: ledger.Money, Amount: Fixed(10)},
		Choice{Prompt: "?", Branches: []Branch{
			{Label: "A", Effects: []Effect{ResourceChange{Resource: ledger.Money, Amount: Fixed(-100)}}},
			{Label: "B", Effects: []Effect{ResourceChange{Resource: ledger.Time, Amount: Fixed(1)}}},
		}},
	}, ec)

	res := batch.Results[1]
	if !res.Fatal || res.Message != MsgInvalidChoice {
		t.Fatalf("result = %+v, want fatal invalid choice", res)
	}
	if !batch.Results[0].Success {
		t.Fatal("earlier sibling should stay applied")
	}
	p := f.player(t, "p1")
	if p.Money != before.Money+10 || p.TimeSpent != before.TimeSpent {
		t.Fatalf("player = money %d time %d", p.Money, p.TimeSpent)
	}
}

func TestDrawFromEmptySupply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.resolver.ProcessOne(ctx, CardDraw{CardType: player.CardBank, Count: 1}, ec)
	if !res.Success || res.Fatal || len(res.CardIDs) != 0 {
		t.Fatalf("draw = %+v, want successful empty draw", res)
	}
	res = f.resolver.ProcessOne(ctx, CardDrawAndApply{CardType: player.CardBank, Count: 1}, ec)
	if !res.Success || len(res.CardIDs) != 0 {
		t.Fatalf("draw and apply = %+v, want successful no-op", res)
	}
	if got := f.player(t, "p1").Money; got != 1000 {
		t.Fatalf("money = %d, want 1000", got)
	}
}

func TestDrawAndApplyFundsPlayer(t *testing.T) {
	f := newFixture(t, rules.CardDefinition{ID: "B1", Type: player.CardBank, LoanAmount: 500, LoanRate: 5})
	res := f.resolver.ProcessOne(context.Background(), CardDrawAndApply{CardType: player.CardBank, Count: 1}, ec)
	if !res.Success || res.Amount != 500 {
		t.Fatalf("result = %+v", res)
	}
	p := f.player(t, "p1")
	if p.Money != 1500 || len(p.Loans) != 1 || p.Hand.Count(player.CardBank) != 0 {
		t.Fatalf("player = %+v", p)
	}
}

func TestCardTransferByDirection(t *testing.T) {
	f := newFixture(t, rules.CardDefinition{ID: "L1", Type: player.CardLife})
	ctx := context.Background()
	if _, err := f.inv.DrawCards(ctx, "p1", player.CardLife, 1, "test", "setup"); err != nil {
		t.Fatalf("draw: %v", err)
	}

	res := f.resolver.ProcessOne(ctx, CardTransfer{CardType: player.CardLife, Count: 1, Direction: condition.ToRight}, ec)
	if !res.Success || len(res.CardIDs) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := f.player(t, "p3").Hand.Count(player.CardLife); got != 1 {
		t.Fatalf("p3 life cards = %d, want 1", got)
	}
}

func TestCardPlayExpandsDefinition(t *testing.T) {
	f := newFixture(t, rules.CardDefinition{ID: "E1", Type: player.CardExpeditor, Cost: 100, TimeEffect: 2})
	ctx := context.Background()
	if _, err := f.inv.DrawCards(ctx, "p1", player.CardExpeditor, 1, "test", "setup"); err != nil {
		t.Fatalf("draw: %v", err)
	}

	res := f.resolver.ProcessOne(ctx, CardPlay{CardID: "E1"}, ec)
	if !res.Success || res.Nested == nil || res.Nested.TotalEffects != 2 {
		t.Fatalf("result = %+v", res)
	}
	p := f.player(t, "p1")
	if p.Money != 900 || p.TimeSpent != 2 || p.Hand.Count(player.CardExpeditor) != 0 {
		t.Fatalf("player = %+v", p)
	}
}

func TestCardReplaceAsksForCard(t *testing.T) {
	f := newFixture(t,
		rules.CardDefinition{ID: "W1", Type: player.CardWork},
		rules.CardDefinition{ID: "W2", Type: player.CardWork},
		rules.CardDefinition{ID: "W3", Type: player.CardWork},
	)
	ctx := context.Background()
	drawn, err := f.inv.DrawCards(ctx, "p1", player.CardWork, 2, "test", "setup")
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	f.chooser.answer = drawn[1]

	res := f.resolver.ProcessOne(ctx, CardReplace{CardType: player.CardWork, Count: 1}, ec)
	if !res.Success || len(res.CardIDs) != 1 {
		t.Fatalf("result = %+v", res)
	}
	req := f.chooser.requests[0]
	if req.Category != choice.CategoryCardReplacement || req.Metadata["card_type"] != "W" {
		t.Fatalf("request = %+v", req)
	}
	hand := f.player(t, "p1").Hand
	if _, held := hand.Find(drawn[1]); held {
		t.Fatalf("replaced card %s still held", drawn[1])
	}
	if hand.Count(player.CardWork) != 2 {
		t.Fatalf("hand = %v, want 2 work cards", hand)
	}
}

func TestTurnControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := f.resolver.Process(ctx, []Effect{
		TurnControl{Action: GrantReRoll},
		TurnControl{Action: SkipTurn},
		TurnControl{Action: EndTurn},
	}, ec)
	if !batch.Success {
		t.Fatalf("batch = %+v", batch)
	}
	p := f.player(t, "p1")
	if !p.ReRollAvailable || p.SkipTurns != 1 {
		t.Fatalf("player = %+v", p)
	}
	if len(f.turns.endRequests) != 1 {
		t.Fatalf("end requests = %v", f.turns.endRequests)
	}
}

func TestMovementResolvesChoiceThroughChooser(t *testing.T) {
	f := newFixture(t)
	f.catalog.SetMovement(rules.MovementRow{
		Space:        "START",
		Visit:        player.VisitFirst,
		Kind:         rules.MovementChoice,
		Destinations: []string{"A", "B"},
	})
	f.chooser.answer = "B"

	res := f.resolver.ProcessOne(context.Background(), Movement{}, ec)
	if !res.Success || res.Selected != "B" {
		t.Fatalf("result = %+v", res)
	}
	if got := f.turns.destinations["p1"]; got != "B" {
		t.Fatalf("destination = %q, want B", got)
	}
	if f.chooser.requests[0].Category != choice.CategoryMovement {
		t.Fatalf("category = %q", f.chooser.requests[0].Category)
	}
}

func TestLogEffectsAreJournaled(t *testing.T) {
	f := newFixture(t)
	f.resolver.Process(context.Background(), []Effect{
		Log{Message: "arrived"},
		Log{Message: "bad row", Warning: true},
	}, ec)
	entries := f.journal.List(0, 0)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != journal.KindLog || entries[1].Kind != journal.KindWarning {
		t.Fatalf("kinds = %s, %s", entries[0].Kind, entries[1].Kind)
	}
	if got := f.player(t, "p1").Money; got != 1000 {
		t.Fatalf("money = %d, log must not mutate", got)
	}
}
