package turn

import (
	"context"
	"testing"

	"go.uber.org/mock/gomock"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/platform/id"
	"github.com/tomaszsb/code2027/internal/services/game/domain/cards"
	"github.com/tomaszsb/code2027/internal/services/game/domain/choice"
	"github.com/tomaszsb/code2027/internal/services/game/domain/condition"
	"github.com/tomaszsb/code2027/internal/services/game/domain/effect"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/domain/movement"
	"github.com/tomaszsb/code2027/internal/services/game/domain/negotiation"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
	"github.com/tomaszsb/code2027/internal/services/game/domain/rules"
	"github.com/tomaszsb/code2027/internal/services/game/domain/snapshot"
	"github.com/tomaszsb/code2027/internal/services/game/domain/turn/turnmock"
)

const manualDraw = "cards:draw_e"

type fixture struct {
	engine    *Engine
	catalog   *rules.Catalog
	store     *gamestate.Store
	snapshots *snapshot.Manager
	journal   *journal.Memory
	roller    *turnmock.MockRoller
	win       *turnmock.MockWinChecker
}

// testBoard is START -> MIDDLE -> (dice) START or FINISH.
func testBoard(t *testing.T) *rules.Catalog {
	t.Helper()
	c := rules.NewCatalog()
	for _, cfg := range []rules.SpaceConfig{
		{Name: "START", Starting: true},
		{Name: "MIDDLE", RequiresDiceRoll: true},
		{Name: "FINISH", Ending: true},
	} {
		if err := c.AddSpace(cfg); err != nil {
			t.Fatalf("add space: %v", err)
		}
	}
	c.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitFirst, Category: "money", Action: "add", Value: "$1000", Description: "Seed funding", Trigger: rules.TriggerAuto})
	c.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitFirst, Category: "cards", Action: "draw_e", Value: "1", Description: "Draw an expeditor card", Trigger: rules.TriggerManual})
	c.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitFirst, Category: "time", Action: "add", Value: "2", Description: "Planning", Trigger: rules.TriggerAuto})
	c.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitSubsequent, Category: "money", Action: "add", Value: "$10", Trigger: rules.TriggerAuto})
	c.AddEffect(rules.EffectRow{Space: "MIDDLE", Visit: player.VisitFirst, Category: "cards", Action: "draw_e", Value: "1", Condition: "dice_roll_6", Trigger: rules.TriggerAuto})
	c.AddDiceEffect(rules.DiceEffectRow{Space: "MIDDLE", Visit: player.VisitFirst, Category: "money", Rolls: [6]string{"$100", "$200", "$300", "$400", "$500", "$600"}})
	for _, visit := range []player.Visit{player.VisitFirst, player.VisitSubsequent} {
		c.SetMovement(rules.MovementRow{Space: "START", Visit: visit, Kind: rules.MovementFixed, Destinations: []string{"MIDDLE"}})
		c.SetDiceOutcomes(rules.DiceOutcomeRow{Space: "MIDDLE", Visit: visit, Destinations: [6]string{"START", "START", "START", "FINISH", "FINISH", "FINISH"}})
	}
	for _, cardID := range []string{"E1", "E2", "E3"} {
		if err := c.AddCard(rules.CardDefinition{ID: cardID, Name: "Expedite " + cardID, Type: player.CardExpeditor, Cost: 100, TimeEffect: -1}); err != nil {
			t.Fatalf("add card: %v", err)
		}
	}
	return c
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	catalog := testBoard(t)
	store := gamestate.NewStore(gamestate.State{Status: gamestate.StatusSetup})
	l, err := ledger.New(store, ledger.WithIDGenerator(id.Sequence("tx")))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	inv, err := cards.New(store, catalog, 11, cards.WithFunding(l))
	if err != nil {
		t.Fatalf("new inventory: %v", err)
	}
	mv, err := movement.NewResolver(catalog)
	if err != nil {
		t.Fatalf("new movement: %v", err)
	}
	broker := choice.NewBroker()
	j := journal.NewMemory()
	resolver, err := effect.NewResolver(effect.Deps{
		Players:   store,
		Ledger:    l,
		Inventory: inv,
		Chooser:   broker,
		Movement:  mv,
		Journal:   j,
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	negotiations, err := negotiation.NewManager(store, inv, l)
	if err != nil {
		t.Fatalf("new negotiations: %v", err)
	}
	snaps := snapshot.NewManager()
	f := fixture{
		catalog:   catalog,
		store:     store,
		snapshots: snaps,
		journal:   j,
		roller:    turnmock.NewMockRoller(ctrl),
		win:       turnmock.NewMockWinChecker(ctrl),
	}
	f.engine, err = NewEngine(Deps{
		Store:        store,
		Rules:        catalog,
		Ledger:       l,
		Inventory:    inv,
		Resolver:     resolver,
		Conditions:   condition.NewEvaluator(),
		Movement:     mv,
		Choices:      broker,
		Snapshots:    snaps,
		Negotiations: negotiations,
		Journal:      j,
		Dice:         f.roller,
		Win:          f.win,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return f
}

func (f fixture) start(t *testing.T, ids ...string) Start {
	t.Helper()
	players := make([]player.Player, len(ids))
	for i, pid := range ids {
		players[i] = player.Player{ID: pid, Name: pid}
	}
	start, err := f.engine.StartGame(context.Background(), players)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	return start
}

func (f fixture) player(t *testing.T, pid string) player.Player {
	t.Helper()
	p, err := f.store.Player(pid)
	if err != nil {
		t.Fatalf("player %s: %v", pid, err)
	}
	return p
}

// finishFirstTurn completes the START turn for the current player.
func (f fixture) finishFirstTurn(t *testing.T, pid string) EndOutcome {
	t.Helper()
	ctx := context.Background()
	if _, err := f.engine.TriggerManualEffect(ctx, pid, manualDraw); err != nil {
		t.Fatalf("manual effect: %v", err)
	}
	out, err := f.engine.EndTurn(ctx, pid)
	if err != nil {
		t.Fatalf("end turn: %v", err)
	}
	return out
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	if _, err := NewEngine(Deps{}); err != ErrStoreRequired {
		t.Fatalf("err = %v, want ErrStoreRequired", err)
	}
	store := gamestate.NewStore(gamestate.State{})
	if _, err := NewEngine(Deps{Store: store, Rules: rules.NewCatalog()}); err != ErrResolverRequired {
		t.Fatalf("err = %v, want ErrResolverRequired", err)
	}
}

func TestStartGameRunsArrivalThenSnapshot(t *testing.T) {
	f := newFixture(t)
	start := f.start(t, "p1", "p2")

	if start.PlayerID != "p1" || start.Space != "START" || start.Visit != player.VisitFirst {
		t.Fatalf("start = %+v", start)
	}
	if !start.Arrival.Success || start.Arrival.TotalEffects != 1 {
		t.Fatalf("arrival = %+v, want one successful effect", start.Arrival)
	}
	if start.RequiredActions != 1 {
		t.Fatalf("required = %d, want 1", start.RequiredActions)
	}
	st := f.engine.State()
	if st.Status != gamestate.StatusActive || st.Phase != gamestate.PhaseAwaitingActions || st.Turn != 1 {
		t.Fatalf("state = %s/%s turn %d", st.Status, st.Phase, st.Turn)
	}
	if got := f.player(t, "p1").Money; got != 1000 {
		t.Fatalf("money = %d, want 1000", got)
	}
	snap, err := f.snapshots.Restore(context.Background(), "p1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Player().Money != 1000 {
		t.Fatalf("snapshot money = %d, want post-arrival 1000", snap.Player().Money)
	}
	if got := f.player(t, "p2").Money; got != 0 {
		t.Fatalf("p2 money = %d, arrival must only run for p1", got)
	}
}

func TestActionsAreRejectedOutOfTurn(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	ctx := context.Background()

	if _, err := f.engine.RollDice(ctx, "p2"); !apperrors.HasCode(err, apperrors.CodeNotCurrentPlayer) {
		t.Fatalf("roll err = %v, want NOT_CURRENT_PLAYER", err)
	}
	if _, err := f.engine.EndTurn(ctx, "p2"); !apperrors.HasCode(err, apperrors.CodeNotCurrentPlayer) {
		t.Fatalf("end err = %v, want NOT_CURRENT_PLAYER", err)
	}
	if _, err := f.engine.TryAgain(ctx, "p2"); !apperrors.HasCode(err, apperrors.CodeNotCurrentPlayer) {
		t.Fatalf("try again err = %v, want NOT_CURRENT_PLAYER", err)
	}
}

func TestActionsRejectedBeforeStart(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.EndTurn(context.Background(), "p1"); !apperrors.HasCode(err, apperrors.CodeGameNotActive) {
		t.Fatalf("err = %v, want GAME_NOT_ACTIVE", err)
	}
}

func TestEndTurnRequiresCompletedActions(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	before := f.engine.State()

	_, err := f.engine.EndTurn(context.Background(), "p1")
	if !apperrors.HasCode(err, apperrors.CodeActionsIncomplete) {
		t.Fatalf("err = %v, want ACTIONS_INCOMPLETE", err)
	}
	after := f.engine.State()
	if after.CurrentIndex != before.CurrentIndex || after.Phase != before.Phase {
		t.Fatalf("state changed: %+v", after)
	}
	if got := f.player(t, "p1").TimeSpent; got != 0 {
		t.Fatalf("time = %d, leaving effects must not run", got)
	}
}

func TestManualEffectAppliesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	ctx := context.Background()

	first, err := f.engine.TriggerManualEffect(ctx, "p1", manualDraw)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.AlreadySatisfied || !first.Effects.Success {
		t.Fatalf("first = %+v", first)
	}
	second, err := f.engine.TriggerManualEffect(ctx, "p1", manualDraw)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.AlreadySatisfied || second.Effects.TotalEffects != 0 {
		t.Fatalf("second = %+v, want already satisfied", second)
	}
	if got := f.player(t, "p1").Hand.Count(player.CardExpeditor); got != 1 {
		t.Fatalf("expeditor cards = %d, want 1", got)
	}
	if got := f.engine.State().CompletedCount(); got != 1 {
		t.Fatalf("completed = %d, want 1", got)
	}
	if _, err := f.engine.TriggerManualEffect(ctx, "p1", "money:steal"); !apperrors.HasCode(err, apperrors.CodeUnknownManualAction) {
		t.Fatalf("err = %v, want UNKNOWN_MANUAL_ACTION", err)
	}
}

func TestEndTurnAppliesLeavingCostsAndMoves(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	f.win.EXPECT().Check(gomock.Any()).Return("", false)

	out := f.finishFirstTurn(t, "p1")

	if out.From != "START" || out.Destination != "MIDDLE" || out.GameOver {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Leaving.TotalEffects != 1 || !out.Leaving.Success {
		t.Fatalf("leaving = %+v", out.Leaving)
	}
	p := f.player(t, "p1")
	if p.TimeSpent != 2 || p.Space != "MIDDLE" || p.Visit != player.VisitFirst || p.TurnsTaken != 1 {
		t.Fatalf("player = %+v", p)
	}
	if len(p.VisitedSpaces) != 2 || p.VisitedSpaces[1] != "MIDDLE" {
		t.Fatalf("visited = %v", p.VisitedSpaces)
	}
	if f.snapshots.Has("p1") {
		t.Fatal("snapshot should be cleared")
	}
	st := f.engine.State()
	if out.Next == nil || out.Next.PlayerID != "p2" || st.CurrentIndex != 1 || st.Turn != 2 {
		t.Fatalf("next = %+v, state index %d turn %d", out.Next, st.CurrentIndex, st.Turn)
	}
	if len(st.CompletedActions) != 0 || st.RolledThisTurn {
		t.Fatalf("turn flags not reset: %+v", st)
	}
}

func TestDiceSpaceRollMovesAndWins(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1")
	gomock.InOrder(
		f.win.EXPECT().Check(gomock.Any()).Return("", false),
		f.win.EXPECT().Check(gomock.Any()).Return("p1", true),
	)
	f.roller.EXPECT().RollD6().Return(5)
	ctx := context.Background()

	out := f.finishFirstTurn(t, "p1")
	if out.Next == nil || out.Next.PlayerID != "p1" || out.Next.RequiredActions != 1 {
		t.Fatalf("next = %+v, want p1 needing a roll", out.Next)
	}
	if _, err := f.engine.EndTurn(ctx, "p1"); !apperrors.HasCode(err, apperrors.CodeActionsIncomplete) {
		t.Fatalf("err = %v, want ACTIONS_INCOMPLETE before rolling", err)
	}

	roll, err := f.engine.RollDice(ctx, "p1")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if roll.Roll != 5 || !roll.Effects.Success || roll.Effects.TotalEffects != 1 {
		t.Fatalf("roll = %+v", roll)
	}
	if got := f.player(t, "p1").Money; got != 1500 {
		t.Fatalf("money = %d, want 1500", got)
	}
	if _, err := f.engine.RollDice(ctx, "p1"); !apperrors.HasCode(err, apperrors.CodeDiceAlreadyRolled) {
		t.Fatalf("err = %v, want DICE_ALREADY_ROLLED", err)
	}

	end, err := f.engine.EndTurn(ctx, "p1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if end.Destination != "FINISH" || !end.GameOver || end.WinnerID != "p1" || end.Next != nil {
		t.Fatalf("end = %+v", end)
	}
	st := f.engine.State()
	if st.Status != gamestate.StatusGameOver || st.WinnerID != "p1" {
		t.Fatalf("state = %s winner %q", st.Status, st.WinnerID)
	}
	if _, err := f.engine.RollDice(ctx, "p1"); !apperrors.HasCode(err, apperrors.CodeGameNotActive) {
		t.Fatalf("err = %v, want GAME_NOT_ACTIVE", err)
	}
}

func TestDiceConditionedRowsApplyOnMatchingRoll(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1")
	f.win.EXPECT().Check(gomock.Any()).Return("", false)
	f.roller.EXPECT().RollD6().Return(6)
	f.finishFirstTurn(t, "p1")

	roll, err := f.engine.RollDice(context.Background(), "p1")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if roll.Effects.TotalEffects != 2 {
		t.Fatalf("effects = %+v, want dice row and dice table", roll.Effects)
	}
	if got := f.player(t, "p1").Hand.Count(player.CardExpeditor); got != 2 {
		t.Fatalf("expeditor cards = %d, want 2", got)
	}
}

func TestReRollReplacesOutcomeOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1")
	f.win.EXPECT().Check(gomock.Any()).Return("", false)
	gomock.InOrder(
		f.roller.EXPECT().RollD6().Return(1),
		f.roller.EXPECT().RollD6().Return(4),
	)
	ctx := context.Background()
	f.finishFirstTurn(t, "p1")

	if _, err := f.engine.ReRoll(ctx, "p1"); !apperrors.HasCode(err, apperrors.CodeReRollUnavailable) {
		t.Fatalf("err = %v, want REROLL_UNAVAILABLE before rolling", err)
	}
	if err := f.store.UpdatePlayer(ctx, "p1", func(p *player.Player) error {
		p.ReRollAvailable = true
		return nil
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := f.engine.RollDice(ctx, "p1"); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if got := f.player(t, "p1").Money; got != 1100 {
		t.Fatalf("money after first roll = %d, want 1100", got)
	}

	again, err := f.engine.ReRoll(ctx, "p1")
	if err != nil {
		t.Fatalf("reroll: %v", err)
	}
	if again.Roll != 4 || f.engine.State().Dice != 4 {
		t.Fatalf("reroll = %+v", again)
	}
	p := f.player(t, "p1")
	if p.Money != 1400 || p.ReRollAvailable {
		t.Fatalf("player = money %d reroll %v, want 1400/false", p.Money, p.ReRollAvailable)
	}
	if _, err := f.engine.ReRoll(ctx, "p1"); !apperrors.HasCode(err, apperrors.CodeReRollUnavailable) {
		t.Fatalf("err = %v, want REROLL_UNAVAILABLE on second use", err)
	}
}

func TestReRollKeepsActionsCompletedAfterRoll(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddDiceEffect(rules.DiceEffectRow{Space: "START", Visit: player.VisitFirst, Category: "money", Rolls: [6]string{"$100", "$200", "$300", "$400", "$500", "$600"}})
	f.catalog.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitFirst, Category: "cards", Action: "draw_e", Value: "1", Condition: "dice_roll_1", Trigger: rules.TriggerAuto})
	f.start(t, "p1", "p2")
	gomock.InOrder(
		f.roller.EXPECT().RollD6().Return(1),
		f.roller.EXPECT().RollD6().Return(4),
	)
	ctx := context.Background()
	if err := f.store.UpdatePlayer(ctx, "p1", func(p *player.Player) error {
		p.ReRollAvailable = true
		return nil
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if _, err := f.engine.RollDice(ctx, "p1"); err != nil {
		t.Fatalf("roll: %v", err)
	}
	rolled := f.player(t, "p1").Hand[player.CardExpeditor]
	if len(rolled) != 1 {
		t.Fatalf("hand after roll = %v, want the rolled card", rolled)
	}
	if _, err := f.engine.TriggerManualEffect(ctx, "p1", manualDraw); err != nil {
		t.Fatalf("manual effect: %v", err)
	}
	var drawn string
	for _, cardID := range f.player(t, "p1").Hand[player.CardExpeditor] {
		if cardID != rolled[0] {
			drawn = cardID
		}
	}
	if drawn == "" {
		t.Fatal("manual draw added no card")
	}

	if _, err := f.engine.ReRoll(ctx, "p1"); err != nil {
		t.Fatalf("reroll: %v", err)
	}
	p := f.player(t, "p1")
	if got := p.Hand[player.CardExpeditor]; len(got) != 1 || got[0] != drawn {
		t.Fatalf("hand after reroll = %v, want only the manually drawn %s", got, drawn)
	}
	if p.Money != 1400 {
		t.Fatalf("money = %d, want 1400", p.Money)
	}
	again, err := f.engine.TriggerManualEffect(ctx, "p1", manualDraw)
	if err != nil {
		t.Fatalf("retrigger: %v", err)
	}
	if !again.AlreadySatisfied {
		t.Fatalf("retrigger = %+v, want already satisfied", again)
	}
	if got := f.player(t, "p1").Hand.Count(player.CardExpeditor); got != 1 {
		t.Fatalf("expeditor cards = %d, want 1", got)
	}
}

func TestManualDiceRowsApplyOnRoll(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitFirst, Category: "money", Action: "add", Value: "$50", Condition: "dice_roll_3", Trigger: rules.TriggerManual})
	start := f.start(t, "p1")
	if start.RequiredActions != 1 {
		t.Fatalf("required = %d, want only the plain manual row", start.RequiredActions)
	}
	f.roller.EXPECT().RollD6().Return(3)

	roll, err := f.engine.RollDice(context.Background(), "p1")
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if roll.Effects.TotalEffects != 1 || !roll.Effects.Success {
		t.Fatalf("effects = %+v, want the dice-gated manual row", roll.Effects)
	}
	if got := f.player(t, "p1").Money; got != 1050 {
		t.Fatalf("money = %d, want 1050", got)
	}
}

func TestEndRequestedOnArrivalIsDropped(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddEffect(rules.EffectRow{Space: "START", Visit: player.VisitFirst, Category: "turn", Action: "end_turn", Trigger: rules.TriggerAuto})
	f.start(t, "p1", "p2")

	out, err := f.engine.TriggerManualEffect(context.Background(), "p1", manualDraw)
	if err != nil {
		t.Fatalf("manual effect: %v", err)
	}
	if out.Ended != nil {
		t.Fatalf("ended = %+v, want the turn to continue", out.Ended)
	}
	if st := f.engine.State(); st.CurrentIndex != 0 || st.Phase != gamestate.PhaseAwaitingActions {
		t.Fatalf("state = index %d phase %s", st.CurrentIndex, st.Phase)
	}
	var warned bool
	for _, entry := range f.journal.List(0, 0) {
		warned = warned || entry.Kind == journal.KindWarning
	}
	if !warned {
		t.Fatal("expected a journal warning for the dropped request")
	}
}

func TestTryAgainRestoresSnapshotAndForfeitsTurn(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	ctx := context.Background()
	if _, err := f.engine.TriggerManualEffect(ctx, "p1", manualDraw); err != nil {
		t.Fatalf("manual: %v", err)
	}
	held := f.player(t, "p1").Hand[player.CardExpeditor][0]
	if _, err := f.engine.PlayCard(ctx, "p1", held); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := f.player(t, "p1").Money; got != 900 {
		t.Fatalf("money after play = %d, want 900", got)
	}

	out, err := f.engine.TryAgain(ctx, "p1")
	if err != nil {
		t.Fatalf("try again: %v", err)
	}
	if out.Penalty != DefaultTryAgainPenalty || out.Next == nil || out.Next.PlayerID != "p2" {
		t.Fatalf("outcome = %+v", out)
	}
	p := f.player(t, "p1")
	if p.Money != 1000 || p.TimeSpent != DefaultTryAgainPenalty {
		t.Fatalf("player = money %d time %d, want 1000/%d", p.Money, p.TimeSpent, DefaultTryAgainPenalty)
	}
	if p.Hand.Total() != 0 {
		t.Fatalf("hand = %v, want empty", p.Hand)
	}
	if p.Space != "START" || p.Visit != player.VisitSubsequent || len(p.VisitedSpaces) != 1 {
		t.Fatalf("player = space %s visit %s visited %v", p.Space, p.Visit, p.VisitedSpaces)
	}
	if f.snapshots.Has("p1") {
		t.Fatal("snapshot should be cleared")
	}
	if f.engine.State().CurrentIndex != 1 {
		t.Fatalf("current = %d, want p2", f.engine.State().CurrentIndex)
	}
}

func TestTryAgainWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	f.snapshots.Clear("p1")

	_, err := f.engine.TryAgain(context.Background(), "p1")
	if !apperrors.HasCode(err, apperrors.CodeNoSnapshot) {
		t.Fatalf("err = %v, want NO_SNAPSHOT", err)
	}
	st := f.engine.State()
	if st.CurrentIndex != 0 || st.Phase != gamestate.PhaseAwaitingActions {
		t.Fatalf("state changed: index %d phase %s", st.CurrentIndex, st.Phase)
	}
}

func TestSkipTurnConsumedAtTurnStart(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	f.win.EXPECT().Check(gomock.Any()).Return("", false)
	ctx := context.Background()
	if err := f.store.UpdatePlayer(ctx, "p2", func(p *player.Player) error {
		p.SkipTurns = 1
		return nil
	}); err != nil {
		t.Fatalf("set skip: %v", err)
	}

	out := f.finishFirstTurn(t, "p1")
	if out.Next == nil || out.Next.PlayerID != "p1" {
		t.Fatalf("next = %+v, want p1 after p2 skipped", out.Next)
	}
	if len(out.Next.Skipped) != 1 || out.Next.Skipped[0] != "p2" {
		t.Fatalf("skipped = %v", out.Next.Skipped)
	}
	if got := f.player(t, "p2").SkipTurns; got != 0 {
		t.Fatalf("p2 skip counter = %d, want 0", got)
	}
}

func TestPlayCardRejectsUnheldAndUnaffordable(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	ctx := context.Background()

	if _, err := f.engine.PlayCard(ctx, "p1", "E9"); !apperrors.HasCode(err, apperrors.CodeCardNotInHand) {
		t.Fatalf("err = %v, want CARD_NOT_IN_HAND", err)
	}
	if _, err := f.engine.TriggerManualEffect(ctx, "p1", manualDraw); err != nil {
		t.Fatalf("manual: %v", err)
	}
	held := f.player(t, "p1").Hand[player.CardExpeditor][0]
	if err := f.store.UpdatePlayer(ctx, "p1", func(p *player.Player) error {
		p.Money = 50
		return nil
	}); err != nil {
		t.Fatalf("set money: %v", err)
	}
	if _, err := f.engine.PlayCard(ctx, "p1", held); !apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("err = %v, want INSUFFICIENT_FUNDS", err)
	}
	if _, ok := f.player(t, "p1").Hand.Find(held); !ok {
		t.Fatal("rejected play must keep the card in hand")
	}
}

func TestChooseDestinationValidatesAgainstMovement(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	ctx := context.Background()

	if err := f.engine.ChooseDestination(ctx, "p1", "FINISH"); !apperrors.HasCode(err, apperrors.CodeInvalidDestination) {
		t.Fatalf("err = %v, want INVALID_DESTINATION", err)
	}
	if err := f.engine.ChooseDestination(ctx, "p1", "MIDDLE"); err != nil {
		t.Fatalf("choose: %v", err)
	}
	if got := f.engine.State().Destination; got != "MIDDLE" {
		t.Fatalf("destination = %q", got)
	}
}

func TestActionLockRejectsOverlappingActions(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()

	if _, err := f.engine.TriggerManualEffect(context.Background(), "p1", manualDraw); !apperrors.HasCode(err, apperrors.CodeActionInProgress) {
		t.Fatalf("err = %v, want ACTION_IN_PROGRESS", err)
	}
}

func TestAvailableActions(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")

	if got := f.engine.AvailableActions("p2"); got != nil {
		t.Fatalf("p2 actions = %v, want none", got)
	}
	kinds := make(map[ActionKind]int)
	for _, a := range f.engine.AvailableActions("p1") {
		kinds[a.Kind]++
	}
	if kinds[ActionManualEffect] != 1 || kinds[ActionRollDice] != 1 || kinds[ActionTryAgain] != 1 {
		t.Fatalf("kinds = %v", kinds)
	}
	if kinds[ActionEndTurn] != 0 {
		t.Fatal("end turn must not be offered with actions outstanding")
	}
}

func TestAvailableActionsWhileActionRuns(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()

	var manual int
	for _, a := range f.engine.AvailableActions("p1") {
		if a.Kind == ActionManualEffect {
			manual++
		}
	}
	if manual != 1 {
		t.Fatalf("manual actions = %d, want 1 while the lock is held", manual)
	}
}

func TestStartNegotiationRequiresCurrentPlayer(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	ctx := context.Background()

	if _, err := f.engine.StartNegotiation(ctx, "p2", []string{"p1"}); !apperrors.HasCode(err, apperrors.CodeNotCurrentPlayer) {
		t.Fatalf("err = %v, want NOT_CURRENT_PLAYER", err)
	}
	neg, err := f.engine.StartNegotiation(ctx, "p1", []string{"p2"})
	if err != nil {
		t.Fatalf("start negotiation: %v", err)
	}
	if neg.Status != negotiation.StatusPending || len(f.engine.Negotiations().Active()) != 1 {
		t.Fatalf("negotiation = %+v", neg)
	}
}

func TestTransitionsAreJournaled(t *testing.T) {
	f := newFixture(t)
	f.start(t, "p1", "p2")
	var game, turns int
	for _, entry := range f.journal.List(0, 0) {
		switch entry.Kind {
		case journal.KindGame:
			game++
		case journal.KindTurn:
			turns++
		}
	}
	if game != 1 || turns != 1 {
		t.Fatalf("journal game=%d turn=%d, want 1/1", game, turns)
	}
}
