package snapshot

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

func TestSaveIsDeepCopy(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	live := player.Player{ID: "p1", Money: 1000, Hand: player.Hand{player.CardWork: {"W1"}}}

	if err := m.Save(ctx, live, 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	live.Money = 1
	live.Hand[player.CardWork][0] = "W9"
	live.Add(player.CardBank, "B1")

	snap, err := m.Restore(ctx, "p1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	got := snap.Player()
	if got.Money != 1000 || got.Hand[player.CardWork][0] != "W1" || got.Hand.Count(player.CardBank) != 0 {
		t.Fatalf("snapshot changed by live mutation: %+v", got)
	}
	if snap.Turn != 3 {
		t.Fatalf("turn = %d, want 3", snap.Turn)
	}

	got.Money = 5
	again, _ := m.Restore(ctx, "p1")
	if again.Player().Money != 1000 {
		t.Fatal("restored copy shares state with stored snapshot")
	}
}

func TestSaveOverwrites(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	_ = m.Save(ctx, player.Player{ID: "p1", Money: 1}, 1)
	_ = m.Save(ctx, player.Player{ID: "p1", Money: 2}, 2)

	snap, err := m.Restore(ctx, "p1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if snap.Player().Money != 2 {
		t.Fatalf("money = %d, want latest snapshot", snap.Player().Money)
	}
}

func TestHasAndClear(t *testing.T) {
	m := NewManager()
	if m.Has("p1") {
		t.Fatal("unexpected snapshot")
	}
	_ = m.Save(context.Background(), player.Player{ID: "p1"}, 1)
	if !m.Has("p1") {
		t.Fatal("expected snapshot")
	}
	m.Clear("p1")
	if m.Has("p1") {
		t.Fatal("snapshot survived clear")
	}
	_, err := m.Restore(context.Background(), "p1")
	if !apperrors.HasCode(err, apperrors.CodeNoSnapshot) {
		t.Fatalf("err = %v, want no snapshot", err)
	}
}

func TestValidation(t *testing.T) {
	m := NewManager()
	if err := m.Save(context.Background(), player.Player{}, 1); !errors.Is(err, ErrPlayerIDRequired) {
		t.Fatalf("err = %v, want ErrPlayerIDRequired", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Save(ctx, player.Player{ID: "p1"}, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	var nilManager *Manager
	if _, err := nilManager.Restore(context.Background(), "p1"); !errors.Is(err, ErrManagerRequired) {
		t.Fatalf("err = %v, want ErrManagerRequired", err)
	}
	if nilManager.Has("p1") {
		t.Fatal("nil manager has no snapshots")
	}
}
