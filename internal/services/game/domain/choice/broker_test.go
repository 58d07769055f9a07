package choice

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/platform/id"
)

func newTestBroker() *Broker {
	return NewBroker(WithIDGenerator(id.Sequence("choice")))
}

func twoWay(playerID string) Request {
	return Request{
		PlayerID: playerID,
		Category: CategoryMovement,
		Prompt:   "Where next?",
		Options:  []Option{{Label: "Left"}, {Label: "Right"}},
	}
}

func TestCreateNumbersOptionsAndBlocksSecondChoice(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()

	c, err := b.Create(ctx, twoWay("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID != "choice-1" || c.Options[0].ID != "0" || c.Options[1].ID != "1" {
		t.Fatalf("choice = %+v", c)
	}
	if _, err := b.Create(ctx, twoWay("p1")); !apperrors.HasCode(err, apperrors.CodeChoicePending) {
		t.Fatalf("err = %v, want choice pending", err)
	}
	if _, err := b.Create(ctx, twoWay("p2")); err != nil {
		t.Fatalf("other player create: %v", err)
	}
	pending, ok := b.Pending("p1")
	if !ok || pending.ID != c.ID {
		t.Fatalf("pending = %+v, %v", pending, ok)
	}
}

func TestCreateValidatesRequest(t *testing.T) {
	b := newTestBroker()
	ctx := context.Background()
	tests := []struct {
		name string
		req  Request
		code apperrors.Code
	}{
		{name: "no player", req: Request{Options: []Option{{Label: "x"}}}, code: apperrors.CodePlayerNotFound},
		{name: "no options", req: Request{PlayerID: "p1"}, code: apperrors.CodeInvalidChoiceOption},
		{name: "duplicate ids", req: Request{PlayerID: "p1", Options: []Option{{ID: "a"}, {ID: "a"}}}, code: apperrors.CodeInvalidChoiceOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Create(ctx, tt.req); !apperrors.HasCode(err, tt.code) {
				t.Fatalf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestResolveFailures(t *testing.T) {
	b := newTestBroker()
	c, _ := b.Create(context.Background(), twoWay("p1"))

	if _, err := b.Resolve("nope", "0"); !apperrors.HasCode(err, apperrors.CodeChoiceNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	_, err := b.Resolve(c.ID, "7")
	if !apperrors.HasCode(err, apperrors.CodeInvalidChoiceOption) {
		t.Fatalf("err = %v, want invalid option", err)
	}
	if err.Error() != "Invalid choice option selected" {
		t.Fatalf("message = %q", err.Error())
	}
	if _, ok := b.Pending("p1"); !ok {
		t.Fatal("invalid option must leave the choice pending")
	}

	resolved, err := b.Resolve(c.ID, "1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Resolved || resolved.Selected != "1" {
		t.Fatalf("resolved = %+v", resolved)
	}
	if _, err := b.Resolve(c.ID, "0"); !apperrors.HasCode(err, apperrors.CodeChoiceAlreadyResolved) {
		t.Fatalf("err = %v, want already resolved", err)
	}
	if _, ok := b.Pending("p1"); ok {
		t.Fatal("resolved choice still pending")
	}
}

func TestAskWithListenerResolvesSynchronously(t *testing.T) {
	b := newTestBroker()
	var seen []Choice
	unregister := b.OnCreate(func(c Choice) {
		seen = append(seen, c)
		if _, err := b.Resolve(c.ID, c.Options[len(c.Options)-1].ID); err != nil {
			t.Errorf("listener resolve: %v", err)
		}
	})
	defer unregister()

	c, optionID, err := b.Ask(context.Background(), twoWay("p1"))
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if optionID != "1" || len(seen) != 1 || seen[0].ID != c.ID {
		t.Fatalf("optionID = %q, seen = %v", optionID, seen)
	}
	again, err := b.Await(context.Background(), c.ID)
	if err != nil || again != "1" {
		t.Fatalf("await resolved = %q, %v", again, err)
	}
}

func TestAwaitBlocksUntilResolvedFromAnotherGoroutine(t *testing.T) {
	b := newTestBroker()
	c, _ := b.Create(context.Background(), twoWay("p1"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = b.Resolve(c.ID, "0")
	}()
	optionID, err := b.Await(context.Background(), c.ID)
	if err != nil || optionID != "0" {
		t.Fatalf("await = %q, %v", optionID, err)
	}
}

func TestAwaitHonorsContextAndCancel(t *testing.T) {
	b := newTestBroker()
	c, _ := b.Create(context.Background(), twoWay("p1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := b.Await(ctx, c.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	if !b.Cancel("p1") {
		t.Fatal("expected cancel to drop pending choice")
	}
	if _, err := b.Await(context.Background(), c.ID); !apperrors.HasCode(err, apperrors.CodeChoiceNotFound) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if _, err := b.Resolve(c.ID, "0"); !apperrors.HasCode(err, apperrors.CodeChoiceAlreadyResolved) {
		t.Fatalf("err = %v, want already resolved", err)
	}
	if b.Cancel("p1") {
		t.Fatal("second cancel should report nothing to cancel")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	b := newTestBroker()
	c, _ := b.Create(context.Background(), Request{
		PlayerID: "p1",
		Category: CategoryCardReplacement,
		Options:  []Option{{ID: "E1", Label: "E1"}},
		Metadata: map[string]string{"card_type": "E"},
	})
	got, ok := b.Get(c.ID)
	if !ok {
		t.Fatal("expected choice")
	}
	got.Metadata["card_type"] = "W"
	got.Options[0].Label = "changed"
	again, _ := b.Get(c.ID)
	if again.Metadata["card_type"] != "E" || again.Options[0].Label != "E1" {
		t.Fatalf("broker state mutated through copy: %+v", again)
	}
}
