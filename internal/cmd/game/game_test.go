package game

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Players != "Alice,Bob" {
		t.Fatalf("players = %q, want Alice,Bob", cfg.Players)
	}
	if cfg.TryAgainPenalty != 1 {
		t.Fatalf("try again penalty = %d, want 1", cfg.TryAgainPenalty)
	}
	if cfg.MaxTurns != 500 {
		t.Fatalf("max turns = %d, want 500", cfg.MaxTurns)
	}
	if cfg.DataDir != "" || cfg.AuditDB != "" {
		t.Fatalf("expected embedded board and in-memory audit, got %+v", cfg)
	}
}

func TestParseConfigEnvThenFlags(t *testing.T) {
	t.Setenv("CODE2027_SEED", "42")
	t.Setenv("CODE2027_PLAYERS", "Ann,Ben,Cy")
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-seed", "7", "-money", "250000", "-max-turns", "12"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Seed != 7 {
		t.Fatalf("seed = %d, want flag override 7", cfg.Seed)
	}
	if cfg.Players != "Ann,Ben,Cy" {
		t.Fatalf("players = %q, want env value", cfg.Players)
	}
	if cfg.StartingMoney != 250000 || cfg.MaxTurns != 12 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSetupFillsFromConfig(t *testing.T) {
	cfg := Config{Players: "Ann, Ben", StartingMoney: 100, Seed: 3, TryAgainPenalty: 2, MaxTurns: 9}
	setup, err := cfg.Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(setup.Players) != 2 || setup.Players[1].Name != "Ben" {
		t.Fatalf("players = %+v", setup.Players)
	}
	if setup.StartingMoney != 100 || setup.Seed != 3 || setup.MaxTurns != 9 {
		t.Fatalf("setup = %+v", setup)
	}
	if setup.TryAgainPenaltyDays == nil || *setup.TryAgainPenaltyDays != 2 {
		t.Fatalf("penalty = %v, want 2", setup.TryAgainPenaltyDays)
	}
}

func TestSetupFilePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.yaml")
	data := "players:\n  - name: Dana\n    money: 900\nseed: 11\ntry_again_penalty_days: 0\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write setup: %v", err)
	}
	cfg := Config{SetupFile: path, Players: "Ann,Ben", Seed: 3, TryAgainPenalty: 1, MaxTurns: 40}
	setup, err := cfg.Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(setup.Players) != 1 || setup.Players[0].Name != "Dana" {
		t.Fatalf("players = %+v, want file roster", setup.Players)
	}
	if setup.Seed != 11 || setup.MaxTurns != 40 {
		t.Fatalf("setup = %+v", setup)
	}
	if *setup.TryAgainPenaltyDays != 0 {
		t.Fatalf("penalty = %d, want file value 0", *setup.TryAgainPenaltyDays)
	}
}

func TestSetupRejectsEmptyRoster(t *testing.T) {
	if _, err := (Config{Players: " , "}).Setup(); err == nil {
		t.Fatal("expected error for empty roster")
	}
}

func TestRunReportsTurnLimit(t *testing.T) {
	var out bytes.Buffer
	cfg := Config{Players: "Solo", Seed: 7, TryAgainPenalty: 1, MaxTurns: 1, LogLevel: "error"}
	if err := Run(context.Background(), cfg, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	for _, want := range []string{"seed 7", "Solo starts on OWNER-SCOPE-INITIATION", "turn   1", "no winner after 1 turns"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunRejectsBadLogFormat(t *testing.T) {
	cfg := Config{Players: "Solo", LogFormat: "xml"}
	if err := Run(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestReportRejection(t *testing.T) {
	var out, logs bytes.Buffer
	logger := zerolog.New(&logs)
	err := apperrors.WithMetadata(apperrors.CodeCardNotInHand, "card is not in hand", map[string]string{"CardID": "E9"})

	if !reportRejection(&out, logger, 4, err) {
		t.Fatal("expected the rejection to be reported")
	}
	if got := out.String(); got != "turn 4 rejected: CARD_NOT_IN_HAND [validation, InvalidArgument]: card is not in hand\n" {
		t.Fatalf("output = %q", got)
	}
	for _, want := range []string{`"category":"validation"`, `"grpc_code":"InvalidArgument"`, `"CardID":"E9"`} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("log missing %s: %s", want, logs.String())
		}
	}
	if reportRejection(&out, logger, 4, errors.New("disk full")) {
		t.Fatal("plain errors are not rejections")
	}
}
