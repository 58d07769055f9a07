package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tomaszsb/code2027/internal/platform/storage/sqlitemigrate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/journal"
	"github.com/tomaszsb/code2027/internal/services/game/domain/ledger"
	"github.com/tomaszsb/code2027/internal/services/game/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides SQLite-backed persistence for the audit trail of one game.
type Store struct {
	sqlDB  *sql.DB
	gameID string
	logger zerolog.Logger
}

// Option configures Open.
type Option func(*Store)

// WithLogger logs applied migrations.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens a SQLite audit store at path, recording rows under gameID.
func Open(ctx context.Context, path, gameID string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if strings.TrimSpace(gameID) == "" {
		return nil, fmt.Errorf("game id is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, gameID: gameID, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(store)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.AuditFS, "audit", sqlitemigrate.WithLogger(store.logger)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// GameID returns the id rows are recorded under.
func (s *Store) GameID() string {
	return s.gameID
}

// Close closes the underlying SQLite database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEntry stores a journal entry. Re-appending a sequence number
// replaces the earlier row.
func (s *Store) AppendEntry(ctx context.Context, entry journal.Entry) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR REPLACE INTO journal_entries (game_id, seq, turn, player_id, kind, source, message, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.gameID,
		int64(entry.Seq),
		entry.Turn,
		entry.PlayerID,
		string(entry.Kind),
		entry.Source,
		entry.Message,
		toMillis(entry.At),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry seq=%d: %w", entry.Seq, err)
	}
	return nil
}

// ListEntries returns up to limit entries with Seq greater than afterSeq,
// oldest first. A limit of zero or less returns everything.
func (s *Store) ListEntries(ctx context.Context, afterSeq uint64, limit int) ([]journal.Entry, error) {
	query := `
SELECT seq, turn, player_id, kind, source, message, recorded_at
FROM journal_entries
WHERE game_id = ? AND seq > ?
ORDER BY seq`
	args := []any{s.gameID, int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var (
			entry      journal.Entry
			seq        int64
			kind       string
			recordedAt int64
		)
		if err := rows.Scan(&seq, &entry.Turn, &entry.PlayerID, &kind, &entry.Source, &entry.Message, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Seq = uint64(seq)
		entry.Kind = journal.Kind(kind)
		entry.At = fromMillis(recordedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}

// RecordTransaction stores a committed ledger transaction.
func (s *Store) RecordTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR REPLACE INTO ledger_transactions (game_id, id, player_id, resource, amount, balance, source, reason, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.gameID,
		tx.ID,
		tx.PlayerID,
		string(tx.Resource),
		tx.Amount,
		tx.Balance,
		tx.Source,
		tx.Reason,
		toMillis(tx.At),
	)
	if err != nil {
		return fmt.Errorf("insert transaction id=%s: %w", tx.ID, err)
	}
	return nil
}

// ListTransactions returns playerID's transactions, oldest first. An empty
// playerID lists every player.
func (s *Store) ListTransactions(ctx context.Context, playerID string) ([]ledger.Transaction, error) {
	query := `
SELECT id, player_id, resource, amount, balance, source, reason, recorded_at
FROM ledger_transactions
WHERE game_id = ?`
	args := []any{s.gameID}
	if playerID != "" {
		query += " AND player_id = ?"
		args = append(args, playerID)
	}
	query += " ORDER BY recorded_at, rowid"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var (
			tx         ledger.Transaction
			resource   string
			recordedAt int64
		)
		if err := rows.Scan(&tx.ID, &tx.PlayerID, &resource, &tx.Amount, &tx.Balance, &tx.Source, &tx.Reason, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Resource = ledger.Resource(resource)
		tx.At = fromMillis(recordedAt)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

var (
	_ journal.Sink       = (*Store)(nil)
	_ ledger.HistorySink = (*Store)(nil)
)
