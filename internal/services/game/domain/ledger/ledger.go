// Package ledger is the single writer of player money, time and loans. Every
// balance change is recorded as a transaction in a bounded per-player history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	apperrors "github.com/tomaszsb/code2027/internal/platform/errors"
	"github.com/tomaszsb/code2027/internal/platform/id"
	"github.com/tomaszsb/code2027/internal/services/game/domain/gamestate"
	"github.com/tomaszsb/code2027/internal/services/game/domain/player"
)

// DefaultHistoryLimit bounds the per-player transaction history.
const DefaultHistoryLimit = 50

// Resource names a ledger-managed balance.
type Resource string

const (
	Money Resource = "money"
	Time  Resource = "time"
)

// Transaction is one recorded balance change.
type Transaction struct {
	ID       string
	PlayerID string
	Resource Resource
	// Amount is the signed change actually applied.
	Amount  int
	Balance int
	Source  string
	Reason  string
	At      time.Time
}

// HistorySink receives every committed transaction, e.g. for durable audit.
type HistorySink interface {
	RecordTransaction(ctx context.Context, tx Transaction) error
}

// Ledger applies balance changes through the game state store.
type Ledger struct {
	store  *gamestate.Store
	limit  int
	sink   HistorySink
	logger zerolog.Logger
	now    func() time.Time
	newID  id.Generator

	mu      sync.Mutex
	history map[string][]Transaction
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(limit int) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithHistorySink forwards transactions to sink.
func WithHistorySink(sink HistorySink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the transaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(gen id.Generator) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// New creates a ledger writing through store.
func New(store *gamestate.Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, gamestate.ErrStoreRequired
	}
	l := &Ledger{
		store:   store,
		limit:   DefaultHistoryLimit,
		logger:  zerolog.Nop(),
		now:     time.Now,
		newID:   id.NewID,
		history: make(map[string][]Transaction),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// AddMoney credits a player.
func (l *Ledger) AddMoney(ctx context.Context, playerID string, amount int, source, reason string) (Transaction, error) {
	if err := validAmount(amount); err != nil {
		return Transaction{}, err
	}
	return l.apply(ctx, playerID, Money, amount, source, reason)
}

// SpendMoney debits a player. It fails without mutating anything when the
// balance cannot cover amount; the error metadata carries the shortfall.
func (l *Ledger) SpendMoney(ctx context.Context, playerID string, amount int, source, reason string) (Transaction, error) {
	if err := validAmount(amount); err != nil {
		return Transaction{}, err
	}
	return l.apply(ctx, playerID, Money, -amount, source, reason)
}

// AddTime adds days to the player's time spent.
func (l *Ledger) AddTime(ctx context.Context, playerID string, days int, source, reason string) (Transaction, error) {
	if err := validAmount(days); err != nil {
		return Transaction{}, err
	}
	return l.apply(ctx, playerID, Time, days, source, reason)
}

// SpendTime reduces the player's time spent, flooring at zero.
func (l *Ledger) SpendTime(ctx context.Context, playerID string, days int, source, reason string) (Transaction, error) {
	if err := validAmount(days); err != nil {
		return Transaction{}, err
	}
	return l.apply(ctx, playerID, Time, -days, source, reason)
}

// CanAfford reports whether the player's money covers amount.
func (l *Ledger) CanAfford(playerID string, amount int) bool {
	p, err := l.store.Player(playerID)
	if err != nil {
		return false
	}
	return p.Money >= amount
}

// Balance returns the player's money and time spent.
func (l *Ledger) Balance(playerID string) (money int, timeSpent int, err error) {
	p, err := l.store.Player(playerID)
	if err != nil {
		return 0, 0, err
	}
	return p.Money, p.TimeSpent, nil
}

// TakeLoan credits principal and records the outstanding loan.
func (l *Ledger) TakeLoan(ctx context.Context, playerID string, principal int, ratePercent float64, turn int, source string) (player.Loan, Transaction, error) {
	if principal <= 0 {
		return player.Loan{}, Transaction{}, apperrors.New(apperrors.CodeInvalidAmount, "loan principal must be positive")
	}
	loanID, err := l.newID()
	if err != nil {
		return player.Loan{}, Transaction{}, err
	}
	loan := player.Loan{ID: loanID, Principal: principal, RatePercent: ratePercent, Turn: turn}
	var tx Transaction
	err = l.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		p.Loans = append(p.Loans, loan)
		staged, err := l.stage(p, Money, principal, source, "loan "+strconv.Itoa(principal))
		tx = staged
		return err
	})
	if err != nil {
		return player.Loan{}, Transaction{}, err
	}
	l.record(ctx, tx)
	return loan, tx, nil
}

// Restore sets money, time and loans back to previously captured values,
// recording the adjustments as transactions.
func (l *Ledger) Restore(ctx context.Context, playerID string, target player.Player, source string) ([]Transaction, error) {
	var txs []Transaction
	err := l.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		txs = txs[:0]
		if delta := target.Money - p.Money; delta != 0 {
			tx, err := l.stage(p, Money, delta, source, "restore")
			if err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		if delta := target.TimeSpent - p.TimeSpent; delta != 0 {
			tx, err := l.stage(p, Time, delta, source, "restore")
			if err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		p.Loans = append([]player.Loan(nil), target.Loans...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		l.record(ctx, tx)
	}
	return txs, nil
}

// History returns the recorded transactions for a player, oldest first.
func (l *Ledger) History(playerID string) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transaction(nil), l.history[playerID]...)
}

// Stage applies a signed change to p inside a caller-owned store update and
// returns the transaction to Record once the update commits. It is used by
// operations that must change a balance in the same commit as other state.
func (l *Ledger) Stage(p *player.Player, resource Resource, delta int, source, reason string) (Transaction, error) {
	return l.stage(p, resource, delta, source, reason)
}

// Record adds committed transactions to history and the sink.
func (l *Ledger) Record(ctx context.Context, txs ...Transaction) {
	for _, tx := range txs {
		l.record(ctx, tx)
	}
}

func (l *Ledger) apply(ctx context.Context, playerID string, resource Resource, delta int, source, reason string) (Transaction, error) {
	var tx Transaction
	err := l.store.UpdatePlayer(ctx, playerID, func(p *player.Player) error {
		staged, err := l.stage(p, resource, delta, source, reason)
		tx = staged
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	l.record(ctx, tx)
	return tx, nil
}

func (l *Ledger) stage(p *player.Player, resource Resource, delta int, source, reason string) (Transaction, error) {
	if p == nil {
		return Transaction{}, errors.New("player is required")
	}
	var balance int
	switch resource {
	case Money:
		if p.Money+delta < 0 {
			shortfall := -(p.Money + delta)
			return Transaction{}, apperrors.WithMetadata(apperrors.CodeInsufficientFunds,
				fmt.Sprintf("insufficient funds: short by %d", shortfall),
				map[string]string{"Shortfall": strconv.Itoa(shortfall), "PlayerID": p.ID})
		}
		p.Money += delta
		balance = p.Money
	case Time:
		if p.TimeSpent+delta < 0 {
			delta = -p.TimeSpent
		}
		p.TimeSpent += delta
		balance = p.TimeSpent
	default:
		return Transaction{}, fmt.Errorf("unknown resource %q", resource)
	}
	txID, err := l.newID()
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:       txID,
		PlayerID: p.ID,
		Resource: resource,
		Amount:   delta,
		Balance:  balance,
		Source:   source,
		Reason:   reason,
		At:       l.now().UTC(),
	}, nil
}

func (l *Ledger) record(ctx context.Context, tx Transaction) {
	l.mu.Lock()
	entries := append(l.history[tx.PlayerID], tx)
	if len(entries) > l.limit {
		entries = append([]Transaction(nil), entries[len(entries)-l.limit:]...)
	}
	l.history[tx.PlayerID] = entries
	l.mu.Unlock()

	l.logger.Debug().
		Str("player_id", tx.PlayerID).
		Str("resource", string(tx.Resource)).
		Int("amount", tx.Amount).
		Int("balance", tx.Balance).
		Str("source", tx.Source).
		Msg("ledger transaction")

	if l.sink != nil {
		if err := l.sink.RecordTransaction(ctx, tx); err != nil {
			l.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("record transaction")
		}
	}
}

// Shortfall extracts the shortfall from an insufficient-funds error.
func Shortfall(err error) int {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeInsufficientFunds {
		return 0
	}
	value, _ := strconv.Atoi(appErr.Metadata["Shortfall"])
	return value
}

func validAmount(amount int) error {
	if amount < 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "amount must not be negative")
	}
	return nil
}
