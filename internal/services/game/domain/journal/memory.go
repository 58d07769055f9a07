// Package journal keeps the ordered audit trail of a game: turn transitions,
// log-only effects and notable outcomes.
package journal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies entries.
type Kind string

const (
	KindTurn    Kind = "turn"
	KindEffect  Kind = "effect"
	KindLog     Kind = "log"
	KindChoice  Kind = "choice"
	KindDice    Kind = "dice"
	KindMove    Kind = "move"
	KindGame    Kind = "game"
	KindWarning Kind = "warning"
)

// ErrMessageRequired indicates an entry without a message.
var ErrMessageRequired = errors.New("journal message is required")

// Entry is one audit record.
type Entry struct {
	Seq      uint64
	Turn     int
	PlayerID string
	Kind     Kind
	Source   string
	Message  string
	At       time.Time
}

// Sink durably stores appended entries.
type Sink interface {
	AppendEntry(ctx context.Context, entry Entry) error
}

// Memory is an in-memory journal with an optional durable sink.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	sink    Sink
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Memory journal.
type Option func(*Memory)

// WithSink mirrors entries into sink.
func WithSink(sink Sink) Option {
	return func(m *Memory) { m.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Memory) { m.logger = logger }
}

// WithClock overrides entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty journal.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Append assigns the next sequence number and stores entry.
func (m *Memory) Append(ctx context.Context, entry Entry) (Entry, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
	}
	if strings.TrimSpace(entry.Message) == "" {
		return Entry{}, ErrMessageRequired
	}
	if entry.Kind == "" {
		entry.Kind = KindLog
	}
	m.mu.Lock()
	entry.Seq = uint64(len(m.entries)) + 1
	if entry.At.IsZero() {
		entry.At = m.now().UTC()
	}
	m.entries = append(m.entries, entry)
	m.mu.Unlock()

	if m.sink != nil {
		if err := m.sink.AppendEntry(ctx, entry); err != nil {
			m.logger.Warn().Err(err).Uint64("seq", entry.Seq).Msg("journal sink append")
		}
	}
	return entry, nil
}

// List returns up to limit entries with Seq greater than afterSeq. A limit
// of zero or less returns everything.
func (m *Memory) List(afterSeq uint64, limit int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if afterSeq >= uint64(len(m.entries)) {
		return nil
	}
	page := m.entries[afterSeq:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return append([]Entry(nil), page...)
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
