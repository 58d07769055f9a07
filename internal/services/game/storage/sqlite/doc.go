// Package sqlite persists the game audit trail: journal entries and ledger
// transactions.
//
// The store implements journal.Sink and ledger.HistorySink so the in-memory
// journal and ledger can mirror every append into a durable file without
// knowing about SQL.
package sqlite
