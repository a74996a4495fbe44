// Package storage provides the dedup ledger used by the bot.
//
// The ledger is an append-only set of content keys that have been published.
// It answers membership queries and records new keys durably, so a restart
// never re-publishes content. An audit trail of publication attempts is kept
// next to it.
package storage
