// Package chat validates and aggregates conversational message sequences.
//
// The validator is a finite-state machine over message roles: structural
// checks first (recognized keys, non-empty sequence, at least one user and
// one assistant message), then a transition walk that fails at the first
// illegal step. The aggregator groups raw record rows into chat units,
// sorting by chat_id/message_id when present, and runs every unit through
// the validator before accepting it.
package chat
