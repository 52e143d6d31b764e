// Package lights implements the engagement-points pipeline for chats.
//
// Every delivered message is scored against its predecessor in the chat and the
// result is credited to a per-(user, chat) balance. Balances are spent through
// Withdraw, which never drives a balance negative.
//
// Storage lives behind Ledger (in-memory for dev, PostgreSQL in production).
// The scoring tables themselves are pure functions of the inputs and an injected Rand.
package lights
