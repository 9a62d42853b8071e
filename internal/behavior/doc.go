// Package behavior models raw user interaction events and derives signals
// from them: per-content reading session summaries, live per-user state with
// anomaly flags, and long-term behavioral pattern classification.
//
// All per-user state here is sharded by user id. Updates for one user are
// serialized; unrelated users never block each other.
package behavior
