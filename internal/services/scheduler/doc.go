// Package scheduler runs the engine's time-based work.
//
// It has two halves. Durable one-shot timers hold notifications whose
// optimal delivery window is in the future: each is persisted through the
// storage layer, survives a restart, and re-enters the decision pipeline
// when it fires. Cancellation is an idempotent removal. Cron-style
// maintenance jobs (profile recompute, store pruning, adaptive limit
// adjustment) run on a shared worker pool with per-task timeout, retry
// with backoff, and overlap skipping.
//
// The service can be started and stopped at runtime (config hot reload).
// Jobs registered while stopped are kept and armed on the next start.
package scheduler
