package storage

// Package storage provides the engine's durable state surfaces.
//
// It currently persists:
//   - User profiles (opaque JSON blobs keyed by user id)
//   - Dedup hashes with a TTL (to survive restarts)
//   - Rate-limit sliding-window records per scope key
//   - Scheduled notifications (durable one-shot timers)
//   - Personalized scorer weights
