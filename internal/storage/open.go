package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "smartpush/pkg/logx"
)

// Store is the persistence API used by the engine's services.
type Store interface {
	SaveProfile(ctx context.Context, userID string, data []byte) error
	LoadProfile(ctx context.Context, userID string) ([]byte, bool, error)
	DeleteProfile(ctx context.Context, userID string) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	AppendRateRecord(ctx context.Context, scope string, at time.Time) error
	RateHistory(ctx context.Context, scope string, since time.Time) ([]time.Time, error)

	PutScheduled(ctx context.Context, e ScheduledEntry) error
	DeleteScheduled(ctx context.Context, id string) error
	ListScheduled(ctx context.Context) ([]ScheduledEntry, error)

	SaveWeights(ctx context.Context, userID string, data []byte) error
	LoadWeights(ctx context.Context, userID string) ([]byte, bool, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
