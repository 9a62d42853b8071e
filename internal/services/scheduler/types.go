package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"smartpush/internal/eventbus"
	"smartpush/internal/storage"
	logx "smartpush/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Workers        int           `yaml:"workers" json:"workers"`
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"defaultTimeout"`
	HistorySize    int           `yaml:"history_size" json:"historySize"`
	Timezone       string        `yaml:"timezone" json:"timezone"` // IANA TZ
	RetryMax       int           `yaml:"retry_max" json:"retryMax"`
}

// Store is the durable backing for one-shot notification timers.
type Store interface {
	PutScheduled(ctx context.Context, e storage.ScheduledEntry) error
	DeleteScheduled(ctx context.Context, id string) error
	ListScheduled(ctx context.Context) ([]storage.ScheduledEntry, error)
}

// FireFunc re-enters the decision pipeline for a due notification.
type FireFunc func(ctx context.Context, e storage.ScheduledEntry) error

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax <= 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow && o.Overlap != OverlapSkipIfRunning {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	opt     TaskOptions
	state   *runState
}

type jobDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	opt     TaskOptions
	state   *runState
}

// Service is the combined timer + cron runner. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []jobDef

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress.
	stopDone chan struct{}

	// Durable one-shot timers. Entries are the persistent definition;
	// timers are runtime and rebuilt on Start. Versions let stale timer
	// callbacks detect they were replaced or cancelled.
	tmu     sync.Mutex
	store   Store
	fire    FireFunc
	timers  map[string]*time.Timer
	entries map[string]storage.ScheduledEntry
	vers    map[string]uint64

	hmu       sync.Mutex
	history   []HistoryItem
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// TaskEvent is published on the bus around task execution.
type TaskEvent struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Workers   int
	QueueLen  int
	Pending   int // armed one-shot timers
	Schedules []ScheduleInfo
	History   []HistoryItem
}
