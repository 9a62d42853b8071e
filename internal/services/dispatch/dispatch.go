// Package dispatch pushes decided notifications out through the channel
// provider: a bounded queue feeding a worker pool, paced by a token
// bucket, with bounded retry per channel. A notification counts as sent
// when at least one of its channels succeeds.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"smartpush/internal/eventbus"
	"smartpush/internal/notification"
	"smartpush/internal/profile"
	logx "smartpush/pkg/logx"
)

var (
	ErrDisabled  = errors.New("dispatch disabled")
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch stopped")
)

// Provider is the external delivery contract. Channel-level timeouts and
// formatting are the provider's concern.
type Provider interface {
	Send(ctx context.Context, ch profile.Channel, n notification.Notification) error
}

// DeliveryResult records one channel attempt chain for a notification.
type DeliveryResult struct {
	NotificationID string          `json:"notificationId"`
	UserID         string          `json:"userId"`
	Channel        profile.Channel `json:"channel"`
	OK             bool            `json:"ok"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`
	At             time.Time       `json:"at"`
}

type Config struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Workers       int           `yaml:"workers" json:"workers"`
	QueueSize     int           `yaml:"queue_size" json:"queueSize"`
	RatePerSec    int           `yaml:"rate_per_sec" json:"ratePerSec"`
	RetryMax      int           `yaml:"retry_max" json:"retryMax"`
	RetryBase     time.Duration `yaml:"retry_base" json:"retryBase"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" json:"retryMaxDelay"`
	SendTimeout   time.Duration `yaml:"send_timeout" json:"sendTimeout"`
}

type job struct {
	n    notification.Notification
	done chan []DeliveryResult
}

// Service is the delivery pipeline. Deliver blocks until the worker pool
// has attempted every channel, so callers get the per-channel results
// they need to settle the notification's status. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg      Config
	limiter  *rate.Limiter
	provider Provider
	bus      eventbus.Bus
	log      logx.Logger

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, provider Provider, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		provider: provider,
		log:      log,
		bus:      bus,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", i), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Deliver enqueues the notification and waits for its per-channel
// results. Notifications without explicit channels go to in_app.
func (s *Service) Deliver(ctx context.Context, n notification.Notification) ([]DeliveryResult, error) {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return nil, ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	j := job{n: n, done: make(chan []DeliveryResult, 1)}
	select {
	case q <- j:
	default:
		return nil, ErrQueueFull
	}

	select {
	case res := <-j.done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				j.done <- nil
				continue
			default:
			}
		}
		res := s.deliverAll(runCtx, j.n)
		j.done <- res
	}
}

func (s *Service) deliverAll(runCtx context.Context, n notification.Notification) []DeliveryResult {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	provider := s.provider
	bus := s.bus
	s.mu.Unlock()

	channels := n.Channels
	if len(channels) == 0 {
		channels = []profile.Channel{profile.ChannelInApp}
	}

	results := make([]DeliveryResult, 0, len(channels))
	anyOK := false
	for _, ch := range channels {
		r := s.sendWithRetry(runCtx, cfg, lim, provider, ch, n)
		results = append(results, r)
		if r.OK {
			anyOK = true
		}
		if bus != nil {
			bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryResult, Time: r.At, Data: r})
		}
	}
	if anyOK && bus != nil {
		bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationSent, Time: time.Now(), Data: n})
	}
	return results
}

func (s *Service) sendWithRetry(runCtx context.Context, cfg Config, lim *rate.Limiter, provider Provider, ch profile.Channel, n notification.Notification) DeliveryResult {
	res := DeliveryResult{NotificationID: n.ID, UserID: n.UserID, Channel: ch}

	if provider == nil {
		res.At = time.Now()
		res.Error = "no channel provider configured"
		return res
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		if lim != nil {
			wctx := runCtx
			if wctx == nil {
				wctx = context.Background()
			}
			if err := lim.Wait(wctx); err != nil {
				res.At = time.Now()
				res.Error = err.Error()
				return res
			}
		}

		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		callCtx, cancel := context.WithTimeout(callCtx, cfg.SendTimeout)
		err := provider.Send(callCtx, ch, n)
		cancel()
		if err == nil {
			res.OK = true
			res.At = time.Now()
			return res
		}
		lastErr = err
		s.log.Debug("channel send failed",
			logx.String("notification", n.ID), logx.String("channel", string(ch)),
			logx.Int("attempt", attempt), logx.Err(err))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		rc := runCtx
		if rc == nil {
			rc = context.Background()
		}
		select {
		case <-t.C:
		case <-rc.Done():
			if !t.Stop() {
				<-t.C
			}
			res.At = time.Now()
			res.Error = rc.Err().Error()
			return res
		}
	}

	res.At = time.Now()
	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	return res
}

func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
