// Package app wires the decision engine together: configuration,
// logging, storage, the behavioral tracker, scoring, the delivery
// services and the orchestrator on top of them.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smartpush/internal/behavior"
	"smartpush/internal/config"
	"smartpush/internal/content"
	"smartpush/internal/eventbus"
	"smartpush/internal/notification"
	"smartpush/internal/orchestrator"
	"smartpush/internal/profile"
	"smartpush/internal/runtime/supervisor"
	"smartpush/internal/scoring"
	"smartpush/internal/services/dedup"
	"smartpush/internal/services/digest"
	"smartpush/internal/services/dispatch"
	"smartpush/internal/services/ratelimit"
	"smartpush/internal/services/scheduler"
	"smartpush/internal/storage"
	logx "smartpush/pkg/logx"
)

// StopReason labels why the app is shutting down, for the final logs.
type StopReason string

const (
	StopReasonSignal StopReason = "signal"
	StopReasonError  StopReason = "error"
	StopReasonManual StopReason = "manual"
)

// Feedback is the payload published on eventbus.TypeFeedback. Positive
// means the user opened or clicked the notification.
type Feedback struct {
	UserID         string `json:"user_id"`
	NotificationID string `json:"notification_id,omitempty"`
	Positive       bool   `json:"positive"`
}

// Options carries the host-supplied integration points. Every field is
// optional; nil fields fall back to in-process defaults.
type Options struct {
	// Provider is the delivery backend. Defaults to a log-only provider.
	Provider dispatch.Provider
	// Contents resolves content ids. Defaults to an in-memory registry
	// exposed via Contents().
	Contents content.Store
	// Templates overrides the built-in notification templates.
	Templates orchestrator.TemplateStore
}

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	contents content.Store
	registry *content.Registry
	profiles profile.Store

	tracker *behavior.Processor
	history *behavior.History
	builder *profile.Builder

	personalizer *scoring.Personalizer
	scorer       *scoring.Scorer
	predictor    *scoring.Predictor

	limiter    *ratelimit.Service
	deduper    *dedup.Engine
	digester   *digest.Service
	dispatcher *dispatch.Service
	sched      *scheduler.Service

	orch *orchestrator.Orchestrator

	users *userActivity
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	var profiles profile.Store
	if store != nil {
		profiles = &storeProfiles{st: store}
	} else {
		profiles = newMemProfiles()
	}

	contents := opts.Contents
	var registry *content.Registry
	if contents == nil {
		registry = content.NewRegistry()
		contents = registry
	}

	tracker := behavior.NewProcessor(bus, log.With(logx.String("comp", "behavior")))
	inactive, _ := config.ParseDurationField("behavior.inactive_after", cfg.Behavior.InactiveAfter)
	evict, _ := config.ParseDurationField("behavior.evict_after", cfg.Behavior.EvictAfter)
	tracker.SetSweepWindows(inactive, evict)

	history := behavior.NewHistory()
	builder := profile.NewBuilder(log.With(logx.String("comp", "profile")))
	builder.SetDecay(cfg.Profile.DecayFactor, cfg.Profile.FloorWeight)

	var wstore scoring.WeightsStore
	if store != nil {
		wstore = store
	}
	scoreLog := log.With(logx.String("comp", "scoring"))
	personalizer := scoring.NewPersonalizer(wstore, scoreLog)
	scorer := scoring.NewScorer(personalizer, scoreLog)
	predictor := scoring.NewPredictor(scoreLog)

	var rlStore ratelimit.History
	var ddStore dedup.Records
	var schedStore scheduler.Store
	if store != nil {
		rlStore, ddStore, schedStore = store, store, store
	}

	limiter := ratelimit.New(mapRateLimitConfig(cfg), rlStore,
		log.With(logx.String("comp", "ratelimit")))
	deduper := dedup.New(dedup.Config{Enabled: cfg.Dedup.Enabled, Rules: dedup.DefaultRules()},
		ddStore, log.With(logx.String("comp", "dedup")))
	digester := digest.New(digest.Config{Enabled: cfg.Digest.Enabled, Rules: digest.DefaultRules()},
		log.With(logx.String("comp", "digest")))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	provider := opts.Provider
	if provider == nil {
		provider = logProvider{log: log.With(logx.String("comp", "provider"))}
	}
	dispatcher := dispatch.New(dcfg, provider, log.With(logx.String("comp", "dispatch")), bus)

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scfg, schedStore, log.With(logx.String("comp", "scheduler")), bus)

	scheduleAhead, err := config.ParseDurationField("pipeline.schedule_ahead", cfg.Pipeline.ScheduleAhead)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(orchestrator.Config{
		ScheduleAhead: scheduleAhead,
		RecentWindow:  cfg.Pipeline.RecentWindow,
	}, orchestrator.Deps{
		Profiles:  profiles,
		Contents:  contents,
		Templates: opts.Templates,
		Scorer:    scorer,
		Predictor: predictor,
		Limiter:   limiter,
		Deduper:   deduper,
		Digester:  digester,
		Dispatch:  dispatcher,
		Scheduler: sched,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "pipeline")),
	})

	return &App{
		cfgPath:      cfgPath,
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		contents:     contents,
		registry:     registry,
		profiles:     profiles,
		tracker:      tracker,
		history:      history,
		builder:      builder,
		personalizer: personalizer,
		scorer:       scorer,
		predictor:    predictor,
		limiter:      limiter,
		deduper:      deduper,
		digester:     digester,
		dispatcher:   dispatcher,
		sched:        sched,
		orch:         orch,
		users:        newUserActivity(),
	}, nil
}

// Contents returns the built-in content registry, or nil when the host
// supplied its own store via Options.
func (a *App) Contents() *content.Registry { return a.registry }

// Bus exposes the in-process event bus for host subscriptions.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app run context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	runCtx := a.sup.Context()
	a.dispatcher.Start(runCtx)
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}
	if err := a.registerMaintenance(); err != nil {
		return err
	}

	a.sup.Go0("bus.consume", func(c context.Context) { a.consumeBus(c) })

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("engine started")
	return nil
}

// registerMaintenance installs the recurring jobs the services expect:
// profile recomputes, window pruning and the daily budget adjustment.
func (a *App) registerMaintenance() error {
	if !a.sched.Enabled() {
		return nil
	}
	cfg := a.cfgm.Get()

	recompute, err := config.ParseDurationOrDefault("scheduler.profile_recompute", cfg.Scheduler.ProfileRecompute, time.Hour)
	if err != nil {
		return err
	}
	pruneEvery, err := config.ParseDurationOrDefault("scheduler.prune_every", cfg.Scheduler.PruneEvery, 10*time.Minute)
	if err != nil {
		return err
	}

	if _, err := a.sched.AddInterval("profiles.recompute", recompute, 5*time.Minute, a.recomputeProfiles); err != nil {
		return err
	}
	if _, err := a.sched.AddInterval("maintenance.prune", pruneEvery, time.Minute, func(ctx context.Context) error {
		now := time.Now()
		a.limiter.Prune()
		a.digester.Prune()
		dropped := a.history.Prune(now)
		inactive, evicted := a.tracker.Sweep(now)
		a.users.prune(now.Add(-7 * 24 * time.Hour))
		a.log.Debug("maintenance prune",
			logx.Int("events_dropped", dropped),
			logx.Int("inactive", inactive),
			logx.Int("evicted", evicted))
		return nil
	}); err != nil {
		return err
	}
	if _, err := a.sched.AddDaily("ratelimit.adjust", "03:00", time.Minute, func(ctx context.Context) error {
		a.limiter.AdjustDaily()
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// consumeBus folds delivery feedback back into the adaptive layers and
// keeps a debug trace of bus traffic.
func (a *App) consumeBus(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type != eventbus.TypeFeedback {
				continue
			}
			fb, ok := e.Data.(Feedback)
			if !ok || fb.UserID == "" {
				continue
			}
			a.personalizer.RecordFeedback(ctx, fb.UserID, fb.Positive)
			a.limiter.RecordEngagement(fb.UserID, fb.Positive)
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Debug("config change summary", fields...)
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg

			if len(sections) > 0 {
				a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	for _, sect := range []struct {
		name string
		same bool
	}{
		{"storage", oldCfg == nil || oldCfg.Storage == newCfg.Storage},
		{"pipeline", oldCfg == nil || oldCfg.Pipeline == newCfg.Pipeline},
	} {
		if !sect.same {
			a.log.Warn(sect.name + " config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	a.limiter.Apply(mapRateLimitConfig(newCfg))
	a.deduper.Apply(dedup.Config{Enabled: newCfg.Dedup.Enabled, Rules: dedup.DefaultRules()})
	a.digester.Apply(digest.Config{Enabled: newCfg.Digest.Enabled, Rules: digest.DefaultRules()})

	inactive, _ := config.ParseDurationField("behavior.inactive_after", newCfg.Behavior.InactiveAfter)
	evict, _ := config.ParseDurationField("behavior.evict_after", newCfg.Behavior.EvictAfter)
	a.tracker.SetSweepWindows(inactive, evict)
	a.builder.SetDecay(newCfg.Profile.DecayFactor, newCfg.Profile.FloorWeight)

	if dcfg, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := oldCfg != nil && oldCfg.Dispatch.Enabled
		a.dispatcher.Apply(dcfg)
		if prevEnabled && !dcfg.Enabled {
			a.log.Info("dispatch disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.dispatcher.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && dcfg.Enabled {
			a.log.Info("dispatch enabled via config")
			a.dispatcher.Start(ctx)
		}
	}

	if scfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		if prevEnabled && !scfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && scfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
			if err := a.registerMaintenance(); err != nil {
				a.log.Warn("maintenance jobs not registered", logx.Err(err))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatch", 3*time.Second, func(c context.Context) error { a.dispatcher.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// logProvider is the fallback delivery backend: it logs the attempt and
// reports success. Hosts supply a real Provider via Options.
type logProvider struct {
	log logx.Logger
}

func (p logProvider) Send(_ context.Context, ch profile.Channel, n notification.Notification) error {
	p.log.Info("deliver",
		logx.String("channel", string(ch)),
		logx.String("id", n.ID),
		logx.String("user", n.UserID),
		logx.String("title", n.Title))
	return nil
}
