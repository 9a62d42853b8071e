package behavior

import (
	"hash/fnv"
	"sync"
	"time"

	"smartpush/internal/eventbus"
	"smartpush/pkg/logx"
)

// EngagementLevel is the rolling engagement estimate for a live user.
type EngagementLevel string

const (
	EngagementHigh   EngagementLevel = "high"
	EngagementMedium EngagementLevel = "medium"
	EngagementLow    EngagementLevel = "low"
)

// AnomalyKind names a detected event-stream anomaly.
type AnomalyKind string

const (
	AnomalyEventBurst   AnomalyKind = "event_burst"
	AnomalyScrollSpeed  AnomalyKind = "scroll_speed"
	AnomalyClickBurst   AnomalyKind = "click_burst"
	AnomalyDeviceSwitch AnomalyKind = "device_switch"
)

// Anomaly is a soft signal; it never blocks scoring or delivery.
type Anomaly struct {
	UserID string      `json:"user_id"`
	Kind   AnomalyKind `json:"kind"`
	At     time.Time   `json:"at"`
	Detail string      `json:"detail,omitempty"`
}

// FollowUp is a soft action the processor suggests after certain events,
// e.g. a re-engagement check some time after a session ends.
type FollowUp struct {
	UserID string        `json:"user_id"`
	Action string        `json:"action"`
	After  time.Duration `json:"after"`
}

// Update is what Process returns for a single event.
type Update struct {
	Engagement       EngagementLevel
	Anomalies        []Anomaly
	Recommendations  []string
	FollowUps        []FollowUp
	FlaggedForReview bool
}

const (
	liveBufferSize       = 20
	defaultInactiveAfter = 30 * time.Minute
	defaultEvictAfter    = 2 * time.Hour
	anomalyThreshold     = 3

	burstWindow     = 2 * time.Second
	burstCount      = 5
	clickWindow     = 5 * time.Second
	clickCount      = 10
	maxScrollSpeed  = 5000.0
	deviceSwitchGap = time.Minute
)

type liveState struct {
	buf   [liveBufferSize]Event
	head  int
	count int

	lastActivity time.Time
	sessionID    string
	contentID    string
	device       DeviceInfo
	inactive     bool

	clickTimes   []time.Time
	anomalyCount int
	engagement   EngagementLevel
}

func (st *liveState) push(e Event) {
	st.buf[st.head] = e
	st.head = (st.head + 1) % liveBufferSize
	if st.count < liveBufferSize {
		st.count++
	}
}

// recent returns buffered events ordered oldest first.
func (st *liveState) recent() []Event {
	out := make([]Event, 0, st.count)
	start := (st.head - st.count + liveBufferSize*2) % liveBufferSize
	for i := 0; i < st.count; i++ {
		out = append(out, st.buf[(start+i)%liveBufferSize])
	}
	return out
}

const processorShards = 32

type shard struct {
	mu    sync.Mutex
	users map[string]*liveState
}

// Processor maintains live per-user state from the event stream.
//
// State is sharded by user id so unrelated users never contend on a lock;
// within one user, updates are serialized by the shard mutex.
type Processor struct {
	shards [processorShards]*shard
	bus    eventbus.Bus
	log    logx.Logger

	winMu         sync.Mutex
	inactiveAfter time.Duration
	evictAfter    time.Duration
}

func NewProcessor(bus eventbus.Bus, log logx.Logger) *Processor {
	p := &Processor{
		bus:           bus,
		log:           log,
		inactiveAfter: defaultInactiveAfter,
		evictAfter:    defaultEvictAfter,
	}
	for i := range p.shards {
		p.shards[i] = &shard{users: map[string]*liveState{}}
	}
	return p
}

// SetSweepWindows overrides the idle and eviction thresholds used by
// Sweep. Zero or negative values keep the current setting.
func (p *Processor) SetSweepWindows(inactive, evict time.Duration) {
	p.winMu.Lock()
	if inactive > 0 {
		p.inactiveAfter = inactive
	}
	if evict > 0 {
		p.evictAfter = evict
	}
	p.winMu.Unlock()
}

func (p *Processor) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return p.shards[h.Sum32()%processorShards]
}

// Process folds one event into the user's live state and returns the
// resulting signals. Anomalies are published on the bus as soft flags.
func (p *Processor) Process(e Event) Update {
	sh := p.shardFor(e.UserID)
	sh.mu.Lock()

	st, ok := sh.users[e.UserID]
	if !ok {
		st = &liveState{engagement: EngagementLow}
		sh.users[e.UserID] = st
	}

	var up Update
	up.Anomalies = detectAnomalies(st, e)

	st.push(e)
	st.lastActivity = e.At
	st.inactive = false
	st.sessionID = e.SessionID
	if e.ContentID != "" {
		st.contentID = e.ContentID
	}
	if !e.Meta.Device.IsZero() {
		st.device = e.Meta.Device
	}
	if e.Type == EventClick {
		st.clickTimes = append(st.clickTimes, e.At)
		if len(st.clickTimes) > clickCount {
			st.clickTimes = st.clickTimes[len(st.clickTimes)-clickCount:]
		}
	}

	st.anomalyCount += len(up.Anomalies)
	up.FlaggedForReview = st.anomalyCount > anomalyThreshold

	st.engagement = engagementLevel(st.recent())
	up.Engagement = st.engagement

	up.Recommendations = recommendations(e)
	up.FollowUps = followUps(e)
	sh.mu.Unlock()

	p.publish(up, e)
	return up
}

func detectAnomalies(st *liveState, e Event) []Anomaly {
	var out []Anomaly

	if st.count >= burstCount-1 {
		recent := st.recent()
		nth := recent[len(recent)-(burstCount-1)]
		if e.At.Sub(nth.At) < burstWindow {
			out = append(out, Anomaly{UserID: e.UserID, Kind: AnomalyEventBurst, At: e.At, Detail: "event rate above human plausibility"})
		}
	}
	if e.Type == EventScroll && e.Meta.ScrollSpeed > maxScrollSpeed {
		out = append(out, Anomaly{UserID: e.UserID, Kind: AnomalyScrollSpeed, At: e.At, Detail: "scroll speed exceeds limit"})
	}
	if e.Type == EventClick && len(st.clickTimes) >= clickCount-1 {
		oldest := st.clickTimes[len(st.clickTimes)-(clickCount-1)]
		if e.At.Sub(oldest) < clickWindow {
			out = append(out, Anomaly{UserID: e.UserID, Kind: AnomalyClickBurst, At: e.At, Detail: "click burst"})
		}
	}
	if !e.Meta.Device.IsZero() && !st.device.IsZero() && !st.device.Equal(e.Meta.Device) {
		if e.At.Sub(st.lastActivity) < deviceSwitchGap {
			out = append(out, Anomaly{UserID: e.UserID, Kind: AnomalyDeviceSwitch, At: e.At, Detail: "device changed within a minute"})
		}
	}
	return out
}

// engagementLevel derives high/medium/low from the ratio of deep event
// types in the live buffer.
func engagementLevel(recent []Event) EngagementLevel {
	if len(recent) == 0 {
		return EngagementLow
	}
	deep := 0
	for _, e := range recent {
		if e.Type.Deep() {
			deep++
		}
	}
	ratio := float64(deep) / float64(len(recent))
	switch {
	case ratio >= 0.3:
		return EngagementHigh
	case ratio >= 0.1:
		return EngagementMedium
	default:
		return EngagementLow
	}
}

func recommendations(e Event) []string {
	switch e.Type {
	case EventReadComplete:
		return []string{"offer_related_content"}
	case EventBookmark:
		return []string{"suggest_collection"}
	case EventSearch:
		return []string{"surface_search_results"}
	default:
		return nil
	}
}

func followUps(e Event) []FollowUp {
	if e.Type == EventSessionEnd {
		return []FollowUp{{UserID: e.UserID, Action: "re_engagement_check", After: 24 * time.Hour}}
	}
	return nil
}

func (p *Processor) publish(up Update, e Event) {
	if p.bus == nil {
		return
	}
	for _, a := range up.Anomalies {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeAnomalyDetected, Time: a.At, Data: a})
	}
	if up.FlaggedForReview {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeFlagForReview, Time: e.At, Data: e.UserID})
	}
	for _, f := range up.FollowUps {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeFollowUp, Time: e.At, Data: f})
	}
	if e.Type == EventSessionEnd {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionEnded, Time: e.At, Data: e})
	}
}

// Engagement reports the current engagement level for a user, if live.
func (p *Processor) Engagement(userID string) (EngagementLevel, bool) {
	sh := p.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.users[userID]
	if !ok {
		return EngagementLow, false
	}
	return st.engagement, true
}

// Sweep marks idle users inactive and evicts long-idle ones entirely.
// Intended to run from a maintenance schedule.
func (p *Processor) Sweep(now time.Time) (inactive, evicted int) {
	p.winMu.Lock()
	idleCut, evictCut := p.inactiveAfter, p.evictAfter
	p.winMu.Unlock()
	for _, sh := range p.shards {
		sh.mu.Lock()
		for id, st := range sh.users {
			idle := now.Sub(st.lastActivity)
			switch {
			case idle >= evictCut:
				delete(sh.users, id)
				evicted++
			case idle >= idleCut && !st.inactive:
				st.inactive = true
				inactive++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 || inactive > 0 {
		p.log.Debug("live state sweep", logx.Int("inactive", inactive), logx.Int("evicted", evicted))
	}
	return inactive, evicted
}

// LiveUsers returns the number of tracked users (for status/metrics).
func (p *Processor) LiveUsers() int {
	n := 0
	for _, sh := range p.shards {
		sh.mu.Lock()
		n += len(sh.users)
		sh.mu.Unlock()
	}
	return n
}
