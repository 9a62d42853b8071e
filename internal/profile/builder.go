package profile

import (
	"math"
	"sort"
	"time"

	"smartpush/internal/behavior"
	"smartpush/internal/content"
	"smartpush/pkg/logx"
)

const (
	decayFactor = 0.95
	// weightFloor drops interests whose share fell below 10% after decay
	// and renormalization.
	weightFloor = 0.1

	contentShare  = 0.6
	socialShare   = 0.3
	temporalShare = 0.1

	peakFactor  = 1.2
	quietFactor = 0.3
)

// socialActionWeights orders explicit actions by how strong an interest
// signal they are.
var socialActionWeights = map[behavior.EventType]float64{
	behavior.EventComment:      1.0,
	behavior.EventShare:        0.8,
	behavior.EventBookmark:     0.6,
	behavior.EventLike:         0.5,
	behavior.EventReadComplete: 0.4,
	behavior.EventClick:        0.2,
}

// Builder folds session and pattern signals into decaying, normalized
// interest profiles. All per-user state lives in the Profile.
type Builder struct {
	log   logx.Logger
	decay float64
	floor float64
}

func NewBuilder(log logx.Logger) *Builder {
	return &Builder{log: log, decay: decayFactor, floor: weightFloor}
}

// SetDecay overrides the per-cycle decay factor and the share floor
// below which interests are dropped. Out-of-range values keep the
// current setting.
func (b *Builder) SetDecay(factor, floor float64) {
	if factor > 0 && factor <= 1 {
		b.decay = factor
	}
	if floor > 0 && floor < 1 {
		b.floor = floor
	}
}

// Rebuild runs one recompute cycle over the user's recent events.
//
// lookup resolves content ids to items; unresolvable ids only contribute
// temporal signals. sessions are the analyzer summaries accumulated since
// the previous cycle.
func (b *Builder) Rebuild(p *Profile, events []behavior.Event, lookup func(id string) (content.Item, bool), sessions []behavior.SessionSummary, now time.Time) {
	fresh := map[string]float64{}

	addWeighted(fresh, b.contentInterests(events, lookup), contentShare)
	addWeighted(fresh, b.socialInterests(events, lookup), socialShare)

	b.updateTemporal(p, events, sessions)

	// Peak-hour bonus: interests reinforced during the user's own peak
	// hours get the remaining share.
	addWeighted(fresh, b.peakHourInterests(p, events, lookup), temporalShare)

	// Exponential decay of the previous cycle, then fold in fresh signal.
	for k, w := range p.Interests {
		p.Interests[k] = w * b.decay
	}
	for k, w := range fresh {
		p.Interests[k] += w
	}

	normalizeWithFloor(p.Interests, b.floor)

	b.updateSentiment(p, events, lookup)
	b.updateDevicePrefs(p, events)
	b.recordEngagement(p, events, lookup)
	p.Evolution = evolutionLabels(events, lookup, now)
	p.UpdatedAt = now

	b.log.Debug("profile rebuilt",
		logx.String("user", p.UserID),
		logx.Int("interests", len(p.Interests)),
		logx.Int("events", len(events)))
}

// contentInterests weighs consumed items by quality and their own
// engagement metrics, rolled up by category, entities and tags.
func (b *Builder) contentInterests(events []behavior.Event, lookup func(string) (content.Item, bool)) map[string]float64 {
	out := map[string]float64{}
	for _, e := range events {
		if e.ContentID == "" {
			continue
		}
		switch e.Type {
		case behavior.EventReadStart, behavior.EventReadProgress, behavior.EventReadComplete, behavior.EventPageView:
		default:
			continue
		}
		it, ok := lookup(e.ContentID)
		if !ok {
			continue
		}
		w := 1 + it.Quality*0.3 + engagementBonus(it.Metrics)
		rollUp(out, it, w)
	}
	return out
}

// engagementBonus normalizes an item's own engagement into [0, 0.5].
func engagementBonus(m content.Metrics) float64 {
	if m.Views <= 0 {
		return 0
	}
	ratio := float64(m.Likes+m.Shares+m.Comments) / float64(m.Views)
	return 0.5 * clamp01(ratio*10)
}

func (b *Builder) socialInterests(events []behavior.Event, lookup func(string) (content.Item, bool)) map[string]float64 {
	out := map[string]float64{}
	for _, e := range events {
		w, ok := socialActionWeights[e.Type]
		if !ok || e.ContentID == "" {
			continue
		}
		it, found := lookup(e.ContentID)
		if !found {
			continue
		}
		rollUp(out, it, w)
	}
	return out
}

func (b *Builder) peakHourInterests(p *Profile, events []behavior.Event, lookup func(string) (content.Item, bool)) map[string]float64 {
	out := map[string]float64{}
	for _, e := range events {
		if e.ContentID == "" || !p.Patterns.IsPeakHour(e.At.Hour()) {
			continue
		}
		it, ok := lookup(e.ContentID)
		if !ok {
			continue
		}
		rollUp(out, it, 1)
	}
	return out
}

// rollUp credits an item's category fully, entities at half weight and tags
// at a third.
func rollUp(into map[string]float64, it content.Item, w float64) {
	if it.Category != "" {
		into[it.Category] += w
	}
	for _, ent := range it.Entities {
		into[ent] += w * 0.5
	}
	for _, tag := range it.Tags {
		into[tag] += w / 3
	}
}

func addWeighted(dst, src map[string]float64, share float64) {
	total := 0.0
	for _, v := range src {
		total += v
	}
	if total <= 0 {
		return
	}
	for k, v := range src {
		dst[k] += share * v / total
	}
}

// normalizeWithFloor renormalizes weights to sum to 1 and drops entries
// below the floor. Dropping only grows the remaining shares, so a single
// drop pass keeps every survivor at or above the floor.
func normalizeWithFloor(m map[string]float64, floor float64) {
	total := 0.0
	for _, v := range m {
		total += v
	}
	if total <= 0 {
		return
	}
	for k, v := range m {
		share := v / total
		if share < floor {
			delete(m, k)
		} else {
			m[k] = share
		}
	}
	// Renormalize survivors.
	total = 0
	for _, v := range m {
		total += v
	}
	if total <= 0 {
		return
	}
	for k, v := range m {
		m[k] = v / total
	}
}

func (b *Builder) updateTemporal(p *Profile, events []behavior.Event, sessions []behavior.SessionSummary) {
	for _, e := range events {
		p.Patterns.Hourly[e.At.Hour()]++
		p.Patterns.Daily[int(e.At.Weekday())]++
	}

	p.Patterns.PeakHours = peakHours(p.Patterns.Hourly)
	p.Patterns.QuietHours = quietHours(p.Patterns.Hourly)
	p.Patterns.Consistency = consistency(p.Patterns.Hourly)

	if len(sessions) > 0 {
		var dur time.Duration
		var speed, completion float64
		speedN := 0
		for _, s := range sessions {
			dur += s.ActiveReading
			completion += s.Completion
			if s.ReadingSpeed > 0 {
				speed += s.ReadingSpeed
				speedN++
			}
		}
		n := float64(len(sessions))
		// Rolling blend with the previous averages; new cycles count
		// equally rather than resetting.
		p.Patterns.AvgSessionDuration = blendDuration(p.Patterns.AvgSessionDuration, dur/time.Duration(len(sessions)))
		p.Patterns.AvgCompletion = blend(p.Patterns.AvgCompletion, completion/n)
		if speedN > 0 {
			p.Patterns.AvgReadingSpeed = blend(p.Patterns.AvgReadingSpeed, speed/float64(speedN))
		}
	}
}

func blend(prev, next float64) float64 {
	if prev == 0 {
		return next
	}
	return 0.7*prev + 0.3*next
}

func blendDuration(prev, next time.Duration) time.Duration {
	if prev == 0 {
		return next
	}
	return time.Duration(0.7*float64(prev) + 0.3*float64(next))
}

// peakHours returns buckets above 1.2x the hourly mean.
func peakHours(hourly [24]float64) []int {
	mean := histMean(hourly)
	if mean == 0 {
		return nil
	}
	var out []int
	for h, v := range hourly {
		if v > peakFactor*mean {
			out = append(out, h)
		}
	}
	return out
}

// quietHours returns contiguous runs of buckets below 0.3x the hourly mean.
// Isolated single low buckets do not count as quiet.
func quietHours(hourly [24]float64) []int {
	mean := histMean(hourly)
	if mean == 0 {
		return nil
	}
	low := [24]bool{}
	for h, v := range hourly {
		low[h] = v < quietFactor*mean
	}
	var out []int
	for h := 0; h < 24; h++ {
		prev := low[(h+23)%24]
		next := low[(h+1)%24]
		if low[h] && (prev || next) {
			out = append(out, h)
		}
	}
	return out
}

func histMean(hourly [24]float64) float64 {
	total := 0.0
	for _, v := range hourly {
		total += v
	}
	return total / 24
}

// consistency is 1 minus the coefficient of variation of the hourly
// histogram, clamped to [0,1]. Uniform activity scores 1.
func consistency(hourly [24]float64) float64 {
	mean := histMean(hourly)
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range hourly {
		d := v - mean
		variance += d * d
	}
	variance /= 24
	return clamp01(1 - math.Sqrt(variance)/mean)
}

func (b *Builder) updateSentiment(p *Profile, events []behavior.Event, lookup func(string) (content.Item, bool)) {
	pos, neu, neg := 0, 0, 0
	for _, e := range events {
		if e.ContentID == "" || !e.Type.Engagement() && e.Type != behavior.EventReadComplete {
			continue
		}
		it, ok := lookup(e.ContentID)
		if !ok {
			continue
		}
		switch {
		case it.Sentiment > 0.3:
			pos++
		case it.Sentiment < -0.3:
			neg++
		default:
			neu++
		}
	}
	total := pos + neu + neg
	if total == 0 {
		return
	}
	next := SentimentPrefs{
		Positive: float64(pos) / float64(total),
		Neutral:  float64(neu) / float64(total),
		Negative: float64(neg) / float64(total),
	}
	if p.Sentiment == (SentimentPrefs{}) {
		p.Sentiment = next
		return
	}
	p.Sentiment = SentimentPrefs{
		Positive: blend(p.Sentiment.Positive, next.Positive),
		Neutral:  blend(p.Sentiment.Neutral, next.Neutral),
		Negative: blend(p.Sentiment.Negative, next.Negative),
	}
}

// updateDevicePrefs nudges channel affinities toward the platforms the user
// actually generates events from.
func (b *Builder) updateDevicePrefs(p *Profile, events []behavior.Event) {
	mobile, desktop, total := 0, 0, 0
	for _, e := range events {
		switch e.Meta.Device.Platform {
		case "mobile", "tablet":
			mobile++
			total++
		case "desktop":
			desktop++
			total++
		}
	}
	if total == 0 {
		return
	}
	if p.DevicePrefs == nil {
		p.DevicePrefs = map[Channel]float64{}
	}
	mr := float64(mobile) / float64(total)
	dr := float64(desktop) / float64(total)
	p.DevicePrefs[ChannelPush] = clamp01(blend(p.DevicePrefs[ChannelPush], mr))
	p.DevicePrefs[ChannelInApp] = clamp01(blend(p.DevicePrefs[ChannelInApp], dr))
}

// recordEngagement appends engagement-class events to the profile's
// engagement log. Rebuild sees the same history buffer on every cycle,
// so only events newer than the last recorded entry are taken.
func (b *Builder) recordEngagement(p *Profile, events []behavior.Event, lookup func(string) (content.Item, bool)) {
	var last time.Time
	if n := len(p.Engagement); n > 0 {
		last = p.Engagement[n-1].At
	}
	for _, e := range events {
		if !e.At.After(last) {
			continue
		}
		if !e.Type.Engagement() && e.Type != behavior.EventReadComplete {
			continue
		}
		rec := EngagementRecord{At: e.At, Type: e.Type, ContentID: e.ContentID}
		if e.ContentID != "" {
			if it, ok := lookup(e.ContentID); ok {
				rec.Category = it.Category
			}
		}
		p.RecordEngagement(rec)
	}
}

// evolutionLabels classifies per-category interest over weekly windows.
func evolutionLabels(events []behavior.Event, lookup func(string) (content.Item, bool), now time.Time) map[string]EvolutionLabel {
	const weeks = 4
	counts := map[string][weeks]float64{}
	for _, e := range events {
		if e.ContentID == "" {
			continue
		}
		it, ok := lookup(e.ContentID)
		if !ok || it.Category == "" {
			continue
		}
		age := now.Sub(e.At)
		week := int(age.Hours() / (24 * 7))
		if week < 0 || week >= weeks {
			continue
		}
		c := counts[it.Category]
		c[weeks-1-week]++ // oldest first
		counts[it.Category] = c
	}

	out := map[string]EvolutionLabel{}
	for cat, c := range counts {
		out[cat] = classifyEvolution(c[:])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func classifyEvolution(weekly []float64) EvolutionLabel {
	mean := 0.0
	for _, v := range weekly {
		mean += v
	}
	mean /= float64(len(weekly))
	if mean == 0 {
		return EvolutionStable
	}

	variance := 0.0
	for _, v := range weekly {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(weekly))
	cv := math.Sqrt(variance) / mean

	latest := weekly[len(weekly)-1]
	priorMean := 0.0
	for _, v := range weekly[:len(weekly)-1] {
		priorMean += v
	}
	priorMean /= float64(len(weekly) - 1)

	switch {
	case priorMean > 0 && latest > 1.5*priorMean:
		return EvolutionEmerging
	case priorMean > 0 && latest < 0.5*priorMean:
		return EvolutionDeclining
	case cv > 0.8:
		return EvolutionSeasonal
	default:
		return EvolutionStable
	}
}

// WeightsSum returns the total of active interest weights (diagnostics).
func WeightsSum(p *Profile) float64 {
	total := 0.0
	for _, v := range p.Interests {
		total += v
	}
	return total
}

// TopInterests returns the n highest-weighted interest keys.
func TopInterests(p *Profile, n int) []string {
	type kv struct {
		k string
		v float64
	}
	arr := make([]kv, 0, len(p.Interests))
	for k, v := range p.Interests {
		arr = append(arr, kv{k, v})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].v > arr[j].v })
	if n > len(arr) {
		n = len(arr)
	}
	out := make([]string, 0, n)
	for _, e := range arr[:n] {
		out = append(out, e.k)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
