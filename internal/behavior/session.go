package behavior

import (
	"errors"
	"math"
	"sort"
	"time"
)

// ScrollPattern classifies how a user moved through one piece of content.
type ScrollPattern string

const (
	ScrollFastConsistent ScrollPattern = "fast_consistent"
	ScrollSlowConsistent ScrollPattern = "slow_consistent"
	ScrollErratic        ScrollPattern = "erratic"
	ScrollFastScanning   ScrollPattern = "fast_scanning"
	ScrollNormalReading  ScrollPattern = "normal_reading"
	ScrollNone           ScrollPattern = "no_scroll"
)

// ReadingIntent is the inferred reason the user opened the content.
type ReadingIntent string

const (
	IntentScanning       ReadingIntent = "scanning"
	IntentFocusedReading ReadingIntent = "focused_reading"
	IntentSearching      ReadingIntent = "searching"
	IntentCasualBrowsing ReadingIntent = "casual_browsing"
	IntentResearch       ReadingIntent = "research"
	IntentEntertainment  ReadingIntent = "entertainment"
)

// Pause is a gap of at least pauseGap between two consecutive events.
type Pause struct {
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Position float64       `json:"position"` // scroll position when the pause began
}

// QualityIndicators are secondary signals about how the content was consumed.
type QualityIndicators struct {
	BackScrollRatio  float64 `json:"back_scroll_ratio"`
	SpeedSteadiness  float64 `json:"speed_steadiness"`
	FocusedSections  int     `json:"focused_sections"`
	SkippedSections  int     `json:"skipped_sections"`
	InteractionDepth float64 `json:"interaction_depth"`
}

// SessionSummary is the analyzer output for one (user, content) session.
type SessionSummary struct {
	UserID    string `json:"user_id"`
	ContentID string `json:"content_id"`

	Pattern       ScrollPattern `json:"pattern"`
	Pauses        []Pause       `json:"pauses,omitempty"`
	ActiveReading time.Duration `json:"active_reading"`
	ReadingSpeed  float64       `json:"reading_speed"` // words per minute
	Completion    float64       `json:"completion"`    // 0..1
	Intent        ReadingIntent `json:"intent"`
	Engagement    float64       `json:"engagement"` // 0..1

	Quality QualityIndicators `json:"quality"`
}

const (
	// pauseGap is the minimum idle gap between events that counts as a pause.
	pauseGap = 5 * time.Second

	// Scroll classification thresholds.
	consistentVariance = 50.0
	erraticVariance    = 200.0
	fastMeanSpeed      = 300.0
	scanMeanSpeed      = 500.0
	skimSpeed          = 1000.0

	// Expected casual reading speed used to normalize time spent.
	baselineWPM = 200.0
)

var ErrNoEvents = errors.New("session: no events")

// AnalyzeSession computes a session summary from the time-ordered scroll,
// pause and click events of one (user, content) pair. wordCount is the
// content length; 0 disables reading-speed computation.
func AnalyzeSession(events []Event, wordCount int) (SessionSummary, error) {
	if len(events) == 0 {
		return SessionSummary{}, ErrNoEvents
	}
	evs := append([]Event(nil), events...)
	sort.Slice(evs, func(i, j int) bool { return evs[i].At.Before(evs[j].At) })

	sum := SessionSummary{
		UserID:    evs[0].UserID,
		ContentID: evs[0].ContentID,
	}

	speeds := scrollSpeeds(evs)
	mean, variance := meanVariance(speeds)
	sum.Pattern = classifyScroll(speeds, mean, variance)
	sum.Pauses = extractPauses(evs)

	elapsed := evs[len(evs)-1].At.Sub(evs[0].At)
	paused := time.Duration(0)
	for _, p := range sum.Pauses {
		paused += p.Duration
	}
	sum.ActiveReading = elapsed - paused
	if sum.ActiveReading < 0 {
		sum.ActiveReading = 0
	}

	if wordCount > 0 && sum.ActiveReading > 0 {
		sum.ReadingSpeed = float64(wordCount) / (sum.ActiveReading.Minutes())
	}
	sum.Completion = maxScrollPosition(evs)
	sum.Intent = classifyIntent(sum, mean)
	sum.Quality = qualityIndicators(evs, speeds, mean, sum.Pauses)
	sum.Engagement = engagementScore(sum, wordCount)
	return sum, nil
}

func scrollSpeeds(evs []Event) []float64 {
	var out []float64
	for _, e := range evs {
		if e.Type == EventScroll && e.Meta.ScrollSpeed > 0 {
			out = append(out, e.Meta.ScrollSpeed)
		}
	}
	return out
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, variance
}

func classifyScroll(speeds []float64, mean, variance float64) ScrollPattern {
	switch {
	case len(speeds) == 0:
		return ScrollNone
	case variance < consistentVariance && mean >= fastMeanSpeed:
		return ScrollFastConsistent
	case variance < consistentVariance:
		return ScrollSlowConsistent
	case variance >= erraticVariance:
		return ScrollErratic
	case mean >= scanMeanSpeed:
		return ScrollFastScanning
	default:
		return ScrollNormalReading
	}
}

func extractPauses(evs []Event) []Pause {
	var out []Pause
	for i := 1; i < len(evs); i++ {
		gap := evs[i].At.Sub(evs[i-1].At)
		if gap >= pauseGap {
			out = append(out, Pause{
				Start:    evs[i-1].At,
				Duration: gap,
				Position: evs[i-1].Meta.ScrollPosition,
			})
		}
	}
	return out
}

func maxScrollPosition(evs []Event) float64 {
	maxPos := 0.0
	for _, e := range evs {
		if e.Meta.ScrollPosition > maxPos {
			maxPos = e.Meta.ScrollPosition
		}
	}
	if maxPos > 1 {
		maxPos = 1
	}
	return maxPos
}

func avgPause(pauses []Pause) time.Duration {
	if len(pauses) == 0 {
		return 0
	}
	var total time.Duration
	for _, p := range pauses {
		total += p.Duration
	}
	return total / time.Duration(len(pauses))
}

// classifyIntent is a fixed rule table over pattern, pause stats and speed.
func classifyIntent(sum SessionSummary, meanSpeed float64) ReadingIntent {
	pauses := len(sum.Pauses)
	avg := avgPause(sum.Pauses)

	switch {
	case (sum.Pattern == ScrollFastConsistent || sum.Pattern == ScrollFastScanning) && meanSpeed > 400:
		return IntentScanning
	case sum.Pattern == ScrollSlowConsistent && pauses >= 4 && avg > 10*time.Second:
		return IntentFocusedReading
	case sum.Pattern == ScrollErratic && pauses >= 5:
		return IntentSearching
	case pauses >= 6:
		return IntentResearch
	case pauses <= 1:
		return IntentCasualBrowsing
	default:
		return IntentEntertainment
	}
}

// engagementScore is a weighted blend of time spent, scroll pattern quality,
// pause meaningfulness and completion, clamped to [0,1].
func engagementScore(sum SessionSummary, wordCount int) float64 {
	timeScore := 1.0
	if wordCount > 0 {
		expected := float64(wordCount) / baselineWPM // minutes
		if expected > 0 {
			timeScore = clamp01(sum.ActiveReading.Minutes() / expected)
		}
	} else if sum.ActiveReading < 30*time.Second {
		timeScore = sum.ActiveReading.Seconds() / 30
	}

	score := 0.3*timeScore +
		0.2*patternGoodness(sum.Pattern) +
		0.2*pauseMeaningfulness(sum.Pauses) +
		0.3*sum.Completion
	return clamp01(score)
}

func patternGoodness(p ScrollPattern) float64 {
	switch p {
	case ScrollNormalReading:
		return 1.0
	case ScrollSlowConsistent:
		return 0.9
	case ScrollFastConsistent:
		return 0.5
	case ScrollErratic:
		return 0.4
	case ScrollFastScanning:
		return 0.3
	default: // no_scroll
		return 0.2
	}
}

// pauseMeaningfulness scores pauses that look like actual reading stops
// (roughly 10s..2m) over accidental or abandoned ones.
func pauseMeaningfulness(pauses []Pause) float64 {
	if len(pauses) == 0 {
		return 0.3
	}
	meaningful := 0
	for _, p := range pauses {
		if p.Duration >= 10*time.Second && p.Duration <= 2*time.Minute {
			meaningful++
		}
	}
	return clamp01(float64(meaningful) / float64(len(pauses)))
}

func qualityIndicators(evs []Event, speeds []float64, mean float64, pauses []Pause) QualityIndicators {
	var q QualityIndicators

	scrolls, backScrolls, skims, interactions := 0, 0, 0, 0
	for _, e := range evs {
		switch e.Type {
		case EventScroll:
			scrolls++
			if e.Meta.ScrollDir == "up" {
				backScrolls++
			}
			if e.Meta.ScrollSpeed > skimSpeed {
				skims++
			}
		case EventLike, EventShare, EventComment, EventClick:
			interactions++
		}
	}
	if scrolls > 0 {
		q.BackScrollRatio = float64(backScrolls) / float64(scrolls)
	}
	if len(speeds) > 0 && mean > 0 {
		_, variance := meanVariance(speeds)
		q.SpeedSteadiness = clamp01(1 - math.Sqrt(variance)/mean)
	}
	q.FocusedSections = len(pauses)
	q.SkippedSections = skims
	q.InteractionDepth = clamp01(float64(interactions) / 5)
	return q
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
