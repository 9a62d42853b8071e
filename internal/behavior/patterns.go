package behavior

import (
	"errors"
	"math"
	"time"
)

// PatternKind names a long-term behavioral pattern.
type PatternKind string

const (
	PatternPowerUser   PatternKind = "power_user"
	PatternRegularUser PatternKind = "regular_user"
	PatternCasualUser  PatternKind = "casual_user"
	PatternDormantUser PatternKind = "dormant_user"

	PatternFocusedReader   PatternKind = "focused_reader"
	PatternContentExplorer PatternKind = "content_explorer"
	PatternSocialSharer    PatternKind = "social_sharer"
	PatternNightOwl        PatternKind = "night_owl"
	PatternEarlyBird       PatternKind = "early_bird"
	PatternWeekendWarrior  PatternKind = "weekend_warrior"
)

// TrendDirection describes how engagement moved over the event history.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendStable     TrendDirection = "stable"
	TrendDecreasing TrendDirection = "decreasing"
)

// SubPattern is a secondary behavior classification with its confidence.
type SubPattern struct {
	Kind       PatternKind `json:"kind"`
	Confidence float64     `json:"confidence"`
}

// ActivityLevel captures raw activity rates over the observed history.
type ActivityLevel struct {
	EventsPerDay   float64 `json:"events_per_day"`
	SessionsPerDay float64 `json:"sessions_per_day"`
}

// PatternReport is the output of DetectPatterns.
type PatternReport struct {
	Primary    PatternKind    `json:"primary"`
	Confidence float64        `json:"confidence"`
	Sub        []SubPattern   `json:"sub,omitempty"`
	Activity   ActivityLevel  `json:"activity"`
	ChurnRisk  float64        `json:"churn_risk"`
	Trend      TrendDirection `json:"trend"`
}

// MinPatternEvents is the history size below which DetectPatterns degrades
// to a default report instead of guessing.
const MinPatternEvents = 50

var ErrInsufficientHistory = errors.New("patterns: insufficient event history")

// DefaultPatternReport is returned (with ErrInsufficientHistory) when a
// user's history is too short for classification.
func DefaultPatternReport() PatternReport {
	return PatternReport{
		Primary:    PatternCasualUser,
		Confidence: 0.2,
		Trend:      TrendStable,
		ChurnRisk:  0.5,
	}
}

// DetectPatterns classifies a user's longer-term behavior from their event
// history. Events need not be sorted.
func DetectPatterns(events []Event, now time.Time) (PatternReport, error) {
	if len(events) < MinPatternEvents {
		return DefaultPatternReport(), ErrInsufficientHistory
	}

	first, last := events[0].At, events[0].At
	sessions := map[string]bool{}
	engagements := 0
	hourCounts := [24]int{}
	weekendEvents := 0
	readStarts, readCompletes := 0, 0
	social := 0
	contentSeen := map[string]bool{}

	for _, e := range events {
		if e.At.Before(first) {
			first = e.At
		}
		if e.At.After(last) {
			last = e.At
		}
		sessions[e.SessionID] = true
		if e.Type.Engagement() {
			engagements++
		}
		hourCounts[e.At.Hour()]++
		if wd := e.At.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekendEvents++
		}
		switch e.Type {
		case EventReadStart:
			readStarts++
		case EventReadComplete:
			readCompletes++
		case EventShare, EventComment:
			social++
		}
		if e.ContentID != "" {
			contentSeen[e.ContentID] = true
		}
	}

	days := last.Sub(first).Hours() / 24
	if days < 1 {
		days = 1
	}
	total := float64(len(events))
	act := ActivityLevel{
		EventsPerDay:   total / days,
		SessionsPerDay: float64(len(sessions)) / days,
	}

	rep := PatternReport{Activity: act}
	rep.Primary, rep.Confidence = classifyPrimary(act)
	rep.Sub = detectSubPatterns(events, act, hourCounts, weekendEvents, readStarts, readCompletes, social, len(contentSeen))
	rep.ChurnRisk = churnRisk(now, last, act, float64(engagements)/total)
	rep.Trend = engagementTrend(events)
	return rep, nil
}

func classifyPrimary(act ActivityLevel) (PatternKind, float64) {
	switch {
	case act.EventsPerDay >= 20 && act.SessionsPerDay >= 3:
		return PatternPowerUser, confidenceFor(act.EventsPerDay, 20)
	case act.EventsPerDay >= 5:
		return PatternRegularUser, confidenceFor(act.EventsPerDay, 5)
	case act.EventsPerDay >= 1:
		return PatternCasualUser, confidenceFor(act.EventsPerDay, 1)
	default:
		return PatternDormantUser, 0.9
	}
}

// confidenceFor grows with how far the rate clears its threshold.
func confidenceFor(rate, threshold float64) float64 {
	if threshold <= 0 {
		return 0.5
	}
	return clamp01(0.5 + 0.25*(rate/threshold-1))
}

func detectSubPatterns(events []Event, act ActivityLevel, hourCounts [24]int, weekendEvents, readStarts, readCompletes, social, distinctContent int) []SubPattern {
	total := float64(len(events))
	var out []SubPattern

	if readStarts > 0 {
		if ratio := float64(readCompletes) / float64(readStarts); ratio >= 0.5 {
			out = append(out, SubPattern{Kind: PatternFocusedReader, Confidence: clamp01(ratio)})
		}
	}
	if distinctContent > 0 {
		// Many distinct items per day suggests exploration over depth.
		perDay := float64(distinctContent) / math.Max(1, total/math.Max(1, act.EventsPerDay))
		if perDay >= 5 {
			out = append(out, SubPattern{Kind: PatternContentExplorer, Confidence: clamp01(perDay / 15)})
		}
	}
	if ratio := float64(social) / total; ratio >= 0.15 {
		out = append(out, SubPattern{Kind: PatternSocialSharer, Confidence: clamp01(ratio / 0.3)})
	}

	night, morning := 0, 0
	for h := 0; h <= 5; h++ {
		night += hourCounts[h]
	}
	for h := 5; h <= 8; h++ {
		morning += hourCounts[h]
	}
	if ratio := float64(night) / total; ratio >= 0.3 {
		out = append(out, SubPattern{Kind: PatternNightOwl, Confidence: clamp01(ratio / 0.5)})
	}
	if ratio := float64(morning) / total; ratio >= 0.3 {
		out = append(out, SubPattern{Kind: PatternEarlyBird, Confidence: clamp01(ratio / 0.5)})
	}
	if ratio := float64(weekendEvents) / total; ratio >= 0.4 {
		out = append(out, SubPattern{Kind: PatternWeekendWarrior, Confidence: clamp01(ratio / 0.6)})
	}
	return out
}

// churnRisk blends recency of the last event, event frequency, and the
// ratio of engagement events. Higher is riskier.
func churnRisk(now, lastEvent time.Time, act ActivityLevel, engagementRatio float64) float64 {
	daysSince := now.Sub(lastEvent).Hours() / 24
	recency := clamp01(daysSince / 30)
	frequency := 1 - clamp01(act.EventsPerDay/5)
	engagement := 1 - clamp01(engagementRatio*5)
	return clamp01(0.4*recency + 0.3*frequency + 0.3*engagement)
}

// engagementTrend compares the engagement-event ratio between the first and
// second half of the history. A relative change above 20% is directional.
func engagementTrend(events []Event) TrendDirection {
	half := len(events) / 2
	if half == 0 {
		return TrendStable
	}
	firstRatio := engagementRatio(events[:half])
	secondRatio := engagementRatio(events[half:])
	if firstRatio == 0 {
		if secondRatio > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := (secondRatio - firstRatio) / firstRatio
	switch {
	case change > 0.2:
		return TrendIncreasing
	case change < -0.2:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func engagementRatio(events []Event) float64 {
	if len(events) == 0 {
		return 0
	}
	n := 0
	for _, e := range events {
		if e.Type.Engagement() {
			n++
		}
	}
	return float64(n) / float64(len(events))
}
