package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"smartpush/internal/content"
	"smartpush/internal/profile"
	"smartpush/pkg/logx"
)

// TimingContext carries delivery context for a prediction.
type TimingContext struct {
	Now time.Time

	// LastNotifiedAt is the time of the most recent notification to this
	// user, zero if none.
	LastNotifiedAt time.Time

	// Platform hints the user's dominant device ("mobile" or "desktop").
	Platform string
}

// Prediction is the timing predictor output.
type Prediction struct {
	OptimalAt    time.Time
	Confidence   float64
	Alternatives []time.Time
	Reasons      []string
	Risks        []string
}

// candidateFloor filters hourly slots that never make sense to pick.
const candidateFloor = 0.2

// Predictor chooses the best delivery time within the next 24 hours.
type Predictor struct {
	log logx.Logger
}

func NewPredictor(log logx.Logger) *Predictor {
	return &Predictor{log: log}
}

type slot struct {
	at    time.Time
	score float64
}

// Predict builds a score for each of the next 24 hourly slots and returns
// the best one plus up to three alternatives.
func (pr *Predictor) Predict(p *profile.Profile, it content.Item, tctx TimingContext) Prediction {
	now := tctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	slots := make([]slot, 0, 24)
	for i := 0; i < 24; i++ {
		at := now.Truncate(time.Hour).Add(time.Duration(i) * time.Hour)
		slots = append(slots, slot{at: at, score: pr.scoreSlot(p, it, tctx, now, at, i)})
	}

	candidates := make([]slot, 0, len(slots))
	for _, s := range slots {
		if s.score > candidateFloor {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var pred Prediction
	if len(candidates) == 0 {
		// Nothing clears the floor: fall back to the first non-quiet slot.
		pred.OptimalAt = fallbackSlot(p, slots)
		pred.Confidence = 0.3
		pred.Risks = append(pred.Risks, "no hourly slot cleared the score floor; prediction is a fallback")
		return pred
	}

	pred.OptimalAt = candidates[0].at
	for _, c := range candidates[1:] {
		pred.Alternatives = append(pred.Alternatives, c.at)
		if len(pred.Alternatives) == 3 {
			break
		}
	}
	pred.Confidence = pr.confidence(p, pred.OptimalAt)
	pred.Reasons = timingReasons(p, it, pred.OptimalAt)
	if it.Metrics.Urgency > 0.7 && pred.OptimalAt.Sub(now) > 3*time.Hour {
		pred.Risks = append(pred.Risks, "urgent content scheduled more than 3h out")
	}
	return pred
}

func (pr *Predictor) scoreSlot(p *profile.Profile, it content.Item, tctx TimingContext, now, at time.Time, offset int) float64 {
	hour := at.Hour()

	// Quiet hours are hard-zeroed; the user told us (or showed us) they
	// do not want to hear from us then.
	if p.Patterns.IsQuietHour(hour) {
		return 0
	}

	score := normalizedSlot(p.Patterns.Hourly[:], hour)
	if p.Patterns.IsPeakHour(hour) {
		score = math.Min(1, score*1.5)
	}

	switch tctx.Platform {
	case "mobile":
		if (hour >= 7 && hour <= 9) || (hour >= 18 && hour <= 21) {
			score = math.Min(1, score*1.2)
		}
	case "desktop":
		if hour >= 9 && hour <= 17 {
			score = math.Min(1, score*1.1)
		}
	}

	switch it.Category {
	case "entertainment", "sports":
		if hour >= 18 && hour <= 22 {
			score = math.Min(1, score*1.3)
		}
	case "education", "science":
		if hour >= 6 && hour <= 10 {
			score = math.Min(1, score*1.2)
		}
	}

	if it.Metrics.Urgency > 0.7 && offset < 3 {
		score = math.Min(1, score*(1+it.Metrics.Urgency))
	}

	// Spacing: avoid stacking right after a very recent notification.
	if !tctx.LastNotifiedAt.IsZero() && now.Sub(tctx.LastNotifiedAt) < 30*time.Minute && offset < 2 {
		score *= 0.3
	}

	score *= culturalDampening(at)
	return score
}

// culturalDampening applies recurring daily and weekly low-attention
// windows: the early-afternoon lull every day, and Friday midday weekly.
func culturalDampening(at time.Time) float64 {
	hour := at.Hour()
	if at.Weekday() == time.Friday && hour >= 11 && hour < 14 {
		return 0.5
	}
	if hour >= 13 && hour < 15 {
		return 0.7
	}
	return 1.0
}

func fallbackSlot(p *profile.Profile, slots []slot) time.Time {
	for _, s := range slots {
		if !p.Patterns.IsQuietHour(s.at.Hour()) {
			return s.at
		}
	}
	// Every hour is quiet (degenerate profile): just take the first slot.
	return slots[0].at
}

func (pr *Predictor) confidence(p *profile.Profile, chosen time.Time) float64 {
	conf := 0.5
	switch {
	case len(p.Engagement) > 100:
		conf += 0.2
	case len(p.Engagement) > 50:
		conf += 0.1
	}
	conf += 0.2 * p.Patterns.Consistency
	if p.Patterns.IsPeakHour(chosen.Hour()) {
		conf += 0.1
	}
	return math.Min(0.95, conf)
}

func timingReasons(p *profile.Profile, it content.Item, chosen time.Time) []string {
	var out []string
	if p.Patterns.IsPeakHour(chosen.Hour()) {
		out = append(out, fmt.Sprintf("%02d:00 is a peak activity hour", chosen.Hour()))
	}
	if it.Metrics.Urgency > 0.7 {
		out = append(out, "urgency pulled the window toward the next few hours")
	}
	if len(out) == 0 {
		out = append(out, "highest scoring hourly slot in the next 24h")
	}
	return out
}
