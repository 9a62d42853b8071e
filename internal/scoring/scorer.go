// Package scoring predicts how well a notification will land: an engagement
// score over seven weighted components, and a delivery-time prediction over
// the next 24 hours.
package scoring

import (
	"fmt"
	"math"
	"time"

	"smartpush/internal/content"
	"smartpush/internal/notification"
	"smartpush/internal/profile"
	"smartpush/internal/textsim"
	"smartpush/pkg/logx"
)

// Reference ceilings for normalizing an item's social proof.
const (
	refViews    = 10000.0
	refLikes    = 1000.0
	refShares   = 500.0
	refComments = 200.0
)

// Night interval used by the send/delay decision: [nightStart, nightEnd).
const (
	nightStart = 22
	nightEnd   = 6
)

// Scorer computes engagement scores. It is safe for concurrent use.
type Scorer struct {
	personalizer *Personalizer
	log          logx.Logger
}

func NewScorer(p *Personalizer, log logx.Logger) *Scorer {
	if p == nil {
		p = NewPersonalizer(nil, log)
	}
	return &Scorer{personalizer: p, log: log}
}

// Score evaluates a (profile, content, context) triple.
func (s *Scorer) Score(p *profile.Profile, it content.Item, sctx Context) Result {
	w := s.personalizer.WeightsFor(p.UserID)

	var comp Weights
	comp.Relevance = relevance(p, it)
	comp.Timing = timingComponent(p, sctx.ProposedAt)
	comp.Activity = userActivity(p, sctx.ProposedAt)
	comp.Quality = clamp01(it.Quality)
	comp.Social = socialProof(it.Metrics)
	comp.Sentiment = sentimentFit(p, it)
	comp.Novelty = noveltyScore(p, it, sctx.Recent)

	total := w.Relevance*comp.Relevance +
		w.Timing*comp.Timing +
		w.Activity*comp.Activity +
		w.Quality*comp.Quality +
		w.Social*comp.Social +
		w.Sentiment*comp.Sentiment +
		w.Novelty*comp.Novelty

	var reasons, suggestions []string

	// Multiplicative modifiers after the weighted sum.
	if pen := dedupPenalty(it, sctx.Recent); pen > 0 {
		total *= 1 - pen
		reasons = append(reasons, fmt.Sprintf("recently notified about similar content (penalty %.0f%%)", pen*100))
	}
	if diversityBonus(p, it) {
		total *= 1.10
		reasons = append(reasons, "category adds diversity to recent engagement")
	}
	total *= 0.7 + 0.3*p.ChannelAffinity(sctx.Channel)
	total *= freshnessFactor(it.Age(sctx.ProposedAt))
	total = clamp01(total)

	rec := recommend(total, sctx.ProposedAt)
	switch rec {
	case notification.RecommendDelay:
		suggestions = append(suggestions, "proposed hour falls in the night window; retry at the user's next peak hour")
	case notification.RecommendSkip:
		suggestions = append(suggestions, "engagement prediction too low; consider a digest instead")
	}
	if comp.Timing < 0.2 {
		reasons = append(reasons, "user historically inactive at the proposed hour")
	}
	if comp.Relevance > 0.7 {
		reasons = append(reasons, "strong interest match")
	}

	return Result{
		Total:          total,
		Components:     comp,
		Recommendation: rec,
		Reasons:        reasons,
		Suggestions:    suggestions,
	}
}

// relevance blends category, entity and tag interest.
func relevance(p *profile.Profile, it content.Item) float64 {
	cat := p.InterestIn(it.Category)
	ent := meanInterest(p, it.Entities)
	tag := meanInterest(p, it.Tags)
	// Interest weights live on a sum-to-1 distribution; scale so a clearly
	// dominant interest saturates the component.
	return clamp01(0.6*scaleInterest(cat) + 0.25*scaleInterest(ent) + 0.15*scaleInterest(tag))
}

// scaleInterest maps a distribution weight into [0,1]; a 1/3 share of the
// user's attention already counts as full interest.
func scaleInterest(w float64) float64 { return clamp01(w * 3) }

func meanInterest(p *profile.Profile, keys []string) float64 {
	if len(keys) == 0 {
		return 0
	}
	total := 0.0
	for _, k := range keys {
		total += p.InterestIn(k)
	}
	return total / float64(len(keys))
}

// timingComponent scores the proposed hour against the activity histograms.
func timingComponent(p *profile.Profile, at time.Time) float64 {
	hour, day := at.Hour(), int(at.Weekday())

	if p.Patterns.IsQuietHour(hour) {
		base := 0.7*normalizedSlot(p.Patterns.Hourly[:], hour) + 0.3*normalizedSlot(p.Patterns.Daily[:], day)
		return clamp01(base * 0.1)
	}

	hourScore := normalizedSlot(p.Patterns.Hourly[:], hour)
	if p.Patterns.IsPeakHour(hour) {
		hourScore = math.Min(1, hourScore*1.3)
	}
	return clamp01(0.7*hourScore + 0.3*normalizedSlot(p.Patterns.Daily[:], day))
}

func normalizedSlot(hist []float64, idx int) float64 {
	maxV := 0.0
	for _, v := range hist {
		if v > maxV {
			maxV = v
		}
	}
	if maxV == 0 {
		return 0.5 // no history yet: neutral
	}
	return hist[idx] / maxV
}

// userActivity reflects how active the user has been recently.
func userActivity(p *profile.Profile, now time.Time) float64 {
	if len(p.Engagement) == 0 {
		return 0.3
	}
	recent := 0
	cutoff := now.Add(-7 * 24 * time.Hour)
	for _, r := range p.Engagement {
		if r.At.After(cutoff) {
			recent++
		}
	}
	return clamp01(0.7*clamp01(float64(recent)/50) + 0.3*p.Patterns.Consistency)
}

// socialProof caps each metric at its reference ceiling before weighting.
func socialProof(m content.Metrics) float64 {
	return clamp01(0.2*clamp01(float64(m.Views)/refViews) +
		0.3*clamp01(float64(m.Likes)/refLikes) +
		0.3*clamp01(float64(m.Shares)/refShares) +
		0.2*clamp01(float64(m.Comments)/refComments))
}

func sentimentFit(p *profile.Profile, it content.Item) float64 {
	var pref float64
	switch {
	case it.Sentiment > 0.3:
		pref = p.Sentiment.Positive
	case it.Sentiment < -0.3:
		pref = p.Sentiment.Negative
	default:
		pref = p.Sentiment.Neutral
	}
	if p.Sentiment == (profile.SentimentPrefs{}) {
		pref = 0.5 // nothing learned yet
	}
	return math.Min(1, pref+0.2*math.Abs(it.Sentiment))
}

func noveltyScore(p *profile.Profile, it content.Item, recent []notification.Notification) float64 {
	familiarity := scaleInterest(p.InterestIn(it.Category))
	nov := 1 - familiarity

	// High novelty is only worth chasing when the content holds up.
	if nov > 0.7 {
		switch {
		case it.Quality > 0.8:
			nov *= 1.2
		case it.Quality < 0.5:
			nov *= 0.7
		}
	}
	nov *= 1 - maxContentSimilarity(it, recent)
	return clamp01(nov)
}

// dedupPenalty returns 1.0 for an exact recent content match, otherwise a
// similarity-scaled penalty up to 0.8.
func dedupPenalty(it content.Item, recent []notification.Notification) float64 {
	for _, n := range recent {
		if n.ContentID != "" && n.ContentID == it.ID {
			return 1.0
		}
	}
	return 0.8 * maxContentSimilarity(it, recent)
}

// maxContentSimilarity compares the item's title-ish signal (category, tags)
// against recent notification titles via token Jaccard.
func maxContentSimilarity(it content.Item, recent []notification.Notification) float64 {
	itemTokens := textsim.Tokenize(it.Category + " " + joinStrings(it.Tags))
	if len(itemTokens) == 0 {
		return 0
	}
	best := 0.0
	for _, n := range recent {
		sim := textsim.Jaccard(itemTokens, textsim.Tokenize(n.Title))
		if sim > best {
			best = sim
		}
	}
	return best
}

// diversityBonus: category absent from the last 10 engagement records.
func diversityBonus(p *profile.Profile, it content.Item) bool {
	if it.Category == "" {
		return false
	}
	recs := p.Engagement
	if len(recs) > 10 {
		recs = recs[len(recs)-10:]
	}
	for _, r := range recs {
		if r.Category == it.Category {
			return false
		}
	}
	return len(recs) > 0
}

func freshnessFactor(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return 1.20
	case age < 6*time.Hour:
		return 1.10
	case age < 24*time.Hour:
		return 1.05
	case age < 72*time.Hour:
		return 1.0
	default:
		return 0.90
	}
}

func inNightWindow(hour int) bool { return hour >= nightStart || hour < nightEnd }

func recommend(total float64, at time.Time) notification.Recommendation {
	switch {
	case total >= 0.6:
		return notification.RecommendSend
	case total >= 0.4:
		if inNightWindow(at.Hour()) {
			return notification.RecommendDelay
		}
		return notification.RecommendSend
	default:
		return notification.RecommendSkip
	}
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += s
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
