package scoring

import (
	"time"

	"smartpush/internal/notification"
	"smartpush/internal/profile"
)

// Weights are the seven component weights of the engagement score. They
// always sum to 1.
type Weights struct {
	Relevance float64 `json:"relevance"`
	Timing    float64 `json:"timing"`
	Activity  float64 `json:"activity"`
	Quality   float64 `json:"quality"`
	Social    float64 `json:"social"`
	Sentiment float64 `json:"sentiment"`
	Novelty   float64 `json:"novelty"`
}

// DefaultWeights is the starting point before any personalization.
func DefaultWeights() Weights {
	return Weights{
		Relevance: 0.25,
		Timing:    0.20,
		Activity:  0.15,
		Quality:   0.15,
		Social:    0.10,
		Sentiment: 0.10,
		Novelty:   0.05,
	}
}

func (w Weights) sum() float64 {
	return w.Relevance + w.Timing + w.Activity + w.Quality + w.Social + w.Sentiment + w.Novelty
}

func (w Weights) normalized() Weights {
	s := w.sum()
	if s <= 0 {
		return DefaultWeights()
	}
	w.Relevance /= s
	w.Timing /= s
	w.Activity /= s
	w.Quality /= s
	w.Social /= s
	w.Sentiment /= s
	w.Novelty /= s
	return w
}

// Context carries the proposed delivery parameters for one score call.
type Context struct {
	ProposedAt time.Time
	Channel    profile.Channel

	// Recent deliveries to the same user, newest last. Used for the dedup
	// penalty and the content-similarity reduction.
	Recent []notification.Notification
}

// Result is the scorer output; Components mirrors the ScoreVector fields.
type Result struct {
	Total          float64
	Components     Weights
	Recommendation notification.Recommendation
	Reasons        []string
	Suggestions    []string
}

// Vector converts a result into the notification's persisted score vector.
func (r Result) Vector() notification.ScoreVector {
	return notification.ScoreVector{
		Total:          r.Total,
		Relevance:      r.Components.Relevance,
		Timing:         r.Components.Timing,
		Activity:       r.Components.Activity,
		Quality:        r.Components.Quality,
		Social:         r.Components.Social,
		Sentiment:      r.Components.Sentiment,
		Novelty:        r.Components.Novelty,
		Recommendation: r.Recommendation,
		Reasons:        r.Reasons,
		Suggestions:    r.Suggestions,
	}
}
