package scoring

import (
	"context"
	"encoding/json"
	"sync"

	"smartpush/pkg/logx"
)

// MinFeedbackSamples is the history size below which personalization
// degrades to the default weights.
const MinFeedbackSamples = 10

const feedbackWindow = 20

// WeightsStore persists personalized weights; satisfied by internal/storage.
type WeightsStore interface {
	SaveWeights(ctx context.Context, userID string, data []byte) error
	LoadWeights(ctx context.Context, userID string) ([]byte, bool, error)
}

type personalState struct {
	Weights Weights `json:"weights"`
	// Samples records recent feedback outcomes, true = opened or clicked.
	Samples []bool `json:"samples"`
}

// Personalizer maintains per-user component weights, nudged by delivery
// feedback. The update is a fixed heuristic, not a learner; a proper online
// learner can be substituted behind WeightsFor/RecordFeedback.
type Personalizer struct {
	mu    sync.Mutex
	users map[string]*personalState

	store WeightsStore
	log   logx.Logger
}

func NewPersonalizer(store WeightsStore, log logx.Logger) *Personalizer {
	return &Personalizer{
		users: map[string]*personalState{},
		store: store,
		log:   log,
	}
}

// WeightsFor returns the personalized weights, or defaults while fewer than
// MinFeedbackSamples feedback samples exist.
func (p *Personalizer) WeightsFor(userID string) Weights {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.loadLocked(userID)
	if len(st.Samples) < MinFeedbackSamples {
		return DefaultWeights()
	}
	return st.Weights
}

// RecordFeedback folds one delivery outcome in. positive means the user
// opened or clicked the notification.
func (p *Personalizer) RecordFeedback(ctx context.Context, userID string, positive bool) {
	p.mu.Lock()
	st := p.loadLocked(userID)
	st.Samples = append(st.Samples, positive)
	if len(st.Samples) > feedbackWindow {
		st.Samples = st.Samples[len(st.Samples)-feedbackWindow:]
	}

	if len(st.Samples) >= MinFeedbackSamples && positiveRatio(st.Samples) <= 0.5 {
		// Poor recent engagement: lean on relevance and timing, back off
		// novelty and social proof.
		st.Weights.Relevance += 0.05
		st.Weights.Timing += 0.03
		st.Weights.Novelty = maxF(0.01, st.Weights.Novelty-0.04)
		st.Weights.Social = maxF(0.01, st.Weights.Social-0.04)
		st.Weights = st.Weights.normalized()
	}

	data, err := json.Marshal(st)
	p.mu.Unlock()

	if err != nil || p.store == nil {
		return
	}
	if err := p.store.SaveWeights(ctx, userID, data); err != nil {
		p.log.Warn("weights persist failed", logx.String("user", userID), logx.Err(err))
	}
}

func (p *Personalizer) loadLocked(userID string) *personalState {
	st, ok := p.users[userID]
	if ok {
		return st
	}
	st = &personalState{Weights: DefaultWeights()}
	if p.store != nil {
		if data, found, err := p.store.LoadWeights(context.Background(), userID); err == nil && found {
			var loaded personalState
			if json.Unmarshal(data, &loaded) == nil && loaded.Weights.sum() > 0 {
				st = &loaded
			}
		}
	}
	p.users[userID] = st
	return st
}

func positiveRatio(samples []bool) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := 0
	for _, s := range samples {
		if s {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
