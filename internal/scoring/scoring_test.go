package scoring

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"smartpush/internal/content"
	"smartpush/internal/notification"
	"smartpush/internal/profile"
	"smartpush/pkg/logx"
)

// Monday 08:30 UTC, well clear of both dampening windows.
var scoreNow = time.Date(2026, time.March, 2, 8, 30, 0, 0, time.UTC)

func freshProfile() *profile.Profile {
	return profile.New("u1", scoreNow.Add(-24*time.Hour))
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	t.Parallel()

	if s := DefaultWeights().sum(); s < 0.999 || s > 1.001 {
		t.Fatalf("default weights sum = %v, want 1", s)
	}
}

func TestWeightsNormalizedZeroFallsBack(t *testing.T) {
	t.Parallel()

	if got := (Weights{}).normalized(); got != DefaultWeights() {
		t.Fatalf("normalized zero weights = %+v, want defaults", got)
	}
}

func TestScoreFreshProfileSkipsLowEngagement(t *testing.T) {
	t.Parallel()

	s := NewScorer(nil, logx.Nop())
	it := content.Item{ID: "c1", Category: "tech", Quality: 0.5}
	res := s.Score(freshProfile(), it, Context{ProposedAt: scoreNow, Channel: profile.ChannelPush})

	if res.Total <= 0 || res.Total >= 0.4 {
		t.Fatalf("total = %v, want in (0, 0.4) for a cold profile", res.Total)
	}
	if res.Recommendation != notification.RecommendSkip {
		t.Fatalf("recommendation = %q, want skip", res.Recommendation)
	}
	if len(res.Suggestions) == 0 {
		t.Fatalf("expected a digest suggestion on skip")
	}
	// No learned histograms yet: the timing component should sit at neutral.
	if res.Components.Timing != 0.5 {
		t.Fatalf("timing component = %v, want neutral 0.5", res.Components.Timing)
	}
}

func TestScoreExactRepeatZeroesTotal(t *testing.T) {
	t.Parallel()

	s := NewScorer(nil, logx.Nop())
	it := content.Item{ID: "c1", Category: "tech", Quality: 0.9}
	p := freshProfile()
	p.Interests = map[string]float64{"tech": 0.5}

	res := s.Score(p, it, Context{
		ProposedAt: scoreNow,
		Channel:    profile.ChannelPush,
		Recent:     []notification.Notification{{ContentID: "c1", Title: "same story"}},
	})

	if res.Total != 0 {
		t.Fatalf("total = %v, want 0 after exact content repeat", res.Total)
	}
	if res.Recommendation != notification.RecommendSkip {
		t.Fatalf("recommendation = %q, want skip", res.Recommendation)
	}
	found := false
	for _, r := range res.Reasons {
		if strings.Contains(r, "penalty 100%") {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons %v missing full-penalty explanation", res.Reasons)
	}
}

func TestScoreStrongInterestReason(t *testing.T) {
	t.Parallel()

	s := NewScorer(nil, logx.Nop())
	p := freshProfile()
	p.Interests = map[string]float64{"tech": 0.4, "golang": 0.4}
	it := content.Item{ID: "c2", Category: "tech", Entities: []string{"golang"}, Quality: 0.8}

	res := s.Score(p, it, Context{ProposedAt: scoreNow, Channel: profile.ChannelPush})

	if res.Components.Relevance <= 0.7 {
		t.Fatalf("relevance = %v, want > 0.7 for dominant interests", res.Components.Relevance)
	}
	found := false
	for _, r := range res.Reasons {
		if strings.Contains(r, "strong interest") {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons %v missing strong interest match", res.Reasons)
	}
}

func TestRecommendThresholds(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, time.March, 2, 14, 0, 0, 0, time.UTC)
	night := time.Date(2026, time.March, 2, 23, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		total float64
		at    time.Time
		want  notification.Recommendation
	}{
		{"high any hour", 0.75, night, notification.RecommendSend},
		{"mid daytime", 0.5, day, notification.RecommendSend},
		{"mid at night", 0.5, night, notification.RecommendDelay},
		{"mid early morning", 0.45, time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC), notification.RecommendDelay},
		{"low", 0.39, day, notification.RecommendSkip},
	}
	for _, tc := range cases {
		if got := recommend(tc.total, tc.at); got != tc.want {
			t.Fatalf("%s: recommend(%v, %02d:00) = %q, want %q", tc.name, tc.total, tc.at.Hour(), got, tc.want)
		}
	}
}

func TestFreshnessFactor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{30 * time.Minute, 1.20},
		{3 * time.Hour, 1.10},
		{12 * time.Hour, 1.05},
		{48 * time.Hour, 1.0},
		{100 * time.Hour, 0.90},
	}
	for _, tc := range cases {
		if got := freshnessFactor(tc.age); got != tc.want {
			t.Fatalf("freshnessFactor(%v) = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func TestNormalizedSlotNeutralWithoutHistory(t *testing.T) {
	t.Parallel()

	if got := normalizedSlot(make([]float64, 24), 9); got != 0.5 {
		t.Fatalf("normalizedSlot(empty) = %v, want 0.5", got)
	}
	hist := make([]float64, 24)
	hist[9] = 2
	hist[10] = 4
	if got := normalizedSlot(hist, 9); got != 0.5 {
		t.Fatalf("normalizedSlot = %v, want 0.5 (half of max)", got)
	}
}

func TestTimingComponentQuietHourCollapses(t *testing.T) {
	t.Parallel()

	p := freshProfile()
	p.Patterns.Hourly[9] = 10
	p.Patterns.QuietHours = []int{9}

	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	if got := timingComponent(p, at); got > 0.1 {
		t.Fatalf("quiet-hour timing = %v, want <= 0.1", got)
	}
}

func TestScorePeakHourHighInterestSends(t *testing.T) {
	t.Parallel()

	s := NewScorer(nil, logx.Nop())
	p := freshProfile()
	p.Interests = map[string]float64{"tech": 0.8}
	p.Patterns.PeakHours = []int{9, 13, 19}
	p.Patterns.QuietHours = []int{22, 23, 0, 1, 2, 3, 4, 5}
	p.Patterns.Hourly[9] = 12
	p.Patterns.Hourly[13] = 8
	p.Patterns.Hourly[19] = 6

	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC) // Monday 09:00
	p.Patterns.Daily[int(at.Weekday())] = 5

	it := content.Item{
		ID:          "c9",
		Category:    "tech",
		Quality:     0.8,
		Metrics:     content.Metrics{Likes: 1000},
		PublishedAt: at.Add(-30 * time.Minute),
	}

	res := s.Score(p, it, Context{ProposedAt: at, Channel: profile.ChannelPush})

	if res.Components.Timing <= 0.8 {
		t.Fatalf("timing = %v, want > 0.8 at a histogram-backed peak hour", res.Components.Timing)
	}
	if res.Recommendation != notification.RecommendSend {
		t.Fatalf("recommendation = %s (total %v), want send", res.Recommendation, res.Total)
	}
}

func TestDiversityBonus(t *testing.T) {
	t.Parallel()

	p := freshProfile()
	if diversityBonus(p, content.Item{Category: "tech"}) {
		t.Fatalf("no engagement history yet, want no bonus")
	}
	p.RecordEngagement(profile.EngagementRecord{At: scoreNow, Category: "sports"})
	if !diversityBonus(p, content.Item{Category: "tech"}) {
		t.Fatalf("unseen category, want bonus")
	}
	p.RecordEngagement(profile.EngagementRecord{At: scoreNow, Category: "tech"})
	if diversityBonus(p, content.Item{Category: "tech"}) {
		t.Fatalf("category in recent engagement, want no bonus")
	}
}

func TestCulturalDampening(t *testing.T) {
	t.Parallel()

	cases := []struct {
		at   time.Time
		want float64
	}{
		{time.Date(2026, time.March, 6, 12, 0, 0, 0, time.UTC), 0.5}, // Friday midday
		{time.Date(2026, time.March, 2, 13, 30, 0, 0, time.UTC), 0.7},
		{time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC), 1.0},
	}
	for _, tc := range cases {
		if got := culturalDampening(tc.at); got != tc.want {
			t.Fatalf("culturalDampening(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestPredictAvoidsQuietHours(t *testing.T) {
	t.Parallel()

	p := freshProfile()
	p.Patterns.QuietHours = []int{22, 23, 0, 1, 2, 3, 4, 5}

	pr := NewPredictor(logx.Nop())
	pred := pr.Predict(p, content.Item{ID: "c1"}, TimingContext{Now: scoreNow})

	if p.Patterns.IsQuietHour(pred.OptimalAt.Hour()) {
		t.Fatalf("optimal slot %v lands in a quiet hour", pred.OptimalAt)
	}
	for _, alt := range pred.Alternatives {
		if p.Patterns.IsQuietHour(alt.Hour()) {
			t.Fatalf("alternative %v lands in a quiet hour", alt)
		}
	}
}

func TestPredictAllQuietFallsBack(t *testing.T) {
	t.Parallel()

	p := freshProfile()
	for h := 0; h < 24; h++ {
		p.Patterns.QuietHours = append(p.Patterns.QuietHours, h)
	}

	pr := NewPredictor(logx.Nop())
	pred := pr.Predict(p, content.Item{ID: "c1"}, TimingContext{Now: scoreNow})

	if got, want := pred.OptimalAt, scoreNow.Truncate(time.Hour); !got.Equal(want) {
		t.Fatalf("fallback slot = %v, want %v", got, want)
	}
	if pred.Confidence != 0.3 {
		t.Fatalf("fallback confidence = %v, want 0.3", pred.Confidence)
	}
	if len(pred.Risks) == 0 {
		t.Fatalf("expected a fallback risk")
	}
}

func TestPredictUrgencyPullsWindowForward(t *testing.T) {
	t.Parallel()

	pr := NewPredictor(logx.Nop())
	it := content.Item{ID: "c1", Metrics: content.Metrics{Urgency: 0.9}}
	pred := pr.Predict(freshProfile(), it, TimingContext{Now: scoreNow})

	if got, want := pred.OptimalAt, scoreNow.Truncate(time.Hour); !got.Equal(want) {
		t.Fatalf("urgent optimal = %v, want immediate slot %v", got, want)
	}
	found := false
	for _, r := range pred.Reasons {
		if strings.Contains(r, "urgency") {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons %v missing urgency explanation", pred.Reasons)
	}
}

func TestPredictSpacesAfterRecentNotification(t *testing.T) {
	t.Parallel()

	pr := NewPredictor(logx.Nop())
	pred := pr.Predict(freshProfile(), content.Item{ID: "c1"}, TimingContext{
		Now:            scoreNow,
		LastNotifiedAt: scoreNow.Add(-10 * time.Minute),
	})

	if got, want := pred.OptimalAt, scoreNow.Truncate(time.Hour).Add(2*time.Hour); !got.Equal(want) {
		t.Fatalf("optimal = %v, want %v (first slot past the spacing window)", got, want)
	}
}

func TestPredictConfidenceCapped(t *testing.T) {
	t.Parallel()

	p := freshProfile()
	p.Patterns.Hourly[10] = 5
	p.Patterns.PeakHours = []int{10}
	p.Patterns.Consistency = 1
	for i := 0; i < 101; i++ {
		p.RecordEngagement(profile.EngagementRecord{At: scoreNow.Add(-time.Duration(i) * time.Hour)})
	}

	pr := NewPredictor(logx.Nop())
	pred := pr.Predict(p, content.Item{ID: "c1"}, TimingContext{Now: scoreNow})

	if pred.OptimalAt.Hour() != 10 {
		t.Fatalf("optimal hour = %d, want the peak hour 10", pred.OptimalAt.Hour())
	}
	if pred.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want cap 0.95", pred.Confidence)
	}
}

type memWeightsStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memWeightsStore) SaveWeights(_ context.Context, userID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[userID] = append([]byte(nil), data...)
	return nil
}

func (s *memWeightsStore) LoadWeights(_ context.Context, userID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[userID]
	return data, ok, nil
}

func TestPersonalizerDefaultsUntilEnoughSamples(t *testing.T) {
	t.Parallel()

	p := NewPersonalizer(nil, logx.Nop())
	ctx := context.Background()

	for i := 0; i < MinFeedbackSamples-1; i++ {
		p.RecordFeedback(ctx, "u1", false)
		if got := p.WeightsFor("u1"); got != DefaultWeights() {
			t.Fatalf("after %d samples weights = %+v, want defaults", i+1, got)
		}
	}

	p.RecordFeedback(ctx, "u1", false)
	got := p.WeightsFor("u1")
	if got == DefaultWeights() {
		t.Fatalf("weights unchanged after %d negative samples", MinFeedbackSamples)
	}
	if got.Relevance <= DefaultWeights().Relevance {
		t.Fatalf("relevance = %v, want boosted above %v", got.Relevance, DefaultWeights().Relevance)
	}
	if got.Novelty >= DefaultWeights().Novelty {
		t.Fatalf("novelty = %v, want reduced below %v", got.Novelty, DefaultWeights().Novelty)
	}
	if s := got.sum(); s < 0.999 || s > 1.001 {
		t.Fatalf("personalized weights sum = %v, want 1", s)
	}
}

func TestPersonalizerPersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	store := &memWeightsStore{}
	ctx := context.Background()

	p1 := NewPersonalizer(store, logx.Nop())
	for i := 0; i < MinFeedbackSamples; i++ {
		p1.RecordFeedback(ctx, "u1", false)
	}
	want := p1.WeightsFor("u1")

	p2 := NewPersonalizer(store, logx.Nop())
	if got := p2.WeightsFor("u1"); got != want {
		t.Fatalf("reloaded weights = %+v, want %+v", got, want)
	}
}
