// Package content defines the read-only view of content items the engine
// scores against. Items are supplied by an external content store; this
// engine never stores or serves content bodies.
package content

import (
	"context"
	"time"
)

// Item is a single piece of content as seen by the decision engine.
type Item struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Entities    []string  `json:"entities,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Sentiment   float64   `json:"sentiment"` // -1..1
	Quality     float64   `json:"quality"`   // 0..1
	PublishedAt time.Time `json:"published_at"`
	Author      string    `json:"author,omitempty"`
	WordCount   int       `json:"word_count,omitempty"`

	Metrics Metrics `json:"metrics"`
}

// Metrics carries aggregate engagement numbers for an item.
type Metrics struct {
	Views          int64   `json:"views"`
	Likes          int64   `json:"likes"`
	Shares         int64   `json:"shares"`
	Comments       int64   `json:"comments"`
	CompletionRate float64 `json:"completion_rate"`
	AvgTimeSpent   float64 `json:"avg_time_spent"` // seconds
	Urgency        float64 `json:"urgency"`        // 0..1
}

// Age returns how old the item is at the given instant.
func (it Item) Age(now time.Time) time.Duration {
	if it.PublishedAt.IsZero() {
		return 0
	}
	return now.Sub(it.PublishedAt)
}

// Store is the external content store contract.
type Store interface {
	Get(ctx context.Context, id string) (Item, error)
}
