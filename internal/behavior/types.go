package behavior

import (
	"errors"
	"strings"
	"time"
)

// EventType enumerates the raw interaction events the engine understands.
type EventType string

const (
	EventPageView     EventType = "page_view"
	EventScroll       EventType = "scroll"
	EventClick        EventType = "click"
	EventReadStart    EventType = "read_start"
	EventReadProgress EventType = "read_progress"
	EventReadComplete EventType = "read_complete"
	EventLike         EventType = "like"
	EventShare        EventType = "share"
	EventComment      EventType = "comment"
	EventBookmark     EventType = "bookmark"
	EventSearch       EventType = "search"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventNotifClick   EventType = "notification_click"
	EventNotifDismiss EventType = "notification_dismiss"
)

var validEventTypes = map[EventType]bool{
	EventPageView: true, EventScroll: true, EventClick: true,
	EventReadStart: true, EventReadProgress: true, EventReadComplete: true,
	EventLike: true, EventShare: true, EventComment: true, EventBookmark: true,
	EventSearch: true, EventSessionStart: true, EventSessionEnd: true,
	EventNotifClick: true, EventNotifDismiss: true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool { return validEventTypes[t] }

// Engagement reports whether t is an explicit engagement action
// (the user did something beyond passive consumption).
func (t EventType) Engagement() bool {
	switch t {
	case EventLike, EventShare, EventComment, EventBookmark, EventNotifClick:
		return true
	}
	return false
}

// Deep reports whether t signals deep content involvement. Used by the
// real-time processor to derive the rolling engagement level.
func (t EventType) Deep() bool {
	switch t {
	case EventReadComplete, EventComment, EventShare, EventBookmark:
		return true
	}
	return false
}

// DeviceInfo identifies the device an event originated from.
type DeviceInfo struct {
	Platform string `json:"platform,omitempty"` // mobile, desktop, tablet
	OS       string `json:"os,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (d DeviceInfo) IsZero() bool { return d.Platform == "" && d.OS == "" && d.Model == "" }

func (d DeviceInfo) Equal(o DeviceInfo) bool {
	return d.Platform == o.Platform && d.OS == o.OS && d.Model == o.Model
}

// EventMetadata carries the optional measurements attached to an event.
//
// It is a closed set of named fields plus a small opaque extension map;
// unknown producer fields go into Extra and are never interpreted here.
type EventMetadata struct {
	ScrollPosition float64       `json:"scroll_position,omitempty"` // 0..1 fraction of content
	ScrollDir      string        `json:"scroll_dir,omitempty"`      // "up" or "down"
	ScrollSpeed    float64       `json:"scroll_speed,omitempty"`    // units/s
	Duration       time.Duration `json:"duration,omitempty"`
	Query          string        `json:"query,omitempty"`
	Device         DeviceInfo    `json:"device,omitempty"`
	Location       string        `json:"location,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

const maxExtraEntries = 16

// Event is one immutable user interaction.
type Event struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Type      EventType     `json:"type"`
	ContentID string        `json:"content_id,omitempty"`
	At        time.Time     `json:"at"`
	Meta      EventMetadata `json:"meta,omitempty"`
}

// Validate rejects malformed events before they enter any stateful path.
func (e Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return errors.New("event: user_id required")
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return errors.New("event: session_id required")
	}
	if !e.Type.Valid() {
		return errors.New("event: unknown type " + string(e.Type))
	}
	if e.At.IsZero() {
		return errors.New("event: timestamp required")
	}
	if len(e.Meta.Extra) > maxExtraEntries {
		return errors.New("event: metadata extra map too large")
	}
	if e.Meta.ScrollPosition < 0 || e.Meta.ScrollPosition > 1 {
		return errors.New("event: scroll_position out of range")
	}
	return nil
}
