// Package realtime carries change notifications from the mutation path to
// every connected display. Delivery is at-least-once and sequence-numbered;
// consumers deduplicate by sequence so application is effectively-once.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ChangeEvent describes one persisted mutation.
type ChangeEvent struct {
	Seq         uint64          `json:"seq"`
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`   // order | routing | station | anomaly | command
	Action      string          `json:"action"` // created | updated
	RecordID    uint            `json:"record_id"`
	OrderID     uint            `json:"order_id,omitempty"`
	StationID   uint            `json:"station_id,omitempty"`
	TableNumber string          `json:"table_number,omitempty"`
	At          time.Time       `json:"at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Event kinds.
const (
	KindOrder   = "order"
	KindRouting = "routing"
	KindStation = "station"
	KindAnomaly = "anomaly"
	KindCommand = "command"
)

// Event actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// Filter selects the subset of events a subscriber cares about. Zero-value
// fields match everything.
type Filter struct {
	Kinds      []string `json:"kinds,omitempty"`
	StationIDs []uint   `json:"station_ids,omitempty"`
	Role       string   `json:"role,omitempty"`
}

// Key identifies the record the event concerns, for materialized state.
func (ev ChangeEvent) Key() string {
	return fmt.Sprintf("%s:%d", ev.Kind, ev.RecordID)
}

// Matches reports whether ev passes the filter. Station scoping only
// applies to routing events; orders, anomalies and commands are visible to
// every station a role can see.
func (f Filter) Matches(ev ChangeEvent) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.StationIDs) > 0 && ev.Kind == KindRouting {
		for _, id := range f.StationIDs {
			if id == ev.StationID {
				return true
			}
		}
		return false
	}
	return true
}

// Subscription is a live event stream. Cancel releases it; Events is closed
// afterwards.
type Subscription struct {
	Events <-chan ChangeEvent
	Cancel func()
}

// Channel is the notification transport. Publish assigns the sequence
// number; Subscribe returns a stream of every event matching the filter
// published after the call.
type Channel interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}
