package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// RoutingRecord tracks one order's progress at one station. An order routed
// to three stations has three routing records, each with its own lifecycle.
type RoutingRecord struct {
	gorm.Model
	OrderID     uint       `json:"order_id" gorm:"index"`
	StationID   uint       `json:"station_id" gorm:"index"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	StartedAt   *time.Time `json:"started_at"`
	BumpedAt    *time.Time `json:"bumped_at"`
	CompletedAt *time.Time `json:"completed_at"`
	RecallCount int        `json:"recall_count"`
	BumpedBy    string     `json:"bumped_by"`

	// Version guards concurrent writers. Every successful update increments
	// it; an update conditioned on a stale version affects zero rows.
	Version int `json:"version"`
}

// RoutingStatus represents the per-station lifecycle states.
type RoutingStatus string

const (
	RoutingStatusNew       RoutingStatus = "new"
	RoutingStatusPreparing RoutingStatus = "preparing"
	RoutingStatusReady     RoutingStatus = "ready"
	RoutingStatusArchived  RoutingStatus = "archived"
)

// Terminal reports whether no further transitions apply to the record.
func (r *RoutingRecord) Terminal() bool {
	return r.Status == string(RoutingStatusArchived)
}
