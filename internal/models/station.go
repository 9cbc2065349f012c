package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// Station represents a physical preparation area (grill, fryer, salad, bar,
// expo). Static reference data created at setup time.
type Station struct {
	gorm.Model
	Name     string `json:"name"`
	Type     string `json:"type" gorm:"index"`
	Position int    `json:"position"`
	Color    string `json:"color"`

	// AutoBumpTime is how long a record may sit in preparing before the
	// sweeper force-bumps it. Zero disables the sweep for this station.
	AutoBumpTime time.Duration `json:"auto_bump_time"`
	MaxOrders    int           `json:"max_orders"`
}

// Station types used by item routing.
const (
	StationTypeGrill = "grill"
	StationTypeFryer = "fryer"
	StationTypeSalad = "salad"
	StationTypeBar   = "bar"
	StationTypeExpo  = "expo"
)
