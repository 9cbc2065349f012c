package models

import (
	"strings"
	"time"

	"github.com/jinzhu/gorm"
)

// Order represents a customer order as submitted from the floor.
type Order struct {
	gorm.Model
	Number       int         `json:"number" gorm:"unique_index"`
	TableNumber  string      `json:"table_number"`
	Seat         int         `json:"seat"`
	Items        []OrderItem `json:"items" gorm:"foreignkey:OrderID"`
	Status       string      `json:"status"`
	Priority     int         `json:"priority"`
	TimeReceived time.Time   `json:"time_received"`
	RecallCount  int         `json:"recall_count"`
}

// OrderItem represents a single line item on an order.
type OrderItem struct {
	gorm.Model
	OrderID     uint   `json:"order_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Notes       string `json:"notes"`
	StationType string `json:"station_type"`
	Allergens   string `json:"allergens"` // comma-separated
}

// AllergenList splits the stored allergen string into normalized entries.
func (i OrderItem) AllergenList() []string {
	if i.Allergens == "" {
		return nil
	}
	parts := strings.Split(i.Allergens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// OrderStatus represents the possible states of an order
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusArchived OrderStatus = "archived"
)

// Priority levels for orders and routing records. Higher sorts earlier
// on station displays.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
	PriorityRush   = 2
)
