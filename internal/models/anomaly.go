package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// Anomaly records a detected irregularity on an order that needs human
// review. Anomalies are never deleted; resolving one sets Resolved and
// keeps the row for later analytics.
type Anomaly struct {
	gorm.Model
	Type       string     `json:"type"`
	Severity   string     `json:"severity"`
	OrderID    uint       `json:"order_id" gorm:"index"`
	Message    string     `json:"message"`
	DetectedAt time.Time  `json:"detected_at"`
	Resolved   bool       `json:"resolved"`
	Resolution string     `json:"resolution"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// Anomaly types.
const (
	AnomalyTypeDietary   = "dietary_violation"
	AnomalyTypeDuplicate = "duplicate"
	AnomalyTypeStale     = "stale"
)

// Anomaly severities, lowest to highest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)
