package anomaly

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"expediter/internal/models"
	"expediter/internal/store"
)

// Detector inspects one order for a single class of irregularity. Detectors
// are independent: one failing never suppresses another's findings.
type Detector interface {
	Name() string
	Detect(ctx context.Context, o *models.Order) ([]models.Anomaly, error)
}

// RestrictionSource answers which dietary restrictions apply to a seat.
type RestrictionSource interface {
	Restrictions(ctx context.Context, table string, seat int) ([]string, error)
}

// StaticRestrictions is a RestrictionSource from configuration, keyed by
// table number.
type StaticRestrictions map[string][]string

func (s StaticRestrictions) Restrictions(ctx context.Context, table string, seat int) ([]string, error) {
	return s[table], nil
}

// DietaryDetector flags order items whose allergens intersect the diner's
// restrictions. Findings are critical: they must reach a human even when
// everything else is on fire.
type DietaryDetector struct {
	Source RestrictionSource
}

func (d *DietaryDetector) Name() string { return "dietary" }

func (d *DietaryDetector) Detect(ctx context.Context, o *models.Order) ([]models.Anomaly, error) {
	restrictions, err := d.Source.Restrictions(ctx, o.TableNumber, o.Seat)
	if err != nil {
		return nil, fmt.Errorf("restriction lookup: %w", err)
	}
	if len(restrictions) == 0 {
		return nil, nil
	}
	restricted := make(map[string]bool, len(restrictions))
	for _, r := range restrictions {
		restricted[strings.ToLower(strings.TrimSpace(r))] = true
	}

	var found []models.Anomaly
	for _, item := range o.Items {
		for _, allergen := range item.AllergenList() {
			if restricted[allergen] {
				found = append(found, models.Anomaly{
					Type:       models.AnomalyTypeDietary,
					Severity:   models.SeverityCritical,
					OrderID:    o.ID,
					Message:    fmt.Sprintf("%q contains %s, restricted for table %s", item.Name, allergen, o.TableNumber),
					DetectedAt: time.Now(),
				})
			}
		}
	}
	return found, nil
}

// DuplicateDetector flags an order whose table placed an order with the
// same items inside the duplicate window. Double-taps on the order pad are
// the usual cause.
type DuplicateDetector struct {
	Store  store.Store
	Window time.Duration
}

func (d *DuplicateDetector) Name() string { return "duplicate" }

func (d *DuplicateDetector) Detect(ctx context.Context, o *models.Order) ([]models.Anomaly, error) {
	window := d.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	recent, err := d.Store.ListOrders(ctx, store.OrderFilter{
		TableNumber: o.TableNumber,
		Since:       time.Now().Add(-window),
	})
	if err != nil {
		return nil, err
	}
	sig := itemSignature(o.Items)
	for _, prior := range recent {
		if prior.ID == o.ID {
			continue
		}
		if itemSignature(prior.Items) == sig {
			return []models.Anomaly{{
				Type:       models.AnomalyTypeDuplicate,
				Severity:   models.SeverityHigh,
				OrderID:    o.ID,
				Message:    fmt.Sprintf("same items as order %d placed within %s at table %s", prior.Number, window, o.TableNumber),
				DetectedAt: time.Now(),
			}}, nil
		}
	}
	return nil, nil
}

func itemSignature(items []models.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", strings.ToLower(it.Name), it.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// StaleDetector flags orders with a routing record that has sat without a
// status change past the SLA. Runs on the periodic scan as well as order
// intake, since staleness only develops with time.
type StaleDetector struct {
	Store      store.Store
	StaleAfter time.Duration
}

func (d *StaleDetector) Name() string { return "stale" }

func (d *StaleDetector) Detect(ctx context.Context, o *models.Order) ([]models.Anomaly, error) {
	threshold := d.StaleAfter
	if threshold <= 0 {
		threshold = 20 * time.Minute
	}
	records, err := d.Store.ListRouting(ctx, store.RoutingFilter{
		OrderID:  o.ID,
		Statuses: []string{string(models.RoutingStatusNew), string(models.RoutingStatusPreparing)},
	})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var found []models.Anomaly
	for _, r := range records {
		lastChange := r.CreatedAt
		if r.StartedAt != nil {
			lastChange = *r.StartedAt
		}
		if age := now.Sub(lastChange); age > threshold {
			found = append(found, models.Anomaly{
				Type:       models.AnomalyTypeStale,
				Severity:   models.SeverityMedium,
				OrderID:    o.ID,
				Message:    fmt.Sprintf("station %d has held order %d for %s with no status change", r.StationID, o.Number, age.Round(time.Minute)),
				DetectedAt: now,
			})
		}
	}
	return found, nil
}
