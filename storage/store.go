package storage

import (
	"context"
	"errors"
	"time"

	"rentwatch/models"
)

// ErrInvalidThreshold rejects threshold settings at the update boundary.
// Invalid settings are never silently coerced.
var ErrInvalidThreshold = errors.New("storage: invalid alert threshold")

// PriceWrite reports what a price-point upsert actually did.
type PriceWrite struct {
	Inserted  bool // first observation for (unit, date)
	Lowered   bool // existing point updated to a strictly lower price
	Price     int64
	Available bool
}

// Store is the persistence seam for the pipeline. Every mutating call runs
// inside its own transaction, so retries and partial failures cannot break
// the one-point-per-(unit,date) and static-metadata invariants.
type Store interface {
	// UpsertUnit creates the (source, name) unit on first sighting or
	// refreshes its mutable attributes (square footage, position, image) on
	// repeat sightings. Bedrooms, bathrooms and the den flag are write-once.
	UpsertUnit(ctx context.Context, source string, u *models.ScrapedUnit, seenAt time.Time) (unitID int64, created bool, err error)

	// UpsertPricePoint records the lowest price for (unit, date) and ORs the
	// availability flag across the day's observations.
	UpsertPricePoint(ctx context.Context, unitID int64, date string, price int64, available bool) (PriceWrite, error)

	// LatestPriceBefore returns the most recent price point strictly before
	// date, or nil when the unit has no prior history.
	LatestPriceBefore(ctx context.Context, unitID int64, date string) (*models.PricePoint, error)

	// MinPriceBefore returns the all-time-low price strictly before date.
	// ok is false when the unit has no prior history.
	MinPriceBefore(ctx context.Context, unitID int64, date string) (price int64, ok bool, err error)

	InsertAlert(ctx context.Context, alert *models.Alert) error
	ListAlerts(ctx context.Context, includeDismissed bool) ([]*models.Alert, error)
	DismissAlert(ctx context.Context, id int64) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Threshold(ctx context.Context) (models.AlertThreshold, error)
	SetThreshold(ctx context.Context, t models.AlertThreshold) error

	Close() error
}
