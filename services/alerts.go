package services

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"rentwatch/models"
	"rentwatch/storage"
)

// Evaluator decides whether a newly recorded price warrants alerts. The
// price-drop and new-low conditions are independent; both can fire for the
// same ingestion event. A unit with no prior history never alerts.
type Evaluator struct {
	store  storage.Store
	logger *zap.SugaredLogger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(store storage.Store, logger *zap.SugaredLogger) *Evaluator {
	return &Evaluator{store: store, logger: logger}
}

// Evaluate compares price against the unit's history strictly before date
// and persists zero, one or two alerts.
func (e *Evaluator) Evaluate(ctx context.Context, unitID int64, price int64, date string) error {
	threshold, err := e.store.Threshold(ctx)
	if err != nil {
		return eris.Wrap(err, "alerts: load threshold")
	}

	if err := e.checkPriceDrop(ctx, unitID, price, date, threshold); err != nil {
		return err
	}
	return e.checkNewLow(ctx, unitID, price, date)
}

// checkPriceDrop compares against the most recent prior price point and
// alerts when the drop meets the configured threshold.
func (e *Evaluator) checkPriceDrop(ctx context.Context, unitID int64, price int64, date string, threshold models.AlertThreshold) error {
	prev, err := e.store.LatestPriceBefore(ctx, unitID, date)
	if err != nil {
		return eris.Wrap(err, "alerts: latest price before")
	}
	if prev == nil || price >= prev.Price {
		return nil
	}

	drop := prev.Price - price
	pct := float64(drop) * 100 / float64(prev.Price)

	met := false
	switch threshold.Kind {
	case models.ThresholdDollar:
		met = float64(drop) >= threshold.Magnitude
	case models.ThresholdPercentage:
		met = pct >= threshold.Magnitude
	}
	if !met {
		return nil
	}

	e.logger.Infof("[alerts] Price drop for unit %d: %d → %d (%.1f%%)", unitID, prev.Price, price, pct)
	return e.insert(ctx, &models.Alert{
		UnitID:        unitID,
		Kind:          models.AlertPriceDrop,
		OldPrice:      prev.Price,
		NewPrice:      price,
		PercentChange: pct,
	})
}

// checkNewLow alerts when price beats every previously recorded price.
// The very first record for a unit has no prior low to beat and stays quiet.
func (e *Evaluator) checkNewLow(ctx context.Context, unitID int64, price int64, date string) error {
	low, ok, err := e.store.MinPriceBefore(ctx, unitID, date)
	if err != nil {
		return eris.Wrap(err, "alerts: min price before")
	}
	if !ok || price >= low {
		return nil
	}

	pct := float64(low-price) * 100 / float64(low)
	e.logger.Infof("[alerts] New low for unit %d: %d beats prior low %d", unitID, price, low)
	return e.insert(ctx, &models.Alert{
		UnitID:        unitID,
		Kind:          models.AlertNewLow,
		OldPrice:      low,
		NewPrice:      price,
		PercentChange: pct,
	})
}

func (e *Evaluator) insert(ctx context.Context, a *models.Alert) error {
	a.CreatedAt = time.Now().UTC()
	if err := e.store.InsertAlert(ctx, a); err != nil {
		return eris.Wrapf(err, "alerts: insert %s", a.Kind)
	}
	return nil
}
