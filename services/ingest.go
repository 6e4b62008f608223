package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rentwatch/models"
	"rentwatch/storage"
)

// RecordedPrice is the post-commit event emitted for every price point that
// was inserted or lowered. Consumers see it only after the transaction for
// that unit has committed.
type RecordedPrice struct {
	UnitID    int64
	Price     int64
	Date      string // YYYY-MM-DD
	Available bool
}

// IngestResult reports one batch's outcome.
type IngestResult struct {
	Upserted int // units touched
	Priced   int // price points inserted or lowered
	Errors   []string
}

// Ingestor applies a scraped batch to the persistent time series. Each
// unit's upsert runs independently; one bad unit never aborts the batch.
type Ingestor struct {
	store    storage.Store
	logger   *zap.SugaredLogger
	onRecord func(ctx context.Context, rec RecordedPrice)
}

// NewIngestor creates an Ingestor.
func NewIngestor(store storage.Store, logger *zap.SugaredLogger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// OnRecord registers the post-commit hook. It fires once per real price
// write (insert or lowering update), never for a no-op observation, which
// keeps alerting decoupled from the transaction without alerting on reads.
func (i *Ingestor) OnRecord(fn func(ctx context.Context, rec RecordedPrice)) {
	i.onRecord = fn
}

// IngestBatch upserts the batch's units and price points for one source and
// collection date.
func (i *Ingestor) IngestBatch(ctx context.Context, source string, units []*models.ScrapedUnit, collectedAt time.Time) *IngestResult {
	res := &IngestResult{}
	date := collectedAt.Format("2006-01-02")

	for _, u := range units {
		unitID, created, err := i.store.UpsertUnit(ctx, source, u, collectedAt)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("unit %q: %v", u.Name, err))
			i.logger.Errorf("[ingest] %s/%s upsert failed: %v", source, u.Name, err)
			continue
		}
		res.Upserted++
		if created {
			i.logger.Infof("[ingest] New unit %s/%s (id %d)", source, u.Name, unitID)
		}

		if u.Price <= 0 {
			continue
		}

		write, err := i.store.UpsertPricePoint(ctx, unitID, date, u.Price, u.Available)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("unit %q price: %v", u.Name, err))
			i.logger.Errorf("[ingest] %s/%s price upsert failed: %v", source, u.Name, err)
			continue
		}

		if write.Inserted || write.Lowered {
			res.Priced++
			if i.onRecord != nil {
				i.onRecord(ctx, RecordedPrice{
					UnitID:    unitID,
					Price:     write.Price,
					Date:      date,
					Available: write.Available,
				})
			}
		}
	}

	i.logger.Infof("[ingest] %s: %d/%d units upserted, %d price writes, %d errors",
		source, res.Upserted, len(units), res.Priced, len(res.Errors))
	return res
}
