package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentwatch/models"
	"rentwatch/utils"
)

func newTestEvaluator(store *fakeStore) *Evaluator {
	return NewEvaluator(store, utils.NewLogger("error"))
}

func seedPrices(store *fakeStore, unitID int64, prices map[string]int64) {
	for date, price := range prices {
		_, _ = store.UpsertPricePoint(context.Background(), unitID, date, price, true)
	}
}

func TestEvaluateNoHistoryNoAlert(t *testing.T) {
	store := newFakeStore()
	eval := newTestEvaluator(store)

	require.NoError(t, eval.Evaluate(context.Background(), 1, 2500, "2026-08-29"))
	assert.Empty(t, store.alerts)
}

func TestEvaluatePercentageThresholdBoundary(t *testing.T) {
	tests := []struct {
		name     string
		newPrice int64
		want     int // price-drop alerts
	}{
		{"exactly 5 percent fires", 2375, 1},
		{"4 percent stays quiet", 2400, 0},
		{"increase stays quiet", 2600, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			seedPrices(store, 1, map[string]int64{"2026-08-28": 2500})
			eval := newTestEvaluator(store)

			require.NoError(t, eval.Evaluate(context.Background(), 1, tt.newPrice, "2026-08-29"))

			drops := 0
			for _, a := range store.alerts {
				if a.Kind == models.AlertPriceDrop {
					drops++
					assert.Equal(t, int64(2500), a.OldPrice)
					assert.Equal(t, tt.newPrice, a.NewPrice)
					assert.InDelta(t, 5.0, a.PercentChange, 0.001)
				}
			}
			assert.Equal(t, tt.want, drops)
		})
	}
}

func TestEvaluateDollarThreshold(t *testing.T) {
	store := newFakeStore()
	store.threshold = models.AlertThreshold{Kind: models.ThresholdDollar, Magnitude: 100}
	seedPrices(store, 1, map[string]int64{"2026-08-28": 2500})
	eval := newTestEvaluator(store)
	ctx := context.Background()

	require.NoError(t, eval.Evaluate(ctx, 1, 2401, "2026-08-29"))
	assert.Equal(t, []string{models.AlertNewLow}, store.alertKinds(), "99-dollar drop misses the threshold")

	store.alerts = nil
	require.NoError(t, eval.Evaluate(ctx, 1, 2400, "2026-08-29"))
	assert.Equal(t, []string{models.AlertNewLow, models.AlertPriceDrop}, store.alertKinds())
}

func TestEvaluateNewLowIndependence(t *testing.T) {
	store := newFakeStore()
	seedPrices(store, 1, map[string]int64{
		"2026-08-27": 2500,
		"2026-08-28": 2400,
	})
	eval := newTestEvaluator(store)

	// 2400 → 2300 misses the 5% drop threshold but beats the all-time low.
	require.NoError(t, eval.Evaluate(context.Background(), 1, 2300, "2026-08-29"))
	require.Equal(t, []string{models.AlertNewLow}, store.alertKinds())
	assert.Equal(t, int64(2400), store.alerts[0].OldPrice)

	// A steep enough drop fires both, independently.
	store.alerts = nil
	require.NoError(t, eval.Evaluate(context.Background(), 1, 2200, "2026-08-29"))
	assert.Equal(t, []string{models.AlertNewLow, models.AlertPriceDrop}, store.alertKinds())
}

func TestEvaluateEqualLowIsNotNewLow(t *testing.T) {
	store := newFakeStore()
	seedPrices(store, 1, map[string]int64{"2026-08-28": 2300})
	eval := newTestEvaluator(store)

	require.NoError(t, eval.Evaluate(context.Background(), 1, 2300, "2026-08-29"))
	assert.Empty(t, store.alerts)
}
