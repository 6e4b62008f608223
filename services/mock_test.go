package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"rentwatch/models"
	"rentwatch/storage"
)

// fakeStore is an in-memory Store with the same upsert semantics as the SQL
// implementation.
type fakeStore struct {
	nextID    int64
	units     map[string]*models.Unit          // source|name
	prices    map[int64]map[string]*models.PricePoint
	alerts    []*models.Alert
	settings  map[string]string
	threshold models.AlertThreshold

	failUnits map[string]bool // unit names whose upserts fail
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		units:     make(map[string]*models.Unit),
		prices:    make(map[int64]map[string]*models.PricePoint),
		settings:  make(map[string]string),
		threshold: models.AlertThreshold{Kind: models.ThresholdPercentage, Magnitude: 5},
		failUnits: make(map[string]bool),
	}
}

func (f *fakeStore) UpsertUnit(_ context.Context, source string, u *models.ScrapedUnit, seenAt time.Time) (int64, bool, error) {
	if f.failUnits[u.Name] {
		return 0, false, errors.New("boom")
	}

	key := source + "|" + u.Name
	if existing, ok := f.units[key]; ok {
		if u.SquareFootage > 0 {
			existing.SquareFootage = u.SquareFootage
		}
		if u.Position != "" {
			existing.Position = u.Position
		}
		if u.ImageURL != "" {
			existing.ImageURL = u.ImageURL
		}
		existing.LastSeen = seenAt
		return existing.ID, false, nil
	}

	f.nextID++
	f.units[key] = &models.Unit{
		ID: f.nextID, Source: source, Name: u.Name,
		Bedrooms: u.Bedrooms, Bathrooms: u.Bathrooms, HasDen: u.HasDen,
		SquareFootage: u.SquareFootage, Position: u.Position, ImageURL: u.ImageURL,
		FirstSeen: seenAt, LastSeen: seenAt,
	}
	return f.nextID, true, nil
}

func (f *fakeStore) UpsertPricePoint(_ context.Context, unitID int64, date string, price int64, available bool) (storage.PriceWrite, error) {
	if f.prices[unitID] == nil {
		f.prices[unitID] = make(map[string]*models.PricePoint)
	}

	p, ok := f.prices[unitID][date]
	if !ok {
		f.prices[unitID][date] = &models.PricePoint{UnitID: unitID, Date: date, Price: price, Available: available}
		return storage.PriceWrite{Inserted: true, Price: price, Available: available}, nil
	}

	p.Available = p.Available || available
	if price < p.Price {
		p.Price = price
		return storage.PriceWrite{Lowered: true, Price: price, Available: p.Available}, nil
	}
	return storage.PriceWrite{Price: p.Price, Available: p.Available}, nil
}

func (f *fakeStore) LatestPriceBefore(_ context.Context, unitID int64, date string) (*models.PricePoint, error) {
	var latest *models.PricePoint
	for d, p := range f.prices[unitID] {
		if d >= date {
			continue
		}
		if latest == nil || d > latest.Date {
			latest = p
		}
	}
	return latest, nil
}

func (f *fakeStore) MinPriceBefore(_ context.Context, unitID int64, date string) (int64, bool, error) {
	var min int64
	found := false
	for d, p := range f.prices[unitID] {
		if d >= date {
			continue
		}
		if !found || p.Price < min {
			min = p.Price
			found = true
		}
	}
	return min, found, nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a *models.Alert) error {
	a.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeStore) ListAlerts(_ context.Context, includeDismissed bool) ([]*models.Alert, error) {
	var out []*models.Alert
	for _, a := range f.alerts {
		if includeDismissed || !a.Dismissed {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) DismissAlert(_ context.Context, id int64) error {
	for _, a := range f.alerts {
		if a.ID == id {
			a.Dismissed = true
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, error) {
	return f.settings[key], nil
}

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

func (f *fakeStore) Threshold(_ context.Context) (models.AlertThreshold, error) {
	return f.threshold, nil
}

func (f *fakeStore) SetThreshold(_ context.Context, t models.AlertThreshold) error {
	f.threshold = t
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) alertKinds() []string {
	kinds := make([]string, 0, len(f.alerts))
	for _, a := range f.alerts {
		kinds = append(kinds, a.Kind)
	}
	sort.Strings(kinds)
	return kinds
}
