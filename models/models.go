package models

import "time"

// SelectorConfig holds the per-source CSS selector cascades and availability
// keyword lists. Each selector list is tried in order; the first selector
// that yields a non-empty result wins.
type SelectorConfig struct {
	Item  []string `yaml:"item"`
	Name  []string `yaml:"name"`
	Price []string `yaml:"price"`
	Sqft  []string `yaml:"sqft"`
	Image []string `yaml:"image"`

	AvailabilityInclude []string `yaml:"availability_include"`
	AvailabilityExclude []string `yaml:"availability_exclude"`
}

// Source is a named external listing site. Read-only at runtime.
type Source struct {
	Name      string         `yaml:"name"`
	URL       string         `yaml:"url"`
	Selectors SelectorConfig `yaml:"selectors"`
}

// ScrapedUnit is the ephemeral extraction result for one floor plan.
// Produced by the extractor, consumed by the ingestor, never persisted as-is.
type ScrapedUnit struct {
	Name          string
	Bedrooms      int // 0 = studio
	Bathrooms     float64
	HasDen        bool
	SquareFootage int
	Position      string
	Price         int64 // whole currency units per month
	Available     bool
	ImageURL      string
}

// Unit is the durable identity for one floor plan within one source.
// Bedrooms, Bathrooms and HasDen are set on first observation and never
// overwritten by re-scrapes.
type Unit struct {
	ID            int64
	Source        string
	Name          string
	Bedrooms      int
	Bathrooms     float64
	HasDen        bool
	SquareFootage int
	Position      string
	ImageURL      string
	FirstSeen     time.Time
	LastSeen      time.Time
}

// PricePoint is the lowest price observed for a unit on one calendar date.
// Available is the logical OR of every observation that day.
type PricePoint struct {
	ID        int64
	UnitID    int64
	Date      string // YYYY-MM-DD
	Price     int64
	Available bool
}

// Alert kinds.
const (
	AlertPriceDrop = "price_drop"
	AlertNewLow    = "new_low"
)

// Alert is an append-only derived fact. Dismissal is a soft flag.
type Alert struct {
	ID            int64
	UnitID        int64
	Kind          string
	OldPrice      int64
	NewPrice      int64
	PercentChange float64
	Dismissed     bool
	CreatedAt     time.Time
}

// Threshold kinds.
const (
	ThresholdDollar     = "dollar"
	ThresholdPercentage = "percentage"
)

// AlertThreshold is the single global alerting setting.
type AlertThreshold struct {
	Kind      string
	Magnitude float64
}

// SourceResult is the per-source slice of a run summary.
type SourceResult struct {
	Source   string
	Scraped  int // units extracted
	Filtered int // candidate nodes skipped for low signal
	Upserted int // units touched in the store
	Priced   int // price points inserted or lowered
	Errors   []string
}

// RunSummary reports one full pipeline run across all sources.
type RunSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceResult
}

// AvailabilityRecord is one (apartment, unit, rent, date) observation from
// the secondary availability source.
type AvailabilityRecord struct {
	Apartment string // building / property name from the nearest heading
	Plan      string // plan code from the nearest heading, if any
	Unit      string // wing letter + number, e.g. "D123"
	RentText  string
	Rent      int64 // lower bound of the rent range, 0 if unparsed
	DateText  string
	MoveIn    time.Time // zero for "now"
	Now       bool
}

// AvailabilityReport is the classified view of the secondary source.
type AvailabilityReport struct {
	AvailableNow  []AvailabilityRecord
	AvailableSoon []AvailabilityRecord // move-in within the forward window
	Table         []AvailabilityRecord // flattened rows for display
}
