package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentwatch/models"
	"rentwatch/utils"
)

func newTestExtractor() *Extractor {
	return New(utils.NewLogger("error"))
}

func baseConfig() models.SelectorConfig {
	return models.SelectorConfig{
		Item: []string{".unit-card"},
		Name: []string{".unit-name"},
	}
}

func extractOne(t *testing.T, html string, cfg models.SelectorConfig) *Result {
	t.Helper()
	res, err := newTestExtractor().Extract(html, cfg, "https://example.com/floorplans")
	require.NoError(t, err)
	return res
}

func TestExtractFallbackChain(t *testing.T) {
	// No name selector matches; everything must come out of the free text.
	html := `<html><body>
		<div class="unit-card">PLAN A1, 2 Bed 2 Bath 950 sq ft, $2,495</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)

	u := res.Units[0]
	assert.Equal(t, "Plan A1", u.Name)
	assert.Equal(t, 2, u.Bedrooms)
	assert.Equal(t, 2.0, u.Bathrooms)
	assert.False(t, u.HasDen)
	assert.Equal(t, 950, u.SquareFootage)
	assert.Equal(t, int64(2495), u.Price)
	// No positive availability keyword, so the generic fallback says no.
	assert.False(t, u.Available)
}

func TestExtractConfiguredSelectors(t *testing.T) {
	html := `<html><body>
		<div class="unit-card">
			<span class="unit-name">The Birch</span>
			<span class="rent">From $2,150/month</span>
			<span class="size">1 Bed + Den, 1.5 Bath, 720 sq. ft.</span>
			<span class="cta">Apply now</span>
		</div>
	</body></html>`

	cfg := baseConfig()
	cfg.Price = []string{".rent"}
	cfg.Sqft = []string{".size"}

	res := extractOne(t, html, cfg)
	require.Len(t, res.Units, 1)

	u := res.Units[0]
	assert.Equal(t, "The Birch", u.Name)
	assert.Equal(t, 1, u.Bedrooms)
	assert.Equal(t, 1.5, u.Bathrooms)
	assert.True(t, u.HasDen)
	assert.Equal(t, 720, u.SquareFootage)
	assert.Equal(t, int64(2150), u.Price)
	assert.True(t, u.Available)
}

func TestExtractStudio(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Studio S1</h3> Studio, 1 Bath, 480 sq ft — $1,695. Available now.</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)

	u := res.Units[0]
	assert.Equal(t, "Studio S1", u.Name)
	assert.Equal(t, 0, u.Bedrooms)
	assert.Equal(t, 1.0, u.Bathrooms)
	assert.True(t, u.Available)
}

func TestExtractPriceRangeTakesLowerBound(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan C3</h3> 2 bed, $2,395 - $2,650, 1,020 sq ft</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, int64(2395), res.Units[0].Price)
}

func TestExtractPriceFloorDiscardsNoise(t *testing.T) {
	// $500 deposit is below the plausibility floor; the rent must win.
	html := `<html><body>
		<div class="unit-card"><h3>Plan D2</h3> $500 deposit. Starting at $2,050. 860 sq ft</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, int64(2050), res.Units[0].Price)
}

func TestExtractLowSignalNodesFiltered(t *testing.T) {
	// Neither a usable price nor square footage: skipped, counted, no error.
	html := `<html><body>
		<div class="unit-card">Ask about our amenities!</div>
		<div class="unit-card"><h3>Plan E1</h3> 900 sq ft, $2,200. Available.</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, "Plan E1", res.Units[0].Name)
}

func TestExtractDedupKeepsLowestPrice(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan B2</h3> 2 bed, 880 sq ft, $1,995. Available.</div>
		<div class="unit-card"><h3>PLAN B2</h3> 2 bed, 880 sq ft, $1,895. Available.</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, int64(1895), res.Units[0].Price)
}

func TestExtractNegativePhraseOverridesInclude(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan F1</h3> 700 sq ft, $1,850. Available — join the waitlist.</div>
	</body></html>`

	cfg := baseConfig()
	cfg.AvailabilityInclude = []string{"available"}

	res := extractOne(t, html, cfg)
	require.Len(t, res.Units, 1)
	assert.False(t, res.Units[0].Available)
}

func TestExtractIncludeExcludeKeywords(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan G1</h3> 650 sq ft, $1,750. Move in today.</div>
		<div class="unit-card"><h3>Plan G2</h3> 640 sq ft, $1,725. Move in today. Coming soon.</div>
	</body></html>`

	cfg := baseConfig()
	cfg.AvailabilityInclude = []string{"move in"}
	cfg.AvailabilityExclude = []string{"coming soon"}

	res := extractOne(t, html, cfg)
	require.Len(t, res.Units, 2)
	assert.True(t, res.Units[0].Available)
	assert.False(t, res.Units[1].Available)
}

func TestExtractUnavailableWithoutPrice(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan H1</h3> 780 sq ft. Available now.</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, int64(0), res.Units[0].Price)
	assert.False(t, res.Units[0].Available)
}

func TestExtractImageResolution(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan J1</h3> 900 sq ft, $2,300
			<img src="/img/plans/j1.webp" alt="">
		</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, "https://example.com/img/plans/j1.webp", res.Units[0].ImageURL)
}

func TestExtractPrefersFloorPlanAnchor(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan J2</h3> 900 sq ft, $2,300
			<img src="/img/hero.jpg" alt="">
			<a href="/plans/j2-floorplan.png">View floor plan</a>
		</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, "https://example.com/plans/j2-floorplan.png", res.Units[0].ImageURL)
}

func TestExtractNameFromAriaLabel(t *testing.T) {
	html := `<html><body>
		<div class="unit-card" aria-label="Suite 12B">1 bed, 600 sq ft, $1,900. Available.</div>
	</body></html>`

	res := extractOne(t, html, baseConfig())
	require.Len(t, res.Units, 1)
	assert.Equal(t, "Suite 12B", res.Units[0].Name)
}

func TestExtractItemSelectorUnion(t *testing.T) {
	html := `<html><body>
		<div class="unit-card"><h3>Plan K1</h3> 800 sq ft, $2,000</div>
		<li class="plan-row"><h4>Plan K2</h4> 820 sq ft, $2,050</li>
	</body></html>`

	cfg := baseConfig()
	cfg.Item = []string{".unit-card", ".plan-row"}

	res := extractOne(t, html, cfg)
	assert.Len(t, res.Units, 2)
}
