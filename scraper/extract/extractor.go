package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"rentwatch/models"
)

// minPlausiblePrice is the monthly-rent noise floor. Anything below it is an
// accidental digit capture (a unit code, a square-footage echo), not a rent.
const minPlausiblePrice = 1000

var (
	planRe    = regexp.MustCompile(`(?i)\bplan\s+([A-Z0-9]{1,6})\b`)
	tokenRe   = regexp.MustCompile(`[A-Za-z][A-Za-z0-9'&-]{2,}(?:\s+[A-Za-z0-9'&-]+){0,3}`)
	studioRe  = regexp.MustCompile(`(?i)\bstudio\b`)
	bedRe     = regexp.MustCompile(`(?i)\b(\d+)\s*(?:bed(?:room)?s?|br)\b`)
	bathRe    = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:bath(?:room)?s?|ba)\b`)
	denRe     = regexp.MustCompile(`(?i)\bden\b`)
	sqftRe    = regexp.MustCompile(`(?i)\b(\d{1,2},\d{3}|\d{3,4})\s*(?:sq\.?\s?ft\.?|sf\b|square\s+feet)`)
	priceRe   = regexp.MustCompile(`(?i)(?:from|starting\s+(?:at|from)|as\s+low\s+as|priced\s+from)?\s*\$\s*([\d,]+)(?:\s*(?:-|–|—|to)\s*\$?\s*([\d,]+))?`)
	posRe     = regexp.MustCompile(`(?i)\b(?:north|south|east|west)(?:-?(?:east|west))?\s+(?:facing|exposure|corner)\b|\bcorner\s+(?:unit|suite)\b`)
	imgExtRe  = regexp.MustCompile(`(?i)\.(?:png|jpe?g|webp|gif|svg)(?:\?|$)`)
)

// negativePhrases always force a unit to unavailable, regardless of any
// configured keyword lists.
var negativePhrases = []string{
	"fully leased",
	"waitlist",
	"wait list",
	"unavailable",
	"sold out",
}

// genericPositive is the availability fallback when a source configures no
// keyword lists.
var genericPositive = []string{"available", "apply", "select", "lease now"}

// Result is one document's extraction outcome. Filtered counts candidate
// nodes skipped for insufficient signal; those are not errors.
type Result struct {
	Units    []*models.ScrapedUnit
	Filtered int
}

// Extractor derives normalized unit records from rendered listing markup.
// Markup is not contractually stable across sources, so every field runs a
// cascade of selectors and regex fallbacks and single bad nodes are skipped,
// never fatal.
type Extractor struct {
	logger *zap.SugaredLogger
}

// New creates an Extractor.
func New(logger *zap.SugaredLogger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract parses the rendered document and returns deduplicated units.
// It fails only if the document itself is unusable.
func (e *Extractor) Extract(html string, cfg models.SelectorConfig, baseURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extract: parse document: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("extract: parse base url %q: %w", baseURL, err)
	}

	items := doc.Find(strings.Join(cfg.Item, ", "))
	res := &Result{}

	// Dedup by uppercase name, keeping the lowest positive price.
	index := make(map[string]int)

	items.Each(func(_ int, node *goquery.Selection) {
		unit := e.extractNode(node, cfg, base)
		if unit == nil {
			res.Filtered++
			return
		}

		key := strings.ToUpper(unit.Name)
		if at, ok := index[key]; ok {
			kept := res.Units[at]
			if unit.Price > 0 && (kept.Price <= 0 || unit.Price < kept.Price) {
				res.Units[at] = unit
			}
			return
		}
		index[key] = len(res.Units)
		res.Units = append(res.Units, unit)
	})

	e.logger.Debugf("[extract] %d candidate nodes → %d units (%d low-signal)",
		items.Length(), len(res.Units), res.Filtered)
	return res, nil
}

// extractNode derives one ScrapedUnit from one candidate node, or nil when
// the node yields neither a usable price nor square footage.
func (e *Extractor) extractNode(node *goquery.Selection, cfg models.SelectorConfig, base *url.URL) *models.ScrapedUnit {
	text := normalizeText(node.Text())

	price := e.extractPrice(node, cfg, text)
	sqft := extractSqft(node, cfg, text)
	if price == 0 && sqft == 0 {
		return nil
	}

	name := extractName(node, cfg, text)
	if name == "" {
		return nil
	}

	return &models.ScrapedUnit{
		Name:          name,
		Bedrooms:      extractBedrooms(text),
		Bathrooms:     extractBathrooms(text),
		HasDen:        denRe.MatchString(text),
		SquareFootage: sqft,
		Position:      extractPosition(text),
		Price:         price,
		Available:     extractAvailability(text, cfg, price),
		ImageURL:      extractImage(node, cfg, base),
	}
}

// extractName walks the name cascade: configured selectors, heading tags,
// aria-label, image alt text, a "plan <code>" phrase, then any leading
// alphabetic token.
func extractName(node *goquery.Selection, cfg models.SelectorConfig, text string) string {
	for _, sel := range cfg.Name {
		if v := normalizeText(node.Find(sel).First().Text()); v != "" {
			return v
		}
	}

	if v := normalizeText(node.Find("h1, h2, h3, h4, h5").First().Text()); v != "" {
		return v
	}

	if v := normalizeText(node.AttrOr("aria-label", "")); v != "" {
		return v
	}
	if v := normalizeText(node.Find("[aria-label]").First().AttrOr("aria-label", "")); v != "" {
		return v
	}

	if v := normalizeText(node.Find("img[alt]").First().AttrOr("alt", "")); v != "" {
		return v
	}

	if m := planRe.FindStringSubmatch(text); m != nil {
		return "Plan " + strings.ToUpper(m[1])
	}

	return normalizeText(tokenRe.FindString(text))
}

func extractBedrooms(text string) int {
	if studioRe.MatchString(text) {
		return 0
	}
	if m := bedRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n
		}
	}
	return 0
}

func extractBathrooms(text string) float64 {
	if m := bathRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// extractSqft tries the configured sqft subnodes first, then the full node
// text.
func extractSqft(node *goquery.Selection, cfg models.SelectorConfig, text string) int {
	for _, sel := range cfg.Sqft {
		if m := sqftRe.FindStringSubmatch(normalizeText(node.Find(sel).Text())); m != nil {
			n, _ := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
			return n
		}
	}
	if m := sqftRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		return n
	}
	return 0
}

// extractPrice tries the configured price subnodes first, then the full node
// text. A matched range resolves to its lower bound; values under the
// plausibility floor are discarded as noise.
func (e *Extractor) extractPrice(node *goquery.Selection, cfg models.SelectorConfig, text string) int64 {
	for _, sel := range cfg.Price {
		if p := parsePrice(normalizeText(node.Find(sel).Text())); p > 0 {
			return p
		}
	}
	return parsePrice(text)
}

// parsePrice returns the first plausible dollar amount in text. A matched
// range resolves to its lower bound; sub-floor amounts (deposits, digit
// noise) are skipped.
func parsePrice(text string) int64 {
	for _, m := range priceRe.FindAllStringSubmatch(text, -1) {
		low := parseAmount(m[1])
		if m[2] != "" {
			if high := parseAmount(m[2]); high > 0 && high < low {
				low = high
			}
		}
		if low >= minPlausiblePrice {
			return low
		}
	}
	return 0
}

func parseAmount(s string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// extractAvailability resolves the availability flag. An explicit negative
// phrase always wins; configured include/exclude lists come next; otherwise
// generic positive keywords decide. A unit without a usable price is never
// available.
func extractAvailability(text string, cfg models.SelectorConfig, price int64) bool {
	lower := strings.ToLower(text)

	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	avail := false
	if len(cfg.AvailabilityInclude) > 0 || len(cfg.AvailabilityExclude) > 0 {
		avail = len(cfg.AvailabilityInclude) == 0
		for _, kw := range cfg.AvailabilityInclude {
			if strings.Contains(lower, strings.ToLower(kw)) {
				avail = true
				break
			}
		}
		for _, kw := range cfg.AvailabilityExclude {
			if strings.Contains(lower, strings.ToLower(kw)) {
				avail = false
				break
			}
		}
	} else {
		for _, kw := range genericPositive {
			if strings.Contains(lower, kw) {
				avail = true
				break
			}
		}
	}

	return avail && price > 0
}

// extractImage resolves an absolute image URL: configured selectors first,
// then an anchor explicitly labeled "floor plan" whose target is an image
// file, then any img src/data-src.
func extractImage(node *goquery.Selection, cfg models.SelectorConfig, base *url.URL) string {
	for _, sel := range cfg.Image {
		found := node.Find(sel).First()
		for _, attr := range []string{"src", "data-src", "href"} {
			if v, ok := found.Attr(attr); ok && v != "" {
				return resolveURL(base, v)
			}
		}
	}

	var planHref string
	node.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.ToLower(normalizeText(a.Text()) + " " + a.AttrOr("aria-label", ""))
		if !strings.Contains(label, "floor plan") && !strings.Contains(label, "floorplan") {
			return true
		}
		href := a.AttrOr("href", "")
		if href != "" && imgExtRe.MatchString(href) {
			planHref = href
			return false
		}
		return true
	})
	if planHref != "" {
		return resolveURL(base, planHref)
	}

	img := node.Find("img").First()
	if v, ok := img.Attr("src"); ok && v != "" {
		return resolveURL(base, v)
	}
	if v, ok := img.Attr("data-src"); ok && v != "" {
		return resolveURL(base, v)
	}
	return ""
}

func extractPosition(text string) string {
	return normalizeText(posRe.FindString(text))
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// normalizeText strips leading/trailing whitespace and collapses internal
// whitespace.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
