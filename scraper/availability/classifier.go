package availability

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"rentwatch/models"
	"rentwatch/utils"
)

// soonWindow is how far forward a move-in date may be to count as
// "available soon".
const soonWindow = 30 * 24 * time.Hour

// pastGrace tolerates clock skew and date tokens resolved to earlier today.
// A yearless date further in the past than this rolls to the next year.
const pastGrace = 24 * time.Hour

var (
	unitRe     = regexp.MustCompile(`\b([A-Z])-?(\d{2,4})\b`)
	rentRe     = regexp.MustCompile(`\$\s*([\d,]+)(?:\s*(?:-|–|—|to)\s*\$?\s*([\d,]+))?`)
	nowRe      = regexp.MustCompile(`(?i)\bnow\b`)
	monthDayRe = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)
	slashRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	headingRe  = regexp.MustCompile(`(?i)^(.*?)\s*[-–—:]*\s*plan\s+([A-Z0-9]{1,6})\b`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Classifier parses a secondary aggregator page into move-in availability.
type Classifier struct {
	logger *zap.SugaredLogger
}

// New creates a Classifier.
func New(logger *zap.SugaredLogger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify scans the rendered document for unit availability, restricted to
// the given wing letters (empty wing means all wings), and splits matches
// into available-now and available within the forward window. Results from
// the generic node scan and the table scan are merged and deduplicated.
func (c *Classifier) Classify(html, wing string, now time.Time) (*models.AvailabilityReport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("availability: parse document: %w", err)
	}

	records := c.scanNodes(doc, wing, now)
	records = append(records, c.scanTables(doc, wing, now)...)

	report := &models.AvailabilityReport{}
	seen := utils.NewStringSet()
	for _, rec := range records {
		key := rec.Apartment + "|" + rec.Unit + "|" + strings.ToLower(rec.DateText)
		if !seen.Add(key) {
			continue
		}

		report.Table = append(report.Table, rec)
		switch {
		case rec.Now:
			report.AvailableNow = append(report.AvailableNow, rec)
		case !rec.MoveIn.IsZero() &&
			!rec.MoveIn.Before(now.Add(-pastGrace)) &&
			!rec.MoveIn.After(now.Add(soonWindow)):
			report.AvailableSoon = append(report.AvailableSoon, rec)
		}
	}

	c.logger.Debugf("[availability] %d records (%d now, %d soon)",
		len(report.Table), len(report.AvailableNow), len(report.AvailableSoon))
	return report, nil
}

// scanNodes walks leaf text blocks for unit-token / rent / date triples.
func (c *Classifier) scanNodes(doc *goquery.Document, wing string, now time.Time) []models.AvailabilityRecord {
	var records []models.AvailabilityRecord

	doc.Find("li, p, tr, div").Each(func(_ int, node *goquery.Selection) {
		// Only leaf blocks: containers repeat their descendants' text.
		if node.ChildrenFiltered("div, li, p, tr, table, ul").Length() > 0 {
			return
		}

		// Rows belonging to a recognized availability table are the table
		// scan's job; scanning them here would double-count with a blank
		// apartment field.
		if goquery.NodeName(node) == "tr" {
			if u, r, d := headerColumns(node.Closest("table")); u >= 0 && r >= 0 && d >= 0 {
				return
			}
		}

		text := normalizeText(node.Text())
		unit := findUnit(text, wing)
		if unit == "" {
			return
		}

		dateText, moveIn, isNow := findDate(text, now)
		if dateText == "" {
			return
		}

		rentText, rent := findRent(text)
		records = append(records, models.AvailabilityRecord{
			Unit:     unit,
			RentText: rentText,
			Rent:     rent,
			DateText: dateText,
			MoveIn:   moveIn,
			Now:      isNow,
		})
	})

	return records
}

// scanTables recovers per-plan listings from HTML tables whose header row
// carries unit/rent/date columns, associating each table with the nearest
// preceding heading that names a building and plan code.
func (c *Classifier) scanTables(doc *goquery.Document, wing string, now time.Time) []models.AvailabilityRecord {
	var records []models.AvailabilityRecord
	var apartment, plan string

	doc.Find("h1, h2, h3, h4, table").Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) != "table" {
			apartment, plan = parseHeading(normalizeText(node.Text()))
			return
		}

		unitCol, rentCol, dateCol := headerColumns(node)
		if unitCol < 0 || rentCol < 0 || dateCol < 0 {
			return
		}

		node.Find("tr").Each(func(i int, row *goquery.Selection) {
			cells := row.Find("td")
			max := unitCol
			if rentCol > max {
				max = rentCol
			}
			if dateCol > max {
				max = dateCol
			}
			if cells.Length() <= max {
				return
			}

			unit := findUnit(normalizeText(cells.Eq(unitCol).Text()), wing)
			if unit == "" {
				return
			}
			dateText, moveIn, isNow := findDate(normalizeText(cells.Eq(dateCol).Text()), now)
			if dateText == "" {
				return
			}
			rentText, rent := findRent(normalizeText(cells.Eq(rentCol).Text()))

			records = append(records, models.AvailabilityRecord{
				Apartment: apartment,
				Plan:      plan,
				Unit:      unit,
				RentText:  rentText,
				Rent:      rent,
				DateText:  dateText,
				MoveIn:    moveIn,
				Now:       isNow,
			})
		})
	})

	return records
}

// headerColumns locates the unit, rent and date-available columns in a
// table's first row, or -1 for any that is missing.
func headerColumns(table *goquery.Selection) (unitCol, rentCol, dateCol int) {
	unitCol, rentCol, dateCol = -1, -1, -1

	header := table.Find("tr").First()
	header.Find("th, td").Each(func(i int, cell *goquery.Selection) {
		label := strings.ToLower(normalizeText(cell.Text()))
		switch {
		case unitCol < 0 && strings.Contains(label, "unit"):
			unitCol = i
		case rentCol < 0 && (strings.Contains(label, "rent") || strings.Contains(label, "price")):
			rentCol = i
		case dateCol < 0 && (strings.Contains(label, "avail") || strings.Contains(label, "date") || strings.Contains(label, "move")):
			dateCol = i
		}
	})
	return unitCol, rentCol, dateCol
}

// parseHeading splits a "Building — Plan X2" heading into its building name
// and plan code. A heading without a plan code names just the building.
func parseHeading(text string) (apartment, plan string) {
	if m := headingRe.FindStringSubmatch(text); m != nil {
		return normalizeText(m[1]), strings.ToUpper(m[2])
	}
	return text, ""
}

// findUnit returns the first wing-letter + number token in text, restricted
// to the given wing letters when set.
func findUnit(text, wing string) string {
	for _, m := range unitRe.FindAllStringSubmatch(text, -1) {
		if wing != "" && !strings.Contains(strings.ToUpper(wing), m[1]) {
			continue
		}
		return m[1] + m[2]
	}
	return ""
}

func findRent(text string) (string, int64) {
	m := rentRe.FindStringSubmatch(text)
	if m == nil {
		return "", 0
	}

	low, _ := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if m[2] != "" {
		if high, _ := strconv.ParseInt(strings.ReplaceAll(m[2], ",", ""), 10, 64); high > 0 && high < low {
			low = high
		}
	}
	return normalizeText(m[0]), low
}

// findDate locates a move-in token: the literal "now", a month-day phrase,
// or a slash-delimited date. Dates without an explicit year belong to the
// current year unless that puts them more than a day in the past, in which
// case they roll to the next year.
func findDate(text string, now time.Time) (dateText string, moveIn time.Time, isNow bool) {
	if m := nowRe.FindString(text); m != "" {
		return m, time.Time{}, true
	}

	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		month := monthIndex[strings.ToLower(m[1][:3])]
		day, _ := strconv.Atoi(m[2])
		year, explicit := parseYear(m[3], now)
		return normalizeText(m[0]), resolveDate(year, month, day, explicit, now), false
	}

	if m := slashRe.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return "", time.Time{}, false
		}
		year, explicit := parseYear(m[3], now)
		return m[0], resolveDate(year, time.Month(month), day, explicit, now), false
	}

	return "", time.Time{}, false
}

func parseYear(raw string, now time.Time) (year int, explicit bool) {
	if raw == "" {
		return now.Year(), false
	}
	y, err := strconv.Atoi(raw)
	if err != nil {
		return now.Year(), false
	}
	if y < 100 {
		y += 2000
	}
	return y, true
}

func resolveDate(year int, month time.Month, day int, explicitYear bool, now time.Time) time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	if !explicitYear && d.Before(now.Add(-pastGrace)) {
		d = d.AddDate(1, 0, 0)
	}
	return d
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
