package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rentwatch/models"
)

// Threshold setting keys.
const (
	settingThresholdKind  = "alert_threshold_kind"
	settingThresholdValue = "alert_threshold_value"
)

// SQLStore implements Store on database/sql. Driver is "postgres" or
// "sqlite"; the SQL is written to work on both, with dialect differences
// confined to the schema bootstrap and row locking.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *zap.SugaredLogger
}

// NewSQLStore opens the database, waits for it to come up, and runs the
// schema bootstrap.
func NewSQLStore(driver, dsn string, logger *zap.SugaredLogger) (*SQLStore, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, eris.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "storage: open")
	}
	if driver == "sqlite" {
		// modernc's driver is not safe for concurrent writers on one file.
		db.SetMaxOpenConns(1)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: ping failed after retries")
	}

	s := &SQLStore{db: db, driver: driver, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, eris.Wrap(err, "storage: migrate")
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	serial := "BIGSERIAL PRIMARY KEY"
	timestamp := "TIMESTAMPTZ"
	if s.driver == "sqlite" {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
		timestamp = "TIMESTAMP"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS units (
			id             ` + serial + `,
			source         TEXT NOT NULL,
			name           TEXT NOT NULL,
			bedrooms       INTEGER NOT NULL DEFAULT 0,
			bathrooms      REAL NOT NULL DEFAULT 1,
			has_den        BOOLEAN NOT NULL DEFAULT FALSE,
			square_footage INTEGER NOT NULL DEFAULT 0,
			position       TEXT NOT NULL DEFAULT '',
			image_url      TEXT NOT NULL DEFAULT '',
			first_seen     ` + timestamp + ` NOT NULL,
			last_seen      ` + timestamp + ` NOT NULL,
			UNIQUE (source, name)
		)`,
		`CREATE TABLE IF NOT EXISTS price_points (
			id        ` + serial + `,
			unit_id   BIGINT NOT NULL REFERENCES units(id),
			date      TEXT NOT NULL,
			price     BIGINT NOT NULL,
			available BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (unit_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id             ` + serial + `,
			unit_id        BIGINT NOT NULL REFERENCES units(id),
			kind           TEXT NOT NULL,
			old_price      BIGINT NOT NULL,
			new_price      BIGINT NOT NULL,
			percent_change REAL NOT NULL DEFAULT 0,
			dismissed      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     ` + timestamp + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_points_unit_date ON price_points(unit_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_unit ON alerts(unit_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertUnit creates the unit on first sighting. On repeat sightings only
// the mutable attributes are refreshed, and only with non-empty scraped
// values, so a noisy re-scrape never clobbers good metadata.
func (s *SQLStore) UpsertUnit(ctx context.Context, source string, u *models.ScrapedUnit, seenAt time.Time) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, eris.Wrap(err, "storage: begin upsert unit")
	}
	defer tx.Rollback()

	var (
		id       int64
		sqft     int
		position string
		imageURL string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, square_footage, position, image_url FROM units WHERE source = $1 AND name = $2`+s.rowLock(),
		source, u.Name,
	).Scan(&id, &sqft, &position, &imageURL)

	switch {
	case err == sql.ErrNoRows:
		err = tx.QueryRowContext(ctx,
			`INSERT INTO units (source, name, bedrooms, bathrooms, has_den, square_footage, position, image_url, first_seen, last_seen)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			 RETURNING id`,
			source, u.Name, u.Bedrooms, u.Bathrooms, u.HasDen, u.SquareFootage, u.Position, u.ImageURL, seenAt,
		).Scan(&id)
		if err != nil {
			return 0, false, eris.Wrapf(err, "storage: insert unit %s/%s", source, u.Name)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, eris.Wrap(err, "storage: commit insert unit")
		}
		return id, true, nil

	case err != nil:
		return 0, false, eris.Wrapf(err, "storage: select unit %s/%s", source, u.Name)
	}

	if u.SquareFootage > 0 {
		sqft = u.SquareFootage
	}
	if u.Position != "" {
		position = u.Position
	}
	if u.ImageURL != "" {
		imageURL = u.ImageURL
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE units SET square_footage = $1, position = $2, image_url = $3, last_seen = $4 WHERE id = $5`,
		sqft, position, imageURL, seenAt, id,
	)
	if err != nil {
		return 0, false, eris.Wrapf(err, "storage: refresh unit %d", id)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, eris.Wrap(err, "storage: commit refresh unit")
	}
	return id, false, nil
}

// UpsertPricePoint performs the transactional read-modify-write for one
// (unit, date) key. A unique-violation race with a concurrent writer is
// retried once inside this call rather than surfaced.
func (s *SQLStore) UpsertPricePoint(ctx context.Context, unitID int64, date string, price int64, available bool) (PriceWrite, error) {
	var w PriceWrite
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		w, err = s.upsertPricePoint(ctx, unitID, date, price, available)
		if err == nil || !isUniqueViolation(err) {
			return w, err
		}
		s.logger.Debugf("[storage] price point conflict for unit %d on %s — retrying", unitID, date)
	}
	return w, err
}

func (s *SQLStore) upsertPricePoint(ctx context.Context, unitID int64, date string, price int64, available bool) (PriceWrite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PriceWrite{}, eris.Wrap(err, "storage: begin upsert price")
	}
	defer tx.Rollback()

	var (
		id       int64
		oldPrice int64
		oldAvail bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, price, available FROM price_points WHERE unit_id = $1 AND date = $2`+s.rowLock(),
		unitID, date,
	).Scan(&id, &oldPrice, &oldAvail)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO price_points (unit_id, date, price, available) VALUES ($1, $2, $3, $4)`,
			unitID, date, price, available,
		)
		if err != nil {
			return PriceWrite{}, eris.Wrapf(err, "storage: insert price point unit %d %s", unitID, date)
		}
		if err := tx.Commit(); err != nil {
			return PriceWrite{}, eris.Wrap(err, "storage: commit insert price point")
		}
		return PriceWrite{Inserted: true, Price: price, Available: available}, nil

	case err != nil:
		return PriceWrite{}, eris.Wrapf(err, "storage: select price point unit %d %s", unitID, date)
	}

	newAvail := oldAvail || available
	newPrice := oldPrice
	lowered := false
	if price < oldPrice {
		newPrice = price
		lowered = true
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE price_points SET price = $1, available = $2 WHERE id = $3`,
		newPrice, newAvail, id,
	)
	if err != nil {
		return PriceWrite{}, eris.Wrapf(err, "storage: update price point %d", id)
	}
	if err := tx.Commit(); err != nil {
		return PriceWrite{}, eris.Wrap(err, "storage: commit update price point")
	}
	return PriceWrite{Lowered: lowered, Price: newPrice, Available: newAvail}, nil
}

// LatestPriceBefore returns the most recent price point strictly before date.
func (s *SQLStore) LatestPriceBefore(ctx context.Context, unitID int64, date string) (*models.PricePoint, error) {
	p := &models.PricePoint{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, unit_id, date, price, available FROM price_points
		 WHERE unit_id = $1 AND date < $2 ORDER BY date DESC LIMIT 1`,
		unitID, date,
	).Scan(&p.ID, &p.UnitID, &p.Date, &p.Price, &p.Available)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: latest price before %s for unit %d", date, unitID)
	}
	return p, nil
}

// MinPriceBefore returns the all-time low strictly before date.
func (s *SQLStore) MinPriceBefore(ctx context.Context, unitID int64, date string) (int64, bool, error) {
	var min sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(price) FROM price_points WHERE unit_id = $1 AND date < $2`,
		unitID, date,
	).Scan(&min)
	if err != nil {
		return 0, false, eris.Wrapf(err, "storage: min price before %s for unit %d", date, unitID)
	}
	return min.Int64, min.Valid, nil
}

func (s *SQLStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (unit_id, kind, old_price, new_price, percent_change, dismissed, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		 RETURNING id`,
		a.UnitID, a.Kind, a.OldPrice, a.NewPrice, a.PercentChange, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return eris.Wrapf(err, "storage: insert %s alert for unit %d", a.Kind, a.UnitID)
	}
	return nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, includeDismissed bool) ([]*models.Alert, error) {
	query := `SELECT id, unit_id, kind, old_price, new_price, percent_change, dismissed, created_at
		 FROM alerts`
	if !includeDismissed {
		query += ` WHERE dismissed = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list alerts")
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a := &models.Alert{}
		if err := rows.Scan(&a.ID, &a.UnitID, &a.Kind, &a.OldPrice, &a.NewPrice,
			&a.PercentChange, &a.Dismissed, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan alert")
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DismissAlert sets the soft dismissal flag. Alerts are never deleted.
func (s *SQLStore) DismissAlert(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET dismissed = TRUE WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "storage: dismiss alert %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("storage: alert %d not found", id)
	}
	return nil
}

// GetSetting returns the stored value, or "" when the key is unset.
func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "storage: get setting %s", key)
	}
	return value, nil
}

func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return eris.Wrapf(err, "storage: set setting %s", key)
	}
	return nil
}

// Threshold reads the alert threshold, defaulting to percentage 5.
func (s *SQLStore) Threshold(ctx context.Context) (models.AlertThreshold, error) {
	t := models.AlertThreshold{Kind: models.ThresholdPercentage, Magnitude: 5}

	kind, err := s.GetSetting(ctx, settingThresholdKind)
	if err != nil {
		return t, err
	}
	raw, err := s.GetSetting(ctx, settingThresholdValue)
	if err != nil {
		return t, err
	}

	if kind != "" {
		t.Kind = kind
	}
	if raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return t, eris.Wrapf(err, "storage: stored threshold value %q", raw)
		}
		t.Magnitude = v
	}
	return t, nil
}

// SetThreshold validates and stores the alert threshold. Invalid settings
// are rejected, never coerced.
func (s *SQLStore) SetThreshold(ctx context.Context, t models.AlertThreshold) error {
	if t.Kind != models.ThresholdDollar && t.Kind != models.ThresholdPercentage {
		return eris.Wrapf(ErrInvalidThreshold, "kind %q", t.Kind)
	}
	if t.Magnitude <= 0 {
		return eris.Wrapf(ErrInvalidThreshold, "magnitude %v", t.Magnitude)
	}
	if t.Kind == models.ThresholdPercentage && t.Magnitude > 100 {
		return eris.Wrapf(ErrInvalidThreshold, "percentage %v", t.Magnitude)
	}

	if err := s.SetSetting(ctx, settingThresholdKind, t.Kind); err != nil {
		return err
	}
	return s.SetSetting(ctx, settingThresholdValue, strconv.FormatFloat(t.Magnitude, 'f', -1, 64))
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rowLock returns the SELECT suffix that locks the read row for the rest of
// the transaction. SQLite serializes writers on its own.
func (s *SQLStore) rowLock() string {
	if s.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
