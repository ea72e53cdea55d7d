package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"staybook/internal/eventstore"
)

// Schema creates the catalog tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS apartments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	price_daily NUMERIC(10, 2) NOT NULL CHECK (price_daily > 0),
	features TEXT[] NOT NULL DEFAULT '{}',
	image_urls TEXT[] NOT NULL DEFAULT '{}',
	featured BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS site_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresRepository implements Repository. Price changes are recorded as
// events of the apartment aggregate in the same transaction.
type PostgresRepository struct {
	db     *sqlx.DB
	events *eventstore.EventStore
}

func NewPostgresRepository(db *sqlx.DB, events *eventstore.EventStore) *PostgresRepository {
	return &PostgresRepository{db: db, events: events}
}

type apartmentRow struct {
	Apartment
	Features  pq.StringArray `db:"features"`
	ImageURLs pq.StringArray `db:"image_urls"`
}

func (r apartmentRow) toApartment() Apartment {
	a := r.Apartment
	a.Features = []string(r.Features)
	a.ImageURLs = []string(r.ImageURLs)
	if a.Features == nil {
		a.Features = []string{}
	}
	if a.ImageURLs == nil {
		a.ImageURLs = []string{}
	}
	return a
}

const apartmentColumns = `id, name, description, details, price_daily::float8 AS price_daily,
	features, image_urls, featured, updated_at`

func (p *PostgresRepository) List(ctx context.Context) ([]Apartment, error) {
	var rows []apartmentRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+apartmentColumns+` FROM apartments ORDER BY featured DESC, name`); err != nil {
		return nil, err
	}
	out := make([]Apartment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toApartment())
	}
	return out, nil
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*Apartment, error) {
	var row apartmentRow
	err := p.db.GetContext(ctx, &row, `SELECT `+apartmentColumns+` FROM apartments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrApartmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get apartment: %w", err)
	}
	a := row.toApartment()
	return &a, nil
}

// Upsert inserts or replaces an apartment. Used for seeding.
func (p *PostgresRepository) Upsert(ctx context.Context, a Apartment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO apartments (id, name, description, details, price_daily, features, image_urls, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, details = EXCLUDED.details,
			price_daily = EXCLUDED.price_daily, features = EXCLUDED.features,
			image_urls = EXCLUDED.image_urls, featured = EXCLUDED.featured, updated_at = NOW()
	`, a.ID, a.Name, a.Description, a.Details, a.PriceDaily,
		pq.StringArray(a.Features), pq.StringArray(a.ImageURLs), a.Featured)
	return err
}

func (p *PostgresRepository) SetPrice(ctx context.Context, id string, priceDaily float64) (float64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var old float64
	err = tx.GetContext(ctx, &old, `SELECT price_daily::float8 FROM apartments WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrApartmentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read price: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE apartments SET price_daily = $2, updated_at = NOW() WHERE id = $1`, id, priceDaily); err != nil {
		return 0, fmt.Errorf("failed to update price: %w", err)
	}

	version, err := p.events.CurrentVersion(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	event, err := eventstore.NewEvent("ApartmentPriceChanged", ApartmentPriceChangedEvent{
		ID: id, OldPrice: old, NewPrice: priceDaily,
	})
	if err != nil {
		return 0, err
	}
	if err := p.events.Append(ctx, tx.Tx, id, "apartment", version, []eventstore.Event{event}); err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	return old, tx.Commit()
}

func (p *PostgresRepository) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.GetContext(ctx, &value, `SELECT value FROM site_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (p *PostgresRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO site_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}
