package listings

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the listings table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id           VARCHAR(36) PRIMARY KEY,
			seller_id    VARCHAR(64) NOT NULL,
			title        VARCHAR(200) NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			category     VARCHAR(32) NOT NULL,
			price        NUMERIC(20,2) NOT NULL CHECK (price > 0),
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			rating_avg   DOUBLE PRECISION NOT NULL DEFAULT 0,
			rating_count BIGINT NOT NULL DEFAULT 0 CHECK (rating_count >= 0),
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings (seller_id);
		CREATE INDEX IF NOT EXISTS idx_listings_category ON listings (category) WHERE active;
		CREATE INDEX IF NOT EXISTS idx_listings_rating ON listings (rating_avg DESC) WHERE active;
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, seller_id, title, description, category, price,
			active, rating_avg, rating_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(20,2), $7, $8, $9, $10, $11)`,
		l.ID, l.SellerID, l.Title, l.Description, l.Category, l.Price,
		l.Active, l.RatingAvg, l.RatingCount, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrListingExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, description, category, price,
		       active, rating_avg, rating_count, created_at, updated_at
		FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings
		SET title = $2, description = $3, price = $4::NUMERIC(20,2),
		    active = $5, updated_at = $6
		WHERE id = $1`,
		l.ID, l.Title, l.Description, l.Price, l.Active, l.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Listing, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.Category != "" {
		add("category = $%d", q.Category)
	}
	if q.SellerID != "" {
		add("seller_id = $%d", q.SellerID)
	}
	if q.Active != nil {
		add("active = $%d", *q.Active)
	}
	if q.MinRating > 0 {
		add("rating_avg >= $%d", q.MinRating)
	}
	if q.MinPrice != "" {
		add("price >= $%d::NUMERIC(20,2)", q.MinPrice)
	}
	if q.MaxPrice != "" {
		add("price <= $%d::NUMERIC(20,2)", q.MaxPrice)
	}

	query := `
		SELECT id, seller_id, title, description, category, price,
		       active, rating_avg, rating_count, created_at, updated_at
		FROM listings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, q.Limit, q.Offset)
	query += fmt.Sprintf(" ORDER BY rating_avg DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// ApplyRating updates the running mean atomically in a single statement.
func (p *PostgresStore) ApplyRating(ctx context.Context, id string, rating int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings
		SET rating_count = rating_count + 1,
		    rating_avg   = rating_avg + ($2 - rating_avg) / (rating_count + 1),
		    updated_at   = NOW()
		WHERE id = $1`,
		id, float64(rating),
	)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrListingNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(sc scanner) (*Listing, error) {
	l := &Listing{}
	err := sc.Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Category, &l.Price,
		&l.Active, &l.RatingAvg, &l.RatingCount, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
