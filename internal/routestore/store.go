package routestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mapsync/internal/domain"
)

var ErrNotFound = errors.New("route not found")

// Querier is satisfied by *pgxpool.Pool and pgxmock pools
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS routes (
	name            TEXT PRIMARY KEY,
	characteristics TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS route_positions (
	route_name  TEXT NOT NULL REFERENCES routes(name) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ,
	longitude   DOUBLE PRECISION,
	latitude    DOUBLE PRECISION,
	elevation   DOUBLE PRECISION,
	PRIMARY KEY (route_name, seq)
)`

// Route is a stored position list
type Route struct {
	Name            string                 `json:"name"`
	Characteristics domain.Characteristics `json:"characteristics"`
	Positions       []domain.Position      `json:"positions"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

type Summary struct {
	Name            string                 `json:"name"`
	Characteristics domain.Characteristics `json:"characteristics"`
	Positions       int                    `json:"positions"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

type Store struct {
	db     Querier
	logger *slog.Logger
}

func New(db Querier, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "route_store"),
	}
}

func ConnectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save replaces the stored route called name
func (s *Store) Save(ctx context.Context, name string, c domain.Characteristics, positions []domain.Position) error {
	start := time.Now()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := saveTx(ctx, tx, name, c, positions); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("route saved",
		"name", name,
		"characteristics", c,
		"positions", len(positions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func saveTx(ctx context.Context, tx pgx.Tx, name string, c domain.Characteristics, positions []domain.Position) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO routes (name, characteristics, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET characteristics=EXCLUDED.characteristics, updated_at=now()
	`, name, c.String())
	if err != nil {
		return fmt.Errorf("upsert route: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM route_positions WHERE route_name=$1`, name); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}

	for i, p := range positions {
		var recorded *time.Time
		if !p.Time.IsZero() {
			t := p.Time
			recorded = &t
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO route_positions (route_name, seq, description, recorded_at, longitude, latitude, elevation)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, name, i, p.Description, recorded, p.Longitude, p.Latitude, p.Elevation)
		if err != nil {
			return fmt.Errorf("insert position %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (*Route, error) {
	r := &Route{Name: name}
	var characteristics string
	err := s.db.QueryRow(ctx, `
		SELECT characteristics, updated_at FROM routes WHERE name=$1
	`, name).Scan(&characteristics, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if r.Characteristics, err = domain.ParseCharacteristics(characteristics); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT description, recorded_at, longitude, latitude, elevation
		FROM route_positions WHERE route_name=$1
		ORDER BY seq
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Position
		var recorded *time.Time
		if err := rows.Scan(&p.Description, &recorded, &p.Longitude, &p.Latitude, &p.Elevation); err != nil {
			return nil, err
		}
		if recorded != nil {
			p.Time = *recorded
		}
		r.Positions = append(r.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.name, r.characteristics, r.updated_at, COUNT(p.seq)
		FROM routes r LEFT JOIN route_positions p ON p.route_name = r.name
		GROUP BY r.name, r.characteristics, r.updated_at
		ORDER BY r.updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sm Summary
		var characteristics string
		if err := rows.Scan(&sm.Name, &characteristics, &sm.UpdatedAt, &sm.Positions); err != nil {
			return nil, err
		}
		c, err := domain.ParseCharacteristics(characteristics)
		if err != nil {
			s.logger.Warn("skipping route with unknown characteristics", "name", sm.Name, "characteristics", characteristics)
			continue
		}
		sm.Characteristics = c
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM routes WHERE name=$1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
