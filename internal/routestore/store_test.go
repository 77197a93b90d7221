package routestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"mapsync/internal/domain"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, New(mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSave(t *testing.T) {
	mock, store := newMock(t)

	positions := []domain.Position{
		*domain.NewPosition(21.0, 52.2, "start"),
		{Description: "no coordinates"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO routes \(`).
		WithArgs("commute", "route").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM route_positions`).
		WithArgs("commute").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`INSERT INTO route_positions`).
		WithArgs("commute", 0, "start", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO route_positions`).
		WithArgs("commute", 1, "no coordinates", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), "commute", domain.Route, positions); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveRollsBackOnError(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO routes \(`).
		WithArgs("broken", "track").
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	if err := store.Save(context.Background(), "broken", domain.Track, nil); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoad(t *testing.T) {
	mock, store := newMock(t)

	updated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	recorded := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	lon, lat, ele := 21.0, 52.2, 100.0

	mock.ExpectQuery(`SELECT characteristics, updated_at FROM routes`).
		WithArgs("commute").
		WillReturnRows(pgxmock.NewRows([]string{"characteristics", "updated_at"}).AddRow("track", updated))
	mock.ExpectQuery(`SELECT description, recorded_at, longitude, latitude, elevation`).
		WithArgs("commute").
		WillReturnRows(pgxmock.NewRows([]string{"description", "recorded_at", "longitude", "latitude", "elevation"}).
			AddRow("start", &recorded, &lon, &lat, &ele).
			AddRow("end", &recorded, &lon, &lat, &ele))

	route, err := store.Load(context.Background(), "commute")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if route.Characteristics != domain.Track || !route.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected route %+v", route)
	}
	if len(route.Positions) != 2 || route.Positions[1].Description != "end" {
		t.Fatalf("unexpected positions %+v", route.Positions)
	}
	if !route.Positions[0].HasCoordinates() || !route.Positions[0].Time.Equal(recorded) {
		t.Fatalf("expected coordinates and time, got %+v", route.Positions[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery(`SELECT characteristics, updated_at FROM routes`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	mock, store := newMock(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT r.name, r.characteristics, r.updated_at, COUNT\(p.seq\)`).
		WillReturnRows(pgxmock.NewRows([]string{"name", "characteristics", "updated_at", "count"}).
			AddRow("commute", "route", now, 3).
			AddRow("legacy", "railway", now, 1).
			AddRow("pois", "waypoints", now, 7))

	routes, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected unknown characteristics to be skipped, got %+v", routes)
	}
	if routes[1].Name != "pois" || routes[1].Characteristics != domain.Waypoints || routes[1].Positions != 7 {
		t.Fatalf("unexpected summary %+v", routes[1])
	}
}

func TestDelete(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectExec(`DELETE FROM routes`).WithArgs("commute").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := store.Delete(context.Background(), "commute"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mock.ExpectExec(`DELETE FROM routes`).WithArgs("commute").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := store.Delete(context.Background(), "commute"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS routes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
}
