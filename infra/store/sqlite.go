package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/fleetiot/core/factory"
	"github.com/kilianp07/fleetiot/core/model"
	"github.com/kilianp07/fleetiot/core/vehicle"
)

// SQLiteStore persists vehicles in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

type sqliteConf struct {
	Path string `json:"path"`
}

func newSQLiteFromConf(raw map[string]any) (vehicle.Store, error) {
	var c sqliteConf
	if err := factory.Decode(raw, &c); err != nil {
		return nil, err
	}
	if c.Path == "" {
		c.Path = "fleetiot.db"
	}
	return NewSQLiteStore(c.Path)
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	schema := `CREATE TABLE IF NOT EXISTS vehicles (
        id TEXT PRIMARY KEY,
        serial TEXT NOT NULL UNIQUE,
        site_id TEXT NOT NULL DEFAULT '',
        category TEXT NOT NULL,
        status TEXT NOT NULL,
        battery INTEGER NOT NULL,
        light TEXT NOT NULL,
        rider_id TEXT NOT NULL DEFAULT '',
        updated_at INTEGER NOT NULL
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Create inserts v. An existing ID or serial returns vehicle.ErrDuplicate.
func (s *SQLiteStore) Create(ctx context.Context, v vehicle.Vehicle) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO vehicles
        (id, serial, site_id, category, status, battery, light, rider_id, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Serial, v.SiteID, string(v.Category), string(v.Status), v.Battery,
		string(v.Light), v.RiderID, unixNano(v.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", vehicle.ErrDuplicate, v.ID)
	}
	return err
}

// FindBySerial returns vehicle.ErrNotFound when no record has serial.
func (s *SQLiteStore) FindBySerial(ctx context.Context, serial string) (*vehicle.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, serial, site_id, category, status, battery, light, rider_id, updated_at
        FROM vehicles WHERE serial = ?`, serial)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vehicle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) Update(ctx context.Context, v vehicle.Vehicle) error {
	res, err := s.db.ExecContext(ctx, `UPDATE vehicles SET
        site_id = ?, category = ?, status = ?, battery = ?, light = ?, rider_id = ?, updated_at = ?
        WHERE id = ?`,
		v.SiteID, string(v.Category), string(v.Status), v.Battery, string(v.Light), v.RiderID,
		unixNano(v.UpdatedAt), v.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return vehicle.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]vehicle.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, serial, site_id, category, status, battery, light, rider_id, updated_at
        FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []vehicle.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanVehicle(r scanner) (vehicle.Vehicle, error) {
	var (
		v                       vehicle.Vehicle
		category, status, light string
		ts                      int64
	)
	if err := r.Scan(&v.ID, &v.Serial, &v.SiteID, &category, &status, &v.Battery, &light, &v.RiderID, &ts); err != nil {
		return vehicle.Vehicle{}, err
	}
	v.Category = model.Category(category)
	v.Status = model.Status(status)
	v.Light = model.Light(light)
	v.UpdatedAt = fromUnixNano(ts)
	return v, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
