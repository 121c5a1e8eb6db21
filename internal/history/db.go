// Package history keeps an append-only sqlite log of applied battery records
// for charts and drain-rate estimates. It is never read back into the live
// device state.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the history database.
type DB struct {
	*sql.DB
	path string
}

// Reading is one applied record with the time it was observed.
type Reading struct {
	Device   hbi.Device  `json:"device"`
	Level    int         `json:"level"`
	Charging bool        `json:"charging"`
	Company  hbi.Company `json:"company"`
	At       time.Time   `json:"at"`
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// MigrateUp runs all pending migrations.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag. A database with no
// migrations applied reports 0.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// InsertReading appends one reading.
func (db *DB) InsertReading(r Reading) error {
	_, err := db.Exec(
		`INSERT INTO readings (device, level, charging, company, recorded_unix_nanos)
		 VALUES (?, ?, ?, ?, ?)`,
		int32(r.Device), r.Level, r.Charging, int32(r.Company), r.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// Readings returns the readings for device at or after since, oldest first.
func (db *DB) Readings(device hbi.Device, since time.Time) ([]Reading, error) {
	rows, err := db.Query(
		`SELECT device, level, charging, company, recorded_unix_nanos
		 FROM readings
		 WHERE device = ? AND recorded_unix_nanos >= ?
		 ORDER BY recorded_unix_nanos ASC, reading_id ASC`,
		int32(device), since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r       Reading
			dev     int32
			company int32
			nanos   int64
		)
		if err := rows.Scan(&dev, &r.Level, &r.Charging, &company, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Device = hbi.Device(dev)
		r.Company = hbi.Company(company)
		r.At = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored readings.
func (db *DB) Count() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, err
}
