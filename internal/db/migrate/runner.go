// Package migrate applies the embedded session, attendance, audit and evidence schema using golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"proctoring-engine/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

var errNoDSN = errors.New("DATABASE_URL is not set; create a .env or set DATABASE_URL")

// Direction is "up" or "down".
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts exactly "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Up, Down:
		return d, nil
	default:
		return "", fmt.Errorf("direction must be up or down, got %q", s)
	}
}

// Run applies all migrations in the given direction. Already being at the target version is not an error.
func Run(dsn string, direction Direction) error {
	if _, err := ParseDirection(string(direction)); err != nil {
		return err
	}
	return withMigrator(dsn, func(m *migrate.Migrate) error {
		var err error
		if direction == Up {
			err = m.Up()
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	})
}

// Steps applies n migrations forward (n > 0) or rolls back -n (n < 0).
func Steps(dsn string, n int) error {
	if n == 0 {
		return errors.New("steps must not be zero")
	}
	return withMigrator(dsn, func(m *migrate.Migrate) error {
		return m.Steps(n)
	})
}

// Version reports the applied schema version. ok is false on a database with no migrations applied.
func Version(dsn string) (version uint, dirty, ok bool, err error) {
	err = withMigrator(dsn, func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return verr
		}
		version, dirty, ok = v, d, true
		return nil
	})
	return version, dirty, ok, err
}

func withMigrator(dsn string, fn func(*migrate.Migrate) error) error {
	if strings.TrimSpace(dsn) == "" {
		return errNoDSN
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return fn(m)
}
