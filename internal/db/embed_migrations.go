package db

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

// MigrationFS holds the schema: monitoring sessions with their ledgers, attendance, audit logs and evidence.
// Applied by internal/db/migrate (cmd/migrate, integration tests).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

// MigrationVersions returns the embedded migration names without the .up.sql/.down.sql suffix, sorted.
func MigrationVersions() ([]string, error) {
	entries, err := fs.ReadDir(MigrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			if strings.HasSuffix(name, suffix) {
				seen[strings.TrimSuffix(name, suffix)] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
