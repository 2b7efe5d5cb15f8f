// migrate applies the embedded schema: go run ./cmd/migrate -direction up, or -steps -1 to roll back one.
package main

import (
	"flag"
	"fmt"
	"os"

	"proctoring-engine/internal/config"
	"proctoring-engine/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Apply n migrations (negative rolls back); overrides -direction")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	if *steps != 0 {
		err = migrate.Steps(cfg.DatabaseURL, *steps)
	} else {
		var dir migrate.Direction
		dir, err = migrate.ParseDirection(*direction)
		if err == nil {
			err = migrate.Run(cfg.DatabaseURL, dir)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	version, dirty, ok, err := migrate.Version(cfg.DatabaseURL)
	switch {
	case err != nil:
		fmt.Fprintln(os.Stderr, "migrate: version:", err)
	case !ok:
		fmt.Println("migrate: no migrations applied")
	default:
		fmt.Printf("migrate: schema at version %d (dirty=%v)\n", version, dirty)
	}
}
