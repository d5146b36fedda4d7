package kv

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/fleetorders/internal/telemetry"
)

// Open selects a backend by driver name ("file", "postgres" or "memory").
// The returned close function is never nil.
func Open(ctx context.Context, driver, dir, postgresURL string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch driver {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		s, err := NewFileStore(dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "postgres":
		db, err := telemetry.OpenPostgres(ctx, postgresURL)
		if err != nil {
			return nil, noop, err
		}
		return NewPostgresStore(db), db.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown storage driver %q", driver)
}
