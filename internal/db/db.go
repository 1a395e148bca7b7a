package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"pdf-rag/internal/models"
)

// Open connects to postgres (postgres://, postgresql://) or sqlite
// (sqlite://path, sqlite://:memory:) and pings the database.
func Open(ctx context.Context, dsn string, debug bool) (*bun.DB, error) {
	var db *bun.DB
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//")
		if path == "" || path == ":memory:" {
			path = ":memory:"
		} else if !strings.Contains(path, "?") {
			path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		sqldb, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, models.Wrap("db.open", models.ErrStoreUnavailable, err)
		}
		// every sqlite connection would otherwise see its own in-memory database
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("%w: unsupported sql dsn", models.ErrInvalidParameters)
	}

	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, models.Wrap("db.ping", models.ErrStoreUnavailable, err)
	}
	return db, nil
}
