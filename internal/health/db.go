package health

import (
	"context"
	"database/sql"
	"time"
)

// dbPingTimeout caps how long a readiness probe can hold a connection. The
// payments store is also serviced by the sweeper, so a hung probe must not
// pin a pool slot indefinitely.
const dbPingTimeout = 2 * time.Second

// DBChecker reports whether the Postgres payments store is reachable.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// HealthCheck pings the database, bounded by dbPingTimeout.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}
