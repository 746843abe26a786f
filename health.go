package pgcore

import "context"

// Pinger is satisfied by *Pool, *Handle and *pgx.Conn.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the response type for health check endpoints.
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthCheck verifies database connectivity and returns a status suitable for
// health check API endpoints.
func HealthCheck(ctx context.Context, db Pinger) (*HealthStatus, error) {
	if err := db.Ping(ctx); err != nil {
		return nil, newError(KindConnection, "health", "health check failed", err)
	}

	return &HealthStatus{Status: "ok", Database: "postgres"}, nil
}
