package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// PostgresHealthHandler pings the pool and reports its statistics.
func PostgresHealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler("postgres", pool.Ping, func() interface{} { return GetPoolStats(pool) })
}

// MongoHealthHandler pings the primary.
func MongoHealthHandler(client *mongo.Client) echo.HandlerFunc {
	ping := func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
	return healthHandler("mongo", ping, nil)
}

func healthHandler(driver string, ping func(context.Context) error, details func() interface{}) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := ping(ctx)

		body := map[string]interface{}{
			"status": "healthy",
			"driver": driver,
		}
		if details != nil {
			body["pool"] = details()
		}
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
