package cmd

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/persistence"
	"github.com/voyagehq/voyage/pkg/persistence/postgresql"
)

// NewMetricsStore picks the counter backend. A redis:// URL shares counters
// across workers with the lowest write cost; with no URL the store rides on
// the persistence backend (journey_metrics table on PostgreSQL, in-process
// counters otherwise).
func NewMetricsStore(metricsURL string, p persistence.Persistence, logger *slog.Logger) (metrics.Store, error) {
	if metricsURL != "" {
		options, err := redis.ParseURL(metricsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse metrics URL: %w", err)
		}

		return metrics.NewRedisStore(redis.NewClient(options)), nil
	}

	if pg, ok := p.(*postgresql.Persistence); ok {
		return metrics.NewPostgresStore(pg.DB(), logger), nil
	}

	return metrics.NewMemoryStore(), nil
}
