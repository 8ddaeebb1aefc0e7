// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/voyagehq/voyage/pkg/persistence"
	"github.com/voyagehq/voyage/pkg/persistence/memory"
	"github.com/voyagehq/voyage/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend by DSN scheme. postgres:// and
// postgresql:// open PostgreSQL; memory:// keeps everything in process for
// local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "postgresql"
	}

	return scheme
}
