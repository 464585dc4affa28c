// Package buildlog defines the append-only build log port.
package buildlog

import (
	"context"

	"github.com/Strob0t/ForgeBot/internal/domain/build"
)

// Store is the port interface for the per-run stage log.
type Store interface {
	// Append stores one record. Records are never updated or deleted.
	Append(ctx context.Context, rec build.Record) error

	// List returns all records of a build in sequence order.
	// It returns domain.ErrNotFound when the build has no records.
	List(ctx context.Context, buildID string) ([]build.Record, error)

	// SummarizeIssueCodes counts issue codes over the most recent
	// recentRuns builds and returns the top limit codes, most frequent first.
	SummarizeIssueCodes(ctx context.Context, recentRuns, limit int) ([]build.IssueCount, error)
}
