package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/port/buildlog"
	"github.com/Strob0t/ForgeBot/internal/port/cache"
)

// CachedIssueSummary serves the recent issue-code summary from a cache,
// collapsing concurrent misses into one build log query.
type CachedIssueSummary struct {
	log    buildlog.Store
	cache  cache.Cache
	runs   int
	limit  int
	ttl    time.Duration
	flight singleflight.Group
}

// NewCachedIssueSummary summarizes the last runs runs, keeping the limit
// most frequent codes. c may be nil to disable caching.
func NewCachedIssueSummary(log buildlog.Store, c cache.Cache, runs, limit int, ttl time.Duration) *CachedIssueSummary {
	return &CachedIssueSummary{log: log, cache: c, runs: runs, limit: limit, ttl: ttl}
}

// RecentIssues implements IssueSummarizer.
func (s *CachedIssueSummary) RecentIssues(ctx context.Context) ([]build.IssueCount, error) {
	key := s.key()
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.WarnContext(ctx, "issue summary cache read failed", "error", err)
		} else if ok {
			var out []build.IssueCount
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
		}
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		counts, err := s.log.SummarizeIssueCodes(ctx, s.runs, s.limit)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if data, err := json.Marshal(counts); err == nil {
				if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
					slog.WarnContext(ctx, "issue summary cache write failed", "error", err)
				}
			}
		}
		return counts, nil
	})
	if err != nil {
		return nil, fmt.Errorf("summarize issue codes: %w", err)
	}
	return v.([]build.IssueCount), nil
}

// Invalidate drops the cached summary, e.g. after a run finishes.
func (s *CachedIssueSummary) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.key()); err != nil {
		slog.WarnContext(ctx, "issue summary cache invalidate failed", "error", err)
	}
}

func (s *CachedIssueSummary) key() string {
	return fmt.Sprintf("issues.recent.%d.%d", s.runs, s.limit)
}
