// Package memory provides an in-process build log for deployments without
// PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/port/buildlog"
)

var _ buildlog.Store = (*BuildLog)(nil)

// BuildLog keeps records per build in arrival order. It holds at most
// maxBuilds builds; the oldest build is dropped when a new one starts.
type BuildLog struct {
	mu        sync.RWMutex
	builds    map[string][]build.Record
	order     []string // build IDs, oldest first
	maxBuilds int
}

// NewBuildLog creates a log retaining maxBuilds builds (0 means 1000).
func NewBuildLog(maxBuilds int) *BuildLog {
	if maxBuilds <= 0 {
		maxBuilds = 1000
	}
	return &BuildLog{builds: make(map[string][]build.Record), maxBuilds: maxBuilds}
}

// Append stores rec. Sequence numbers must be strictly increasing per build.
func (l *BuildLog) Append(_ context.Context, rec build.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, ok := l.builds[rec.BuildID]
	if !ok {
		if len(l.order) >= l.maxBuilds {
			delete(l.builds, l.order[0])
			l.order = l.order[1:]
		}
		l.order = append(l.order, rec.BuildID)
	}
	if n := len(recs); n > 0 && rec.Seq <= recs[n-1].Seq {
		return fmt.Errorf("append build record %s/%d: sequence not after %d: %w",
			rec.BuildID, rec.Seq, recs[n-1].Seq, domain.ErrInvalidInput)
	}
	rec.IssueCodes = slices.Clone(rec.IssueCodes)
	l.builds[rec.BuildID] = append(recs, rec)
	return nil
}

// List returns a copy of a build's records.
func (l *BuildLog) List(_ context.Context, buildID string) ([]build.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs, ok := l.builds[buildID]
	if !ok {
		return nil, fmt.Errorf("build %s: %w", buildID, domain.ErrNotFound)
	}
	return slices.Clone(recs), nil
}

// SummarizeIssueCodes counts the codes of scored test records over the most
// recently started builds.
func (l *BuildLog) SummarizeIssueCodes(_ context.Context, recentRuns, limit int) ([]build.IssueCount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := map[string]int{}
	start := max(len(l.order)-recentRuns, 0)
	for _, id := range l.order[start:] {
		for _, r := range l.builds[id] {
			if r.Stage != build.StageTesting || r.Score == nil {
				continue
			}
			for _, c := range r.IssueCodes {
				counts[c]++
			}
		}
	}

	out := make([]build.IssueCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, build.IssueCount{Code: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
