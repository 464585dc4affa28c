package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/port/buildlog"
)

var _ buildlog.Store = (*BuildLog)(nil)

// BuildLog implements buildlog.Store on the append-only build_log table.
type BuildLog struct {
	pool *pgxpool.Pool
}

// NewBuildLog creates a build log backed by the given connection pool.
func NewBuildLog(pool *pgxpool.Pool) *BuildLog {
	return &BuildLog{pool: pool}
}

// Append inserts one stage record.
func (s *BuildLog) Append(ctx context.Context, rec build.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO build_log (build_id, seq, stage, attempt, detail, issue_codes, score, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.BuildID, rec.Seq, string(rec.Stage), rec.Attempt, rec.Detail, pgTextArray(rec.IssueCodes), rec.Score, rec.At)
	if err != nil {
		return fmt.Errorf("append build record %s/%d: %w", rec.BuildID, rec.Seq, err)
	}
	return nil
}

const recordColumns = `build_id, seq, stage, attempt, detail, issue_codes, score, at`

func scanRecord(row scannable, rec *build.Record) error {
	var stage string
	if err := row.Scan(&rec.BuildID, &rec.Seq, &stage, &rec.Attempt, &rec.Detail, &rec.IssueCodes, &rec.Score, &rec.At); err != nil {
		return err
	}
	rec.Stage = build.Stage(stage)
	if len(rec.IssueCodes) == 0 {
		rec.IssueCodes = nil
	}
	return nil
}

// List returns a build's records in sequence order.
func (s *BuildLog) List(ctx context.Context, buildID string) ([]build.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM build_log WHERE build_id = $1 ORDER BY seq ASC`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list build %s: %w", buildID, err)
	}
	defer rows.Close()

	var out []build.Record
	for rows.Next() {
		var rec build.Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list build %s: %w", buildID, err)
	}
	if len(out) == 0 {
		return nil, notFound("build %s", buildID)
	}
	return out, nil
}

// SummarizeIssueCodes counts the codes of scored test records over the most
// recent builds.
func (s *BuildLog) SummarizeIssueCodes(ctx context.Context, recentRuns, limit int) ([]build.IssueCount, error) {
	rows, err := s.pool.Query(ctx, `
		WITH recent AS (
			SELECT build_id FROM build_log
			GROUP BY build_id
			ORDER BY max(at) DESC
			LIMIT $1
		)
		SELECT code, count(*) AS n
		FROM build_log l, unnest(l.issue_codes) AS code
		WHERE l.build_id IN (SELECT build_id FROM recent)
		  AND l.stage = $2 AND l.score IS NOT NULL
		GROUP BY code
		ORDER BY n DESC, code ASC
		LIMIT $3`, recentRuns, string(build.StageTesting), limit)
	if err != nil {
		return nil, fmt.Errorf("summarize issue codes: %w", err)
	}
	defer rows.Close()

	out := []build.IssueCount{}
	for rows.Next() {
		var ic build.IssueCount
		if err := rows.Scan(&ic.Code, &ic.Count); err != nil {
			return nil, fmt.Errorf("scan issue count: %w", err)
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}
