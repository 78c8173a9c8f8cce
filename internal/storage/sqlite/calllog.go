package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

// InsertCalls batch-inserts upstream call records.
func (s *Store) InsertCalls(ctx context.Context, calls []gateway.UpstreamCall) error {
	if len(calls) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 9
	placeholders := make([]string, len(calls))
	args := make([]any, 0, len(calls)*cols)

	for i, c := range calls {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			c.ID, c.Provider, c.Endpoint, sqlBool(c.Cached), c.StatusCode,
			optString(c.ErrorKind), c.LatencyMs, optString(c.RequestID),
			encodeTime(c.CreatedAt),
		)
	}

	query := `INSERT INTO upstream_calls
		(id, provider, endpoint, cached, status_code, error_kind, latency_ms, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// DeleteCallsBefore removes call records created before cutoff and returns
// how many were removed.
func (s *Store) DeleteCallsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM upstream_calls WHERE created_at < ?`,
		encodeTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SummarizeCalls aggregates call records created at or after since.
func (s *Store) SummarizeCalls(ctx context.Context, since time.Time) ([]gateway.CallStats, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT endpoint, COUNT(*), COALESCE(SUM(cached), 0), SUM(CASE WHEN error_kind IS NOT NULL THEN 1 ELSE 0 END)
		 FROM upstream_calls WHERE created_at >= ?
		 GROUP BY endpoint ORDER BY endpoint`,
		encodeTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.CallStats
	for rows.Next() {
		var cs gateway.CallStats
		if err := rows.Scan(&cs.Endpoint, &cs.Total, &cs.Cached, &cs.Errors); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
