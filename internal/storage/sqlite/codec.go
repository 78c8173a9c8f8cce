package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

// Timestamps are stored as fixed-width UTC text so they compare and sort
// lexically in SQL.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func encodeTime(t time.Time) string { return t.UTC().Format(sortableTime) }

// encodeOptTime maps nil to SQL NULL.
func encodeOptTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func decodeOptTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// optString maps "" to SQL NULL.
func optString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sqlBool(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is either *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// noRows turns sql.ErrNoRows into gateway.ErrNotFound.
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

// affectedOne fails with gateway.ErrNotFound when the statement touched no
// row.
func affectedOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	switch {
	case err != nil:
		return err
	case n == 0:
		return fmt.Errorf("%s: %w", what, gateway.ErrNotFound)
	}
	return nil
}
