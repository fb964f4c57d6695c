// Package repository implements the domain repository interfaces using SQLite.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"policyaudit/internal/domain"
)

// timestampLayout is a fixed-width UTC format so lexicographic index order
// equals chronological order.
const timestampLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullStr maps an empty string to SQL NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalOrNull serializes v to JSON, mapping nil pointers/empty values to
// SQL NULL.
func marshalOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return string(b), nil
}

func unmarshalInto(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// mapDBError converts driver errors into the domain taxonomy. A duplicate
// primary key is a Conflict (duplicate-submission guard); anything else on
// the write path means the store could not complete the operation.
func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound("record not found")
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrConflict("record already exists")
	}
	return domain.ErrUnavailable(err, "audit store unavailable: %v", err)
}
