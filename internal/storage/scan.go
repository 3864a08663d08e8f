package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/veriflow-io/veriflow/internal/model"
)

const pgUniqueViolation = "23505"

// translateError maps driver errors onto domain error kinds so handlers never
// see raw pq errors.
func translateError(err error, entity string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFoundf("%s", entity)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return model.Conflictf("%s already exists", entity)
	}

	return fmt.Errorf("%s: %w", entity, err)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// marshalJSON serializes a map for a JSONB column; nil maps become SQL NULL.
func marshalJSON(m any) (any, error) {
	if m == nil {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize JSON column: %w", err)
	}

	return data, nil
}

// unmarshalJSON deserializes a nullable JSONB column into dst.
func unmarshalJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to deserialize JSON column: %w", err)
	}

	return nil
}

// pqStringArray adapts a string slice for a text[] parameter.
func pqStringArray(s []string) any {
	return pq.Array(s)
}

// nullTime converts *time.Time into a driver-friendly value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}

// nullString converts "" into SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// scanNullString reads a nullable text column into a plain string.
func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}

	return ""
}
