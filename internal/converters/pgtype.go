package converters

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ToNullableText converts a string to pgtype.Text
// Empty strings are stored as NULL
func ToNullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// FromNullableText returns the text value or an empty string for NULL
func FromNullableText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// ToTimestamptz converts a time to pgtype.Timestamptz
// Zero times are stored as NULL
func ToTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

// FromTimestamptz returns the UTC time or the zero time for NULL
func FromTimestamptz(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time.UTC()
}
