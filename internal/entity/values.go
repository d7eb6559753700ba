package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rating bounds for film_work.rating.
const (
	MinRating = 0.0
	MaxRating = 100.0
)

// NormalizeDescription maps NULL and empty descriptions to "".
func NormalizeDescription(v any) any {
	if v == nil {
		return ""
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// NormalizeRating maps NULL to 0.0 and clamps numeric ratings into
// [MinRating, MaxRating]. Non-numeric values pass through for the decoder to
// reject.
func NormalizeRating(v any) any {
	if v == nil {
		return 0.0
	}
	f, err := ParseFloat(v)
	if err != nil {
		return v
	}
	return ClampRating(f)
}

// ClampRating clamps f into [MinRating, MaxRating].
func ClampRating(f float64) float64 {
	switch {
	case f < MinRating:
		return MinRating
	case f > MaxRating:
		return MaxRating
	}
	return f
}

// ParseUUID accepts the driver representations of a UUID: text, raw 16
// bytes, or an already typed value.
func ParseUUID(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case [16]byte:
		return uuid.UUID(t), nil
	case string:
		return uuid.Parse(strings.TrimSpace(t))
	case []byte:
		if len(t) == 16 {
			return uuid.FromBytes(t)
		}
		return uuid.ParseBytes(t)
	case nil:
		return uuid.Nil, ErrMissingField
	}
	return uuid.Nil, fmt.Errorf("unsupported uuid value %T", v)
}

// ParseFloat converts the numeric representations returned by SQL drivers.
func ParseFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	case nil:
		return 0, ErrMissingField
	}
	return 0, fmt.Errorf("unsupported numeric value %T", v)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseDate converts a nullable date column to a UTC midnight time. NULL
// and empty text give nil.
func ParseDate(v any) (*time.Time, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return nil, fmt.Errorf("unsupported date value %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unparsable date %q", s)
}

func requireUUID(row map[string]any, col string) (uuid.UUID, error) {
	id, err := ParseUUID(row[col])
	if err != nil {
		return uuid.Nil, &FieldError{Column: col, Err: err}
	}
	return id, nil
}

func requireText(row map[string]any, col string) (string, error) {
	switch t := row[col].(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case nil:
		return "", &FieldError{Column: col, Err: ErrMissingField}
	default:
		return "", &FieldError{Column: col, Err: fmt.Errorf("unsupported text value %T", t)}
	}
}

func optionalText(row map[string]any, col string) (*string, error) {
	if row[col] == nil {
		return nil, nil
	}
	s, err := requireText(row, col)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
