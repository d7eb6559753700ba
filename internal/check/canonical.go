package check

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"moviesetl/internal/entity"
)

// Null is the canonical form of SQL NULL in reports.
const Null = "<NULL>"

// Canonical renders a decoded field value so both stores compare equal when
// they hold the same data: lowercase UUIDs, YYYY-MM-DD dates and shortest
// float form.
func Canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return Null
	case uuid.UUID:
		return t.String()
	case time.Time:
		return t.UTC().Format("2006-01-02")
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	case entity.FilmType:
		return string(t)
	}
	return fmt.Sprint(v)
}

// decodeRow normalizes raw column values the way the extractor does and
// decodes them into a record, so driver-specific representations (text vs
// binary UUIDs, DATE text vs time.Time) compare on meaning.
func decodeRow(desc entity.Descriptor, vals []any) (entity.Record, error) {
	if len(vals) != len(desc.Columns) {
		return nil, fmt.Errorf("got %d values for %d columns", len(vals), len(desc.Columns))
	}
	row := make(map[string]any, len(vals))
	for i, c := range desc.Columns {
		row[c] = desc.Normalize(c, vals[i])
	}
	return desc.Decode(row)
}

// canonicalRow returns the canonical value of every descriptor column.
func canonicalRow(desc entity.Descriptor, rec entity.Record) []string {
	out := make([]string, len(desc.Columns))
	for i, c := range desc.Columns {
		v, _ := rec.Field(c)
		out[i] = Canonical(v)
	}
	return out
}

// digest accumulates an order-sensitive xxh3 hash of canonical rows.
type digest struct {
	h *xxh3.Hasher
}

func newDigest() *digest { return &digest{h: xxh3.New()} }

func (d *digest) add(row []string) {
	for _, v := range row {
		_, _ = d.h.WriteString(v)
		_, _ = d.h.Write([]byte{0x1f})
	}
	_, _ = d.h.Write([]byte{0x1e})
}

func (d *digest) sum() uint64 { return d.h.Sum64() }
