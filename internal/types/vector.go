package types

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Vector maps onto a pgvector column. The dimension is fixed by the embedding
// model at ingestion time; the application treats the value as opaque.
type Vector []float32

func (Vector) GormDataType() string { return "vector(1536)" }

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	var s string
	switch raw := src.(type) {
	case string:
		s = raw
	case []byte:
		s = string(raw)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		out = append(out, float32(f))
	}
	*v = out
	return nil
}
