package schema

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/sheetdb/internal/sheet"
)

// Values go through two mappings:
//
//	Go value (record) → column Type → Affinity → cell value
//
//	string      → text    → TEXT    → string
//	float64/int → number  → NUMERIC → int64 if whole, else float64
//	float64/int → integer → INTEGER → int64
//	bool        → bool    → BOOL    → bool
//	time.Time   → date    → TEXT    → RFC 3339 string
//	[]any/map   → json    → TEXT    → JSON-encoded string
//
// Numeric text is accepted by numeric affinities. Text that does not parse is
// rejected instead of being stored as-is.

// Affinity is the storage class a column coerces its values toward.
type Affinity int

const (
	// AffinityAny applies no coercion.
	AffinityAny Affinity = iota
	// AffinityText converts scalars to their text form.
	AffinityText
	// AffinityInteger forces whole numbers.
	AffinityInteger
	// AffinityReal forces floating point numbers.
	AffinityReal
	// AffinityNumeric stores whole numbers as int64, others as float64.
	AffinityNumeric
	// AffinityBool forces booleans.
	AffinityBool
)

// Coerce converts value toward a. ok is false when value cannot be
// represented, in which case value is returned unchanged. nil is always ok.
func Coerce(value any, a Affinity) (any, bool) {
	if value == nil {
		return nil, true
	}
	switch a {
	case AffinityText:
		return toText(value)
	case AffinityInteger:
		return toInteger(value)
	case AffinityReal:
		return toReal(value)
	case AffinityNumeric:
		return toNumeric(value)
	case AffinityBool:
		return toBool(value)
	case AffinityAny:
		return value, true
	default:
		return value, true
	}
}

func toText(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64, float32, int, int64, bool:
		return sheet.CellString(v), true
	case time.Time:
		return v.Format(time.RFC3339Nano), true
	default:
		return value, false
	}
}

func toInteger(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return whole(v)
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return whole(f)
		}
		return value, false
	case bool:
		if v {
			return int64(1), true
		}
		return int64(0), true
	default:
		return value, false
	}
}

func toReal(value any) (any, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
		return value, false
	default:
		return value, false
	}
}

func toNumeric(value any) (any, bool) {
	f, ok := toReal(value)
	if !ok {
		return value, false
	}
	if i, ok := whole(f.(float64)); ok {
		return i, true
	}
	return f, true
}

func toBool(value any) (any, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case float64:
		return boolFromNumber(v)
	case int64:
		return boolFromNumber(float64(v))
	case int:
		return boolFromNumber(float64(v))
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, true
		}
		return value, false
	default:
		return value, false
	}
}

func boolFromNumber(f float64) (any, bool) {
	switch f {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return f, false
	}
}

// whole returns f as an int64 when it has no fractional part and fits.
func whole(f float64) (any, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return f, false
	}
	return int64(f), true
}
