package prediction

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NormalizeConfidence converts a loosely typed confidence into a percentage
// in [0, 100].
//
// Backends disagree on scale, so values at or below 1 are read as fractions
// and anything larger as an existing percentage. This is a heuristic: a
// fractional 1.0 and a 1% reading look identical, and both come out as 100.
func NormalizeConfidence(value any) float64 {
	raw := parseNumber(value)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}

	percent := raw
	if raw <= 1 {
		percent = raw * 100
	}
	return math.Min(100, math.Max(0, percent))
}

// parseNumber accepts anything numeric-like. Blank strings and null count as
// zero; values with no numeric reading yield NaN.
func parseNumber(value any) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case json.Number:
		return parseNumericString(string(v))
	case string:
		return parseNumericString(v)
	default:
		return math.NaN()
	}
}

func parseNumericString(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
