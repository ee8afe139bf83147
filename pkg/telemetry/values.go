package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// secondsThreshold separates response times reported in seconds from those
// already in milliseconds. Upstream sources carry no unit tag, so a value in
// (0, 10) is read as seconds. A genuine 12 second latency is therefore taken
// as 12ms; the threshold is kept for compatibility with existing producers.
const secondsThreshold = 10

// ToMilliseconds applies the seconds-to-milliseconds heuristic.
func ToMilliseconds(v float64) float64 {
	if v > 0 && v < secondsThreshold {
		return v * 1000
	}
	return v
}

// toFloat coerces a decoded JSON value into a finite float64.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		trimmed := strings.TrimSpace(x)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok && obj != nil
}

// first returns the value of the first key that is present and non-null.
func first(obj map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// number resolves the first present alias and coerces it. A present value that
// is not numeric yields no number; later aliases are not consulted.
func number(obj map[string]any, keys ...string) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	v, ok := first(obj, keys...)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func floatPtr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func millisPtr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	ms := ToMilliseconds(v)
	return &ms
}

func countPtr(v float64, ok bool) *int64 {
	if !ok || v < 0 || v > math.MaxInt64 {
		return nil
	}
	n := int64(math.Round(v))
	return &n
}

// errorRate prefers an explicit rate and otherwise derives errors/requests.
func errorRate(explicit float64, hasExplicit bool, requests float64, hasRequests bool, errs float64, hasErrors bool) *float64 {
	if hasExplicit {
		return &explicit
	}
	if hasRequests && requests > 0 && hasErrors {
		rate := errs / requests
		return &rate
	}
	return nil
}

// identifier renders the first resolvable id among keys: a non-empty string or
// a finite number.
func identifier(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
			continue
		default:
			if f, ok := toFloat(v); ok {
				return strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
	}
	return ""
}

func stringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func timestampOr(obj map[string]any, fallback string) string {
	if ts := stringField(obj, "timestamp"); ts != "" {
		return ts
	}
	return fallback
}

func receivedStamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return FormatTimestamp(t)
}
