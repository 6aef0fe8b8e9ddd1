package chart

import (
	"math"

	"github.com/spf13/cast"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is one loosely-typed data row as delivered by the analytics backend.
// Field order follows the source JSON object, which series discovery relies on.
type Record = orderedmap.OrderedMap[string, any]

// NewRecord builds a Record from alternating key/value arguments.
// Non-string keys are skipped.
func NewRecord(kv ...any) *Record {
	r := orderedmap.New[string, any]()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		r.Set(key, kv[i+1])
	}
	return r
}

// firstTruthy returns the value of the first key whose value is truthy.
func firstTruthy(r *Record, keys []string) (any, string, bool) {
	if r == nil {
		return nil, "", false
	}
	for _, k := range keys {
		if v, ok := r.Get(k); ok && truthy(v) {
			return v, k, true
		}
	}
	return nil, "", false
}

// truthy treats nil, empty strings, false, zero and NaN as absent.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64(x) != 0
	default:
		return true
	}
}

func toNumber(v any) float64 {
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toLabel(v any) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return "Unknown"
	}
	return s
}
