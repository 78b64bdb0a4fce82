package property

import (
	"fmt"
	"time"
)

// normalizeValue coerces a caller-supplied value into the canonical set of
// wire types so encode/decode round-trips are deterministic:
//
//	bool, int32, int64, float64, string, []byte, time.Time
//	and homogeneous slices of the above.
//
// Plain ints are widened to int64. time.Time is truncated to millisecond
// precision on the wire (BSON datetime).
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case bool, int32, int64, float64, string, []byte, time.Time:
		return x, nil
	case int:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []bool, []int32, []int64, []float64, []string, [][]byte, []time.Time:
		return x, nil
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			switch n.(type) {
			case bool, int32, int64, float64, string, []byte, time.Time:
			default:
				return nil, fmt.Errorf("element %d: nested arrays are not supported", i)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func normalizeObject(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
