package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// canonicalParams drops nil values and stringifies everything else,
// recursively. The server applies the same normalization to the transmitted
// parameters before re-deriving the signature, so the stringified tree is the
// only form that ever goes over the wire.
func canonicalParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		out[k] = stringifyValue(v)
	}
	return out
}

func stringifyValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any:
		nested := make(map[string]string, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			nested[k] = stringifyValue(item)
		}
		s, err := encodeCanonical(nested)
		if err != nil {
			return ""
		}
		return s
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, stringifyValue(item))
		}
		s, err := encodeCanonical(items)
		if err != nil {
			return ""
		}
		return s
	default:
		return fmt.Sprint(val)
	}
}

// encodeCanonical renders v as deterministic JSON: keys sorted (Go's marshaler
// sorts map keys), no whitespace, no HTML escaping. Any divergence from the
// server's canonicalization in key order, spacing, or escaping invalidates
// the signature, so this must stay byte-stable.
func encodeCanonical(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
