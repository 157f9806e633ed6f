package errorlog

import "strings"

const redactionValue = "***REDACTED***"

// sensitiveKeySubstrings are matched case-insensitively against map keys
// at any depth, generalizing config.DefaultConfigSanitizer's fixed-field
// redaction to the free-form maps carried on ProcessingContext.
var sensitiveKeySubstrings = []string{
	"password", "api_key", "apikey", "token", "secret", "credential",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of m with every value whose key matches a
// sensitive substring replaced by a redaction marker, recursing into
// nested maps and slices of maps. The input is not mutated.
func Sanitize(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch {
		case isSensitiveKey(k):
			out[k] = redactionValue
		case isMap(v):
			out[k] = Sanitize(asMap(v))
		case isSliceOfMaps(v):
			out[k] = sanitizeSlice(v.([]map[string]interface{}))
		default:
			out[k] = v
		}
	}
	return out
}

func isMap(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func isSliceOfMaps(v interface{}) bool {
	_, ok := v.([]map[string]interface{})
	return ok
}

func sanitizeSlice(in []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(in))
	for i, m := range in {
		out[i] = Sanitize(m)
	}
	return out
}
