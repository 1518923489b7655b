package config

// Accessors for dynamic per-component config maps. JSON numbers decode
// as float64, so the numeric getters accept any numeric type rather
// than asserting one; a wrong type falls back to the default instead
// of panicking.

// GetString returns the string at key, or the default.
func GetString(cfg map[string]any, key string, defaultVal string) string {
	if val, ok := cfg[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetInt returns the value at key as an int, or the default.
func GetInt(cfg map[string]any, key string, defaultVal int) int {
	if val, ok := cfg[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case int32:
			return int(v)
		case float64:
			return int(v)
		case float32:
			return int(v)
		}
	}
	return defaultVal
}

// GetFloat64 returns the value at key as a float64, or the default.
func GetFloat64(cfg map[string]any, key string, defaultVal float64) float64 {
	if val, ok := cfg[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case int32:
			return float64(v)
		}
	}
	return defaultVal
}

// GetBool returns the bool at key, or the default.
func GetBool(cfg map[string]any, key string, defaultVal bool) bool {
	if val, ok := cfg[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetStringSlice returns the string slice at key, accepting either a
// []string or a JSON-decoded []any of strings. A mixed-type slice
// falls back to the default.
func GetStringSlice(cfg map[string]any, key string, defaultVal []string) []string {
	if val, ok := cfg[key]; ok {
		if slice, ok := val.([]string); ok {
			return slice
		}
		if raw, ok := val.([]any); ok {
			result := make([]string, 0, len(raw))
			for _, item := range raw {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			if len(result) == len(raw) {
				return result
			}
		}
	}
	return defaultVal
}

// HasKey reports whether key is present at all.
func HasKey(cfg map[string]any, key string) bool {
	_, ok := cfg[key]
	return ok
}
