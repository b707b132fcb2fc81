package xiaomi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseFloat returns 0 for anything that is not a number.
func parseFloat(s string) float32 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return float32(f)
}

// parseInt accepts integer and decimal strings; decimals are truncated.
func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	f, _ := strconv.ParseFloat(s, 64)
	return int(f)
}

func parseInt64(s string) int64 {
	i, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return i
}

// parseAnyInt coerces a decoded JSON value (string or number) to int.
func parseAnyInt(v any) int {
	switch v := v.(type) {
	case string:
		return parseInt(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		return parseInt(v.String())
	}
	return 0
}

// parseAnyFloat coerces a decoded JSON value (string or number) to float32.
func parseAnyFloat(v any) float32 {
	switch v := v.(type) {
	case string:
		return parseFloat(v)
	case float64:
		return float32(v)
	case float32:
		return v
	case int:
		return float32(v)
	case int64:
		return float32(v)
	case json.Number:
		return parseFloat(v.String())
	}
	return 0
}
