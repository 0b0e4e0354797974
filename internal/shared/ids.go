package shared

import (
	"strconv"
	"strings"
)

// ParseID converts a decimal identifier, returning zero for blank or invalid input.
func ParseID(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// FormatID renders an identifier for sessions and URLs.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
