package logging

import (
	"strconv"

	"go.uber.org/zap"
)

// RedactedString creates a Zap field carrying only the value's length.
// Use for anything derived from credential material.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}
