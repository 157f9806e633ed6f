package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// correlationIDPattern matches "{request_id}.stage_{stage_name}.retry_{attempt}".
var correlationIDPattern = regexp.MustCompile(`^[^.]+\.stage_[a-z_]+\.retry_\d+$`)

// NewCorrelationID builds a correlation id for one stage attempt. Attempts
// are zero-indexed.
func NewCorrelationID(requestID string, stage Stage, attempt int) string {
	return fmt.Sprintf("%s.stage_%s.retry_%d", requestID, stage, attempt)
}

// IsValidCorrelationID reports whether id matches the required format.
func IsValidCorrelationID(id string) bool {
	return correlationIDPattern.MatchString(id)
}

// SplitCorrelationID splits a correlation id back into its three fields.
// It returns ok=false if id does not match the required format.
func SplitCorrelationID(id string) (requestID string, stage Stage, attempt int, ok bool) {
	if !IsValidCorrelationID(id) {
		return "", "", 0, false
	}
	parts := strings.SplitN(id, ".", 3)
	if len(parts) != 3 {
		return "", "", 0, false
	}
	requestID = parts[0]
	stageName := strings.TrimPrefix(parts[1], "stage_")
	retryPart := strings.TrimPrefix(parts[2], "retry_")
	n, err := strconv.Atoi(retryPart)
	if err != nil {
		return "", "", 0, false
	}
	return requestID, Stage(stageName), n, true
}
