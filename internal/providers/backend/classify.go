package backend

import (
	"regexp"
	"strings"
)

var rateLimitMarkers = []string{"rate", "limit", "quota", "429"}

var apiErrorMarkers = []string{
	"api error: 5",
	"internal server error",
	"internal_server_error",
	`"type":"api_error"`,
	"overloaded_error",
}

// apiErrorPrefix matches the line the CLI prints when the upstream API
// failed and no model output was produced.
var apiErrorPrefix = regexp.MustCompile(`^API Error: 5\d\d\b`)

func isRateLimitSignal(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// isAPIError reports whether a final response is an upstream server
// failure. Marker text only counts when the backend flagged the result as
// an error; an ordinary answer may legitimately mention those words.
func isAPIError(text string, flagged bool) bool {
	trimmed := strings.TrimSpace(text)
	if apiErrorPrefix.MatchString(trimmed) {
		return true
	}
	if !flagged {
		return false
	}
	lower := strings.ToLower(strings.ReplaceAll(trimmed, `": "`, `":"`))
	for _, m := range apiErrorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
