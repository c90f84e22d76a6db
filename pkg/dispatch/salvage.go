package dispatch

import (
	"errors"
	"strings"

	"github.com/stapel-ai/stapel/pkg/api"
)

// Parse-failure prefixes produced by agent backends whose error text
// still carries the raw model output.
var parsingErrorPrefixes = []string{
	"An output parsing error occured",
	"Could not parse LLM output",
}

// Salvage inspects a backend error and, when it is a recognized parse
// failure, recovers the raw model text embedded in the message. The
// second return is false for any other error.
func Salvage(err error) (string, bool) {
	msg := err.Error()
	// Typed backend errors carry the raw backend message; match on that
	// rather than the formatted error string.
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	for _, prefix := range parsingErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return extractOutput(msg), true
		}
	}
	return "", false
}

// extractOutput pulls the backtick-quoted model text out of a parse
// failure message. Without a backtick pair the full message is returned
// so the caller still gets something rather than nothing.
func extractOutput(msg string) string {
	start := strings.Index(msg, "`")
	end := strings.LastIndex(msg, "`")
	if start >= 0 && end > start {
		return msg[start+1 : end]
	}
	return msg
}
