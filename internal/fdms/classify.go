package fdms

import (
	"encoding/json"
	"regexp"
	"strings"
)

// NormalizedError is the caller-facing form of any FDMS failure.
type NormalizedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	bracketCodePattern  = regexp.MustCompile(`(?s)^\[([A-Za-z0-9_-]+)\]\s*(.*)$`)
	legacyPrefixPattern = regexp.MustCompile(`^FDMS error \d+:\s*`)
)

// Classify turns raw error text from the gateway into a NormalizedError.
// Worst case it returns the input unchanged as the message.
func Classify(raw string) NormalizedError {
	text := unwrapDetail(raw)

	if m := bracketCodePattern.FindStringSubmatch(text); m != nil {
		return NormalizedError{Code: m[1], Message: m[2]}
	}

	if ne, ok := embeddedEnvelope(text); ok {
		return ne
	}

	if stripped := legacyPrefixPattern.ReplaceAllString(text, ""); stripped != "" {
		return NormalizedError{Message: stripped}
	}
	return NormalizedError{Message: text}
}

// unwrapDetail replaces a {"detail": ...} server wrapper with its content.
func unwrapDetail(raw string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &obj); err != nil {
		return raw
	}
	detail, ok := field(obj, "detail")
	if !ok {
		return raw
	}
	return rawToString(detail)
}

func embeddedEnvelope(text string) (NormalizedError, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return NormalizedError{}, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:]), &obj); err != nil {
		return NormalizedError{}, false
	}

	msg, ok := field(obj, "message")
	if !ok {
		msg, ok = field(obj, "detail")
	}
	if !ok {
		return NormalizedError{}, false
	}

	ne := NormalizedError{Message: rawToString(msg)}
	if code, ok := field(obj, "errorCode"); ok {
		ne.Code = rawToString(code)
	}
	return ne, true
}

// field looks up key in obj, treating a JSON null the same as a missing key.
func field(obj map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := obj[key]
	if !ok || strings.TrimSpace(string(v)) == "null" {
		return nil, false
	}
	return v, true
}

// rawToString returns JSON strings unquoted and any other value as compact JSON.
func rawToString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return strings.TrimSpace(string(v))
}
