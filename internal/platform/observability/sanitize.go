package observability

import "unicode"

const maxFieldLength = 256

// sanitizeString strips control characters and caps the length so request
// supplied values cannot break log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLength
	}

	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}

// SanitizeRoute normalises a chi route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod normalises an HTTP method for logging.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeClientID bounds caller supplied client identifiers before they reach
// log fields.
func SanitizeClientID(id string) string {
	if id == "" {
		return ""
	}
	return sanitizeString(id, 64)
}
