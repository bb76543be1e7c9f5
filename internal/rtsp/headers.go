package rtsp

import "strings"

// findHeaderValue locates a header case-insensitively and returns its value,
// read from the first non-whitespace byte after the colon up to CR or LF.
// Transport and Authorization are matched this way per RFC 2326's
// case-insensitive header names; CSeq is matched case-sensitively elsewhere
// (request.go) to mirror deployed server behavior.
func findHeaderValue(raw, name string) (string, bool) {
	lower := strings.ToLower(raw)
	key := strings.ToLower(name) + ":"

	idx := strings.Index(lower, "\n"+key)
	if idx >= 0 {
		idx++ // position at the key itself, past the newline
	} else if strings.HasPrefix(lower, key) {
		idx = 0
	} else {
		return "", false
	}

	start := idx + len(key)
	for start < len(raw) && (raw[start] == ' ' || raw[start] == '\t') {
		start++
	}
	end := strings.IndexAny(raw[start:], "\r\n")
	if end < 0 {
		return raw[start:], true
	}
	return raw[start : start+end], true
}
