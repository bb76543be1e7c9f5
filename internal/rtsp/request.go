package rtsp

import (
	"strings"

	"github.com/pkg/errors"
)

// Methods recognized by this server.
const (
	MethodOptions  = "OPTIONS"
	MethodDescribe = "DESCRIBE"
	MethodSetup    = "SETUP"
	MethodTeardown = "TEARDOWN"
	MethodPlay     = "PLAY"
	MethodPause    = "PAUSE"
)

// AllowedMethods is the value sent in every Public/Allow header.
const AllowedMethods = "OPTIONS, DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE"

// ErrMalformedRequest indicates a request could not be parsed into a method,
// URL and CSeq.
var ErrMalformedRequest = errors.New("malformed RTSP request")

// errBufferExhausted indicates a request's terminator was never found
// before the fixed read buffer filled up.
var errBufferExhausted = errors.New("request buffer exhausted before terminator")

// maxRequestFieldLength bounds every parsed field so a pathological request
// can never produce an output field larger than a sane size, regardless of
// how large the accumulated read buffer is.
const maxRequestFieldLength = 4096

// ParsedRequest is the result of parsing a request message: method, the two
// path components either side of the URL's final slash, and the echoed
// CSeq.
type ParsedRequest struct {
	Method       string
	URLPreSuffix string
	URLSuffix    string
	CSeq         string
}

// ParseRequest extracts method, URL components and CSeq from a complete
// RTSP request message. It is a pure function over the buffer: it never
// blocks and never produces a field past maxRequestFieldLength. Any failure
// in the grammar (missing space after method, absent "RTSP/", missing
// CSeq, or an over-long field) yields ErrMalformedRequest.
func ParseRequest(buf []byte) (ParsedRequest, error) {
	s := string(buf)

	method, rest, ok := cutField(s)
	if !ok || method == "" {
		return ParsedRequest{}, ErrMalformedRequest
	}

	path := rest
	if idx := indexRTSPScheme(rest); idx >= 0 {
		afterScheme := rest[idx+len("rtsp://"):]
		end := strings.IndexAny(afterScheme, "/ \t")
		if end < 0 {
			return ParsedRequest{}, ErrMalformedRequest
		}
		if afterScheme[end] == '/' {
			path = afterScheme[end+1:]
		} else {
			path = afterScheme[end:]
		}
	}

	ri := strings.Index(path, "RTSP/")
	if ri < 0 {
		return ParsedRequest{}, ErrMalformedRequest
	}
	pathPart := strings.TrimRight(path[:ri], " \t")

	urlPreSuffix, urlSuffix := splitFinalSlash(pathPart)

	cseq, ok := scanCSeq(path[ri:])
	if !ok {
		return ParsedRequest{}, ErrMalformedRequest
	}

	if len(method) > maxRequestFieldLength || len(urlPreSuffix) > maxRequestFieldLength ||
		len(urlSuffix) > maxRequestFieldLength || len(cseq) > maxRequestFieldLength {
		return ParsedRequest{}, ErrMalformedRequest
	}

	return ParsedRequest{
		Method:       method,
		URLPreSuffix: urlPreSuffix,
		URLSuffix:    urlSuffix,
		CSeq:         cseq,
	}, nil
}

// cutField reads up to the first run of spaces/tabs, returning the field and
// the remainder with leading whitespace skipped.
func cutField(s string) (field, rest string, ok bool) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return "", "", false
	}
	field = s[:i]
	rest = strings.TrimLeft(s[i:], " \t")
	return field, rest, true
}

// indexRTSPScheme locates a case-insensitive "rtsp://" prefix within s,
// stopping at the first whitespace, and returns its byte offset or -1.
func indexRTSPScheme(s string) int {
	const scheme = "rtsp://"
	for i := 0; i+len(scheme) <= len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' {
			break
		}
		if strings.EqualFold(s[i:i+len(scheme)], scheme) {
			return i
		}
	}
	return -1
}

// splitFinalSlash splits path at its final '/': the bytes after it become
// urlSuffix, the bytes between the preceding '/' (or the start) and the
// final '/' become urlPreSuffix. Both results are empty-string-friendly.
func splitFinalSlash(path string) (urlPreSuffix, urlSuffix string) {
	slash := strings.LastIndexByte(path, '/')
	if slash < 0 {
		return "", path
	}
	urlSuffix = path[slash+1:]
	pre := path[:slash]
	if slash2 := strings.LastIndexByte(pre, '/'); slash2 >= 0 {
		urlPreSuffix = pre[slash2+1:]
	} else {
		urlPreSuffix = pre
	}
	return urlPreSuffix, urlSuffix
}

// scanCSeq scans forward from the byte range starting at "RTSP/" for a
// case-sensitive "CSeq: " header and reads its value up to CR or LF.
func scanCSeq(fromProtocol string) (string, bool) {
	lineEnd := strings.IndexAny(fromProtocol, "\r\n")
	rest := fromProtocol
	if lineEnd >= 0 {
		rest = fromProtocol[lineEnd:]
	}
	const marker = "CSeq: "
	ci := strings.Index(rest, marker)
	if ci < 0 {
		return "", false
	}
	value := rest[ci+len(marker):]
	if end := strings.IndexAny(value, "\r\n"); end >= 0 {
		value = value[:end]
	}
	return value, true
}
