package rtsp

import (
	"bytes"
	"fmt"
)

// header is one outbound header line. Responses keep headers in an ordered
// slice rather than a map: the teacher's Response used map[string]string,
// whose iteration order is randomized on every run — harmless for a proxy
// that only cares about header presence, but it makes wire output
// non-deterministic, while this core's response-construction tests rely on
// a fixed header order.
type header struct {
	Key   string
	Value string
}

// response builds one outbound RTSP message. Every handler in session.go
// constructs one of these; ClientSession.run calls Bytes() to write it.
type response struct {
	Code    int
	Reason  string
	Headers []header
	Body    string
}

func newResponse(code int, reason string) *response {
	return &response{Code: code, Reason: reason}
}

// WithHeader appends a header. Call order is wire order.
func (r *response) WithHeader(key, value string) *response {
	r.Headers = append(r.Headers, header{key, value})
	return r
}

// WithCSeq appends a CSeq header, or does nothing if cseq is empty (the
// omitted-CSeq case for a request that failed to parse).
func (r *response) WithCSeq(cseq string) *response {
	if cseq == "" {
		return r
	}
	return r.WithHeader("CSeq", cseq)
}

// WithBody sets the response body.
func (r *response) WithBody(body string) *response {
	r.Body = body
	return r
}

// Bytes formats the response exactly as it goes on the wire.
func (r *response) Bytes() []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "RTSP/1.0 %d %s\r\n", r.Code, r.Reason)
	for _, h := range r.Headers {
		fmt.Fprintf(buf, "%s: %s\r\n", h.Key, h.Value)
	}
	buf.WriteString("\r\n")
	buf.WriteString(r.Body)
	return buf.Bytes()
}
