package rtsp

import (
	"bytes"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// rtspBufferSize bounds the accumulated request buffer per connection.
// spec.md §4.5 asks for "≥ some M bytes, e.g. 10 KiB"; a request or response
// that would not fit is a protocol error (read side) or a 500 (write side).
const rtspBufferSize = 10 * 1024

// streamState pairs a bound MediaSession's subsession with the opaque token
// SETUP obtained for it. Reused across the ClientSession's lifetime; its
// order is fixed at bind time to the subsession order of the bound
// MediaSession (spec.md §3 invariant).
type streamState struct {
	sub   Subsession
	token StreamToken
}

// ClientSession is the per-TCP-connection state machine described in
// spec.md §4.5: it reads a complete request, dispatches by method, writes a
// response, and either loops for the next request or tears itself down.
// Unlike the source's single-threaded event loop, one goroutine per
// connection plays the role of "the scheduler re-entering this session";
// there is exactly one goroutine per ClientSession and it never yields
// control to another session's code mid-request, so the per-session state
// below needs no locking (spec.md §5).
type ClientSession struct {
	server    *Server
	conn      net.Conn
	sessionID int64

	buf []byte

	media   MediaSession
	streams []streamState

	auth *Authenticator

	log *logrus.Entry
}

func newClientSession(server *Server, conn net.Conn, sessionID int64) *ClientSession {
	log := server.log.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"remote_addr": conn.RemoteAddr().String(),
	})

	var auth *Authenticator
	if server.userDB != nil {
		auth = NewAuthenticator(server.userDB.Realm(), server.userDB.Lookup)
	}

	return &ClientSession{
		server:    server,
		conn:      conn,
		sessionID: sessionID,
		buf:       make([]byte, rtspBufferSize),
		auth:      auth,
		log:       log,
	}
}

// run drives the session to completion: read, dispatch, respond, repeat
// until a handler asks for closure or the connection dies. It is the sole
// owner of this ClientSession and is the destructor's only caller
// (spec.md §9, "self-deletion in a cooperative event loop" — here expressed
// as the goroutine returning rather than an inline `delete this`).
func (c *ClientSession) run() {
	defer c.destroy()

	for {
		raw, err := c.readRequest()
		if err != nil {
			c.log.WithError(err).Debug("closing connection")
			return
		}

		resp, keepOpen := c.dispatch(raw)
		if _, err := c.conn.Write(resp.Bytes()); err != nil {
			c.log.WithError(err).Debug("write failed, closing connection")
			return
		}
		if !keepOpen {
			return
		}
	}
}

// readRequest accumulates bytes into c.buf until the "\r\n\r\n" terminator
// is found, carrying one byte of context across reads (spec.md §4.1, §4.5):
// a terminator that begins with the last byte of the previous Read is still
// detected, but one split after its second or third byte is not. An
// exhausted buffer or a read error/EOF before the terminator both end the
// connection.
func (c *ClientSession) readRequest() ([]byte, error) {
	offset := 0
	for {
		if offset >= len(c.buf) {
			return nil, errBufferExhausted
		}
		n, err := c.conn.Read(c.buf[offset:])
		if n > 0 {
			searchFrom := offset - 1
			if searchFrom < 0 {
				searchFrom = 0
			}
			end := offset + n
			if idx := bytes.Index(c.buf[searchFrom:end], []byte("\r\n\r\n")); idx >= 0 {
				return c.buf[:searchFrom+idx+4], nil
			}
			offset = end
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *ClientSession) dispatch(raw []byte) (*response, bool) {
	req, err := ParseRequest(raw)
	if err != nil {
		return newResponse(400, "Bad Request").WithHeader("Allow", AllowedMethods), false
	}

	switch req.Method {
	case MethodOptions:
		return c.handleOptions(req), true
	case MethodDescribe:
		return c.handleDescribe(req, string(raw)), true
	case MethodSetup:
		return c.handleSetup(req, string(raw)), true
	case MethodTeardown, MethodPlay, MethodPause:
		return c.handleAggregate(req)
	default:
		return newResponse(405, "Method Not Allowed").WithCSeq(req.CSeq).WithHeader("Allow", AllowedMethods), false
	}
}

func (c *ClientSession) handleOptions(req ParsedRequest) *response {
	return newResponse(200, "OK").
		WithCSeq(req.CSeq).
		WithHeader("Public", AllowedMethods)
}

func (c *ClientSession) handleDescribe(req ParsedRequest, raw string) *response {
	if resp := c.requireAuth(MethodDescribe, raw); resp != nil {
		return resp.WithCSeq(req.CSeq)
	}

	media, ok := c.server.registry.Lookup(req.URLSuffix)
	if !ok {
		return newResponse(404, "Not Found").WithCSeq(req.CSeq)
	}

	sdp := media.SDPDescription()
	resp := newResponse(200, "OK").
		WithCSeq(req.CSeq).
		WithHeader("Content-Base", c.advertisedURL(req.URLSuffix)).
		WithHeader("Content-Type", "application/sdp").
		WithHeader("Content-Length", strconv.Itoa(len(sdp))).
		WithBody(sdp)

	if len(resp.Bytes()) > rtspBufferSize-200 {
		return newResponse(500, "Internal Server Error").WithCSeq(req.CSeq)
	}
	return resp
}

// requireAuth returns nil if the request is authenticated (or no
// UserDatabase is configured, in which case authentication is skipped
// entirely per spec.md §4.3), or a 401 challenge response otherwise.
func (c *ClientSession) requireAuth(method, raw string) *response {
	if c.auth == nil {
		return nil
	}
	if c.auth.Verify(method, raw) {
		return nil
	}
	return newResponse(401, "Unauthorized").WithHeader("WWW-Authenticate", c.auth.Challenge())
}

// handleSetup implements spec.md §4.6.
func (c *ClientSession) handleSetup(req ParsedRequest, raw string) *response {
	if c.media != nil && c.media.StreamName() != req.URLPreSuffix {
		c.unbind()
	}

	if c.media == nil {
		media, ok := c.server.registry.Lookup(req.URLPreSuffix)
		if !ok {
			return newResponse(404, "Not Found").WithCSeq(req.CSeq)
		}
		c.bind(media)
	}

	idx := c.findStreamState(req.URLSuffix)
	if idx < 0 {
		return newResponse(404, "Not Found").WithCSeq(req.CSeq)
	}
	st := &c.streams[idx]

	tp := parseTransportHeader(raw)

	// dest is the <D> echoed in both unicast Transport response branches:
	// the client's own address, unless client-destination trust is
	// explicitly enabled and the client supplied one (spec.md §4.2, §4.6
	// step 6). The multicast branch echoes the subsession's
	// MulticastAddress instead.
	dest := c.clientIP()
	if c.server.TrustClientDestination && tp.Destination != "" {
		dest = tp.Destination
	}

	setupReq := StreamSetupRequest{
		SessionID:      c.sessionID,
		ClientIP:       c.clientIP(),
		ClientRTPPort:  tp.ClientRTPPort,
		ClientRTCPPort: tp.ClientRTCPPort,
		RTPChannelID:   tp.RTPChannelID,
		RTCPChannelID:  tp.RTCPChannelID,
		DestinationTTL: defaultTTL,
	}
	if tp.TCPRequested {
		setupReq.TCPSocket = c.conn
	}
	if c.server.TrustClientDestination {
		setupReq.DestinationAddress = dest
		setupReq.DestinationTTL = tp.TTL
	}

	result, err := st.sub.GetStreamParameters(setupReq)
	if err != nil {
		return newResponse(500, "Internal Server Error").WithCSeq(req.CSeq)
	}
	st.token = result.Token

	if result.IsMulticast && tp.TCPRequested {
		return newResponse(461, "Unsupported Transport").WithCSeq(req.CSeq)
	}

	return newResponse(200, "OK").
		WithCSeq(req.CSeq).
		WithHeader("Transport", formatSetupTransport(tp, result, dest)).
		WithHeader("Session", strconv.FormatInt(c.sessionID, 10))
}

// unbind clears the current binding without touching c.streams; the next
// bind() call is what actually reclaims the old StreamStates, since it
// still needs their sub/token pairs to call DeleteStream before replacing
// them (spec.md §4.6 step 1).
func (c *ClientSession) unbind() {
	c.media = nil
}

// bind reclaims any StreamStates left over from a previous binding, then
// installs media as the current one with a fresh StreamState per
// subsession, tokens unset.
func (c *ClientSession) bind(media MediaSession) {
	for _, st := range c.streams {
		if st.token != nil {
			st.sub.DeleteStream(c.sessionID, st.token)
		}
	}
	subs := media.Subsessions()
	streams := make([]streamState, len(subs))
	for i, sub := range subs {
		streams[i] = streamState{sub: sub}
	}
	c.media = media
	c.streams = streams
}

func (c *ClientSession) findStreamState(trackID string) int {
	for i := range c.streams {
		if c.streams[i].sub.TrackID() == trackID {
			return i
		}
	}
	return -1
}

// handleAggregate implements the shared TEARDOWN/PLAY/PAUSE dispatch of
// spec.md §4.7. TEARDOWN always terminates the whole ClientSession on
// success, aggregate or not: the destructor's full-reclaim loop already
// covers every StreamState regardless of which subset this particular
// TEARDOWN targeted, so there is no partial-teardown state to model.
func (c *ClientSession) handleAggregate(req ParsedRequest) (*response, bool) {
	if c.media == nil {
		return newResponse(405, "Method Not Allowed").WithCSeq(req.CSeq).WithHeader("Allow", AllowedMethods), false
	}
	boundName := c.media.StreamName()

	var targets []*streamState
	switch {
	case req.URLSuffix != "" && req.URLPreSuffix == boundName:
		idx := c.findStreamState(req.URLSuffix)
		if idx < 0 {
			return newResponse(404, "Not Found").WithCSeq(req.CSeq), true
		}
		targets = []*streamState{&c.streams[idx]}
	case req.URLSuffix == boundName || (req.URLPreSuffix == boundName && req.URLSuffix == ""):
		targets = make([]*streamState, len(c.streams))
		for i := range c.streams {
			targets[i] = &c.streams[i]
		}
	default:
		return newResponse(404, "Not Found").WithCSeq(req.CSeq), true
	}

	session := strconv.FormatInt(c.sessionID, 10)
	switch req.Method {
	case MethodTeardown:
		return newResponse(200, "OK").WithCSeq(req.CSeq).WithHeader("Session", session), false
	case MethodPlay:
		for _, st := range targets {
			if st.token != nil {
				st.sub.StartStream(c.sessionID, st.token)
			}
		}
		return newResponse(200, "OK").WithCSeq(req.CSeq).WithHeader("Session", session), true
	default: // MethodPause
		for _, st := range targets {
			if st.token != nil {
				st.sub.PauseStream(c.sessionID, st.token)
			}
		}
		return newResponse(200, "OK").WithCSeq(req.CSeq).WithHeader("Session", session), true
	}
}

// destroy reclaims every StreamState with a non-null token and closes the
// socket. It runs exactly once per ClientSession, deferred from run(), and
// is the single point responsible for spec.md §3's "on ClientSession
// destruction, every StreamState with a non-null token has deleteStream
// invoked exactly once" regardless of which error path led here.
func (c *ClientSession) destroy() {
	for _, st := range c.streams {
		if st.token != nil {
			st.sub.DeleteStream(c.sessionID, st.token)
		}
	}
	c.conn.Close()
	c.log.Debug("session closed")
}

func (c *ClientSession) clientIP() string {
	if addr, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return c.conn.RemoteAddr().String()
}

// advertisedURL builds the rtsp:// URL a client should use to reach name,
// per spec.md §6.3.
func (c *ClientSession) advertisedURL(name string) string {
	host := c.conn.LocalAddr().String()
	if addr, ok := c.conn.LocalAddr().(*net.TCPAddr); ok {
		host = addr.IP.String()
	}
	if c.server.Port() == 554 {
		return fmt.Sprintf("rtsp://%s/%s/", host, name)
	}
	return fmt.Sprintf("rtsp://%s:%d/%s/", host, c.server.Port(), name)
}

// formatSetupTransport renders the Transport: response header for the three
// non-rejected SETUP outcomes (spec.md §4.6 step 6). The multicast+TCP
// rejection is handled by the caller before this is reached. dest is the
// resolved unicast destination (client address, or the client's requested
// override when trust is enabled) — it has no bearing on the multicast
// case, whose destination is the group address the subsession chose.
func formatSetupTransport(tp transportParams, result StreamSetupResult, dest string) string {
	switch {
	case result.IsMulticast:
		return fmt.Sprintf("RTP/AVP;multicast;destination=%s;port=%d;ttl=%d",
			result.MulticastAddress, result.ServerRTPPort, tp.TTL)
	case tp.TCPRequested:
		return fmt.Sprintf("RTP/AVP/TCP;unicast;destination=%s;interleaved=%d-%d",
			dest, tp.RTPChannelID, tp.RTCPChannelID)
	default:
		return fmt.Sprintf("RTP/AVP;unicast;destination=%s;client_port=%d-%d;server_port=%d-%d",
			dest, tp.ClientRTPPort, tp.ClientRTCPPort, result.ServerRTPPort, result.ServerRTCPPort)
	}
}
