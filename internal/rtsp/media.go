package rtsp

// MediaSession is the collaborator interface a media-plane object must
// satisfy to be registered under a stream name. The control plane never
// constructs one; it only holds and forwards calls to handles supplied by
// the embedder (spec.md §6.4).
type MediaSession interface {
	// StreamName is the name this session is (or will be) registered under.
	StreamName() string

	// SDPDescription returns the SDP body for DESCRIBE, or "" if none is
	// available yet.
	SDPDescription() string

	// Subsessions returns the tracks of this session in a stable order; the
	// order fixes a ClientSession's StreamState list whenever it binds.
	Subsessions() []Subsession

	// Close destroys the session. Called by the registry on eviction or
	// shutdown; a session must tolerate Close being its only cleanup path
	// even if no ClientSession ever bound to it.
	Close()
}

// StreamToken is the opaque handle a Subsession returns from
// GetStreamParameters. Its contents are meaningful only to the subsession
// that issued it; the core only ever stores and echoes it back
// (spec.md §9, "stream token as opaque capability").
type StreamToken interface{}

// StreamSetupRequest carries the negotiated inputs to GetStreamParameters,
// derived from the parsed Transport header (spec.md §4.6 step 4).
type StreamSetupRequest struct {
	SessionID int64
	ClientIP  string

	ClientRTPPort, ClientRTCPPort int

	// TCPSocket is non-nil when TCP interleaving was requested; it is the
	// net.Conn the stream will ride on, shared with the control connection.
	TCPSocket interface{}

	RTPChannelID, RTCPChannelID byte

	// DestinationAddress and DestinationTTL are ""/255 unless the embedder
	// explicitly trusts client-supplied destinations (spec.md §4.2 — off by
	// default, since honoring it enables UDP reflection).
	DestinationAddress string
	DestinationTTL     int
}

// StreamSetupResult is what a Subsession hands back from
// GetStreamParameters.
type StreamSetupResult struct {
	IsMulticast                 bool
	ServerRTPPort, ServerRTCPPort int

	// MulticastAddress is the multicast group address chosen by the media
	// plane when IsMulticast is true. It has no meaning for unicast results,
	// where the response's destination is the client's own address instead.
	MulticastAddress string

	Token StreamToken
}

// Subsession is one track of a MediaSession (spec.md §6.5).
type Subsession interface {
	// TrackID is the identifier matched against a SETUP/aggregate operation's
	// url-suffix.
	TrackID() string

	GetStreamParameters(req StreamSetupRequest) (StreamSetupResult, error)

	StartStream(sessionID int64, token StreamToken) error
	PauseStream(sessionID int64, token StreamToken) error
	DeleteStream(sessionID int64, token StreamToken) error
}
