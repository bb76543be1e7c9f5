package rtsp

import (
	"strconv"
	"strings"
)

// defaultTTL is the multicast TTL assumed when the client does not supply
// one.
const defaultTTL = 255

// transportParams is the result of parsing a client's Transport: header.
// Unset fields carry the defaults mandated by the wire grammar: unicast,
// no destination override, TTL 255, client ports 0/1, channel ids 0xFF/0xFF.
type transportParams struct {
	TCPRequested bool
	Destination  string
	TTL          int
	ClientRTPPort, ClientRTCPPort int
	RTPChannelID, RTCPChannelID   byte
}

func defaultTransportParams() transportParams {
	return transportParams{
		TTL:            defaultTTL,
		ClientRTPPort:  0,
		ClientRTCPPort: 1,
		RTPChannelID:   0xFF,
		RTCPChannelID:  0xFF,
	}
}

// parseTransportHeader locates the Transport: header in a raw request and
// parses its ';'-separated tokens. Unknown tokens are ignored silently, as
// is any token this server does not recognize. Absence of the header
// yields every default.
func parseTransportHeader(raw string) transportParams {
	t := defaultTransportParams()

	value, found := findHeaderValue(raw, "Transport")
	if !found {
		return t
	}

	for _, tok := range strings.Split(value, ";") {
		tok = strings.TrimSpace(tok)
		lower := strings.ToLower(tok)
		switch {
		case lower == "rtp/avp/tcp":
			t.TCPRequested = true
		case strings.HasPrefix(lower, "destination="):
			t.Destination = tok[len("destination="):]
		case strings.HasPrefix(lower, "ttl"):
			if v, err := strconv.Atoi(tok[len("ttl"):]); err == nil {
				t.TTL = v
			}
		case strings.HasPrefix(lower, "client_port="):
			p1, p2 := parsePortPair(tok[len("client_port="):])
			t.ClientRTPPort, t.ClientRTCPPort = p1, p2
		case strings.HasPrefix(lower, "interleaved="):
			c1, c2 := parsePortPair(tok[len("interleaved="):])
			t.RTPChannelID, t.RTCPChannelID = byte(c1), byte(c2)
		}
	}

	return t
}

// parsePortPair parses "p1-p2", defaulting p2 to p1+1 when only one number
// is given or the second half fails to parse.
func parsePortPair(val string) (one, two int) {
	parts := strings.SplitN(val, "-", 2)
	one, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	if len(parts) < 2 {
		return one, one + 1
	}
	two, err = strconv.Atoi(parts[1])
	if err != nil {
		return one, one + 1
	}
	return one, two
}
