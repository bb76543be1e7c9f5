package rtsp

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, userDB *UserDatabase) *Server {
	t.Helper()
	registry := NewRegistry(discardLog())
	return NewServer(discardLog(), registry, userDB, nil)
}

// pipeAddr is a net.Addr for pipe connections. runSession does not use it:
// net.Pipe's ends already report a net.Addr that is not a *net.TCPAddr and
// whose String() is "pipe", which is what ClientSession falls back to.
type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

func runSession(t *testing.T, server *Server) (client net.Conn, done <-chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	cs := newClientSession(server, serverConn, 42)
	finished := make(chan struct{})
	go func() {
		cs.run()
		close(finished)
	}()
	return clientConn, finished
}

func sendAndRead(t *testing.T, conn net.Conn, req string) string {
	t.Helper()
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	var sb strings.Builder
	for {
		line, err := reader.ReadString('\n')
		sb.WriteString(line)
		if err != nil {
			break
		}
		if line == "\r\n" {
			break
		}
	}
	return sb.String()
}

func TestClientSessionOptions(t *testing.T) {
	server := newTestServer(t, nil)
	conn, _ := runSession(t, server)
	defer conn.Close()

	resp := sendAndRead(t, conn, "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n")

	require.Contains(t, resp, "RTSP/1.0 200 OK")
	require.Contains(t, resp, "CSeq: 1")
	require.Contains(t, resp, "Public: "+AllowedMethods)
}

func TestClientSessionDescribeUnknownStream(t *testing.T) {
	server := newTestServer(t, nil)
	conn, _ := runSession(t, server)
	defer conn.Close()

	resp := sendAndRead(t, conn, "DESCRIBE rtsp://host/none RTSP/1.0\r\nCSeq: 2\r\n\r\n")

	require.Contains(t, resp, "RTSP/1.0 404")
	require.Contains(t, resp, "CSeq: 2")
}

func TestClientSessionSetupPlayTeardown(t *testing.T) {
	server := newTestServer(t, nil)
	track := &fakeSubsession{trackID: "t0"}
	media := &fakeMediaSession{name: "s", subs: []Subsession{track}}
	require.NoError(t, server.Registry().Add("s", media))

	conn, done := runSession(t, server)
	defer conn.Close()

	setupResp := sendAndRead(t, conn, "SETUP rtsp://host/s/t0 RTSP/1.0\r\nCSeq: 3\r\nTransport: RTP/AVP;unicast;client_port=6000-6001\r\n\r\n")
	require.Contains(t, setupResp, "RTSP/1.0 200 OK")
	require.Contains(t, setupResp, "Transport: RTP/AVP;unicast")
	require.Contains(t, setupResp, "client_port=6000-6001")
	require.Contains(t, setupResp, "Session: 42")

	playResp := sendAndRead(t, conn, "PLAY rtsp://host/s RTSP/1.0\r\nCSeq: 4\r\nSession: 42\r\n\r\n")
	require.Contains(t, playResp, "RTSP/1.0 200 OK")

	teardownResp := sendAndRead(t, conn, "TEARDOWN rtsp://host/s RTSP/1.0\r\nCSeq: 5\r\nSession: 42\r\n\r\n")
	require.Contains(t, teardownResp, "RTSP/1.0 200 OK")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after TEARDOWN")
	}
	require.Equal(t, 1, track.deletes)
}

func TestClientSessionSetupTCPInterleaved(t *testing.T) {
	server := newTestServer(t, nil)
	track := &fakeSubsession{trackID: "t0"}
	media := &fakeMediaSession{name: "s", subs: []Subsession{track}}
	require.NoError(t, server.Registry().Add("s", media))

	conn, _ := runSession(t, server)
	defer conn.Close()

	resp := sendAndRead(t, conn, "SETUP rtsp://host/s/t0 RTSP/1.0\r\nCSeq: 4\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	require.Contains(t, resp, "RTP/AVP/TCP;unicast")
	require.Contains(t, resp, "interleaved=0-1")
}

// TestClientSessionSetupTrustedDestinationEchoedOnWire covers the
// TrustClientDestination-enabled path for both unicast Transport response
// branches: the client-supplied destination= must be echoed back, not the
// connection's own remote address, and the same resolved value must show up
// whether the client asked for TCP interleaving or UDP.
func TestClientSessionSetupTrustedDestinationEchoedOnWire(t *testing.T) {
	server := newTestServer(t, nil)
	server.TrustClientDestination = true

	udpTrack := &fakeSubsession{trackID: "t0"}
	tcpTrack := &fakeSubsession{trackID: "t1"}
	media := &fakeMediaSession{name: "s", subs: []Subsession{udpTrack, tcpTrack}}
	require.NoError(t, server.Registry().Add("s", media))

	conn, _ := runSession(t, server)
	defer conn.Close()

	udpResp := sendAndRead(t, conn, "SETUP rtsp://host/s/t0 RTSP/1.0\r\nCSeq: 1\r\nTransport: RTP/AVP;unicast;destination=203.0.113.9;client_port=6000-6001\r\n\r\n")
	require.Contains(t, udpResp, "destination=203.0.113.9")
	require.NotContains(t, udpResp, "destination=pipe")

	tcpResp := sendAndRead(t, conn, "SETUP rtsp://host/s/t1 RTSP/1.0\r\nCSeq: 2\r\nTransport: RTP/AVP/TCP;unicast;destination=203.0.113.9;interleaved=2-3\r\n\r\n")
	require.Contains(t, tcpResp, "destination=203.0.113.9")
}

type multicastSubsession struct {
	fakeSubsession
}

func (s *multicastSubsession) GetStreamParameters(req StreamSetupRequest) (StreamSetupResult, error) {
	return StreamSetupResult{IsMulticast: true, MulticastAddress: "239.0.0.1", ServerRTPPort: 5000, Token: 1}, nil
}

func TestClientSessionSetupMulticastTCPRejected(t *testing.T) {
	server := newTestServer(t, nil)
	track := &multicastSubsession{fakeSubsession{trackID: "t0"}}
	media := &fakeMediaSession{name: "s", subs: []Subsession{track}}
	require.NoError(t, server.Registry().Add("s", media))

	conn, _ := runSession(t, server)
	defer conn.Close()

	resp := sendAndRead(t, conn, "SETUP rtsp://host/s/t0 RTSP/1.0\r\nCSeq: 5\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\n\r\n")
	require.Contains(t, resp, "RTSP/1.0 461")
}

func TestClientSessionUnknownMethodClosesConnection(t *testing.T) {
	server := newTestServer(t, nil)
	conn, done := runSession(t, server)
	defer conn.Close()

	resp := sendAndRead(t, conn, "RECORD rtsp://host/s RTSP/1.0\r\nCSeq: 9\r\n\r\n")
	require.Contains(t, resp, "RTSP/1.0 405")
	require.Contains(t, resp, "Allow: "+AllowedMethods)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after unknown method")
	}
}

func TestClientSessionDescribeRequiresAuth(t *testing.T) {
	userDB := newInMemoryUserDB(t, "alice", "R", "pw")
	server := newTestServer(t, userDB)

	track := &fakeSubsession{trackID: "t0"}
	media := &fakeMediaSession{name: "s", subs: []Subsession{track}}
	require.NoError(t, server.Registry().Add("s", media))

	conn, _ := runSession(t, server)
	defer conn.Close()

	resp := sendAndRead(t, conn, "DESCRIBE rtsp://host/s RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	require.Contains(t, resp, "RTSP/1.0 401")
	require.Contains(t, resp, "WWW-Authenticate: Digest")
}

// newInMemoryUserDB builds a UserDatabase without touching disk, for tests
// that only need Authenticator.Verify's Lookup contract.
func newInMemoryUserDB(t *testing.T, username, realm, password string) *UserDatabase {
	t.Helper()
	db := &UserDatabase{realm: realm}
	ha1 := md5hex(colonnade(username, realm, password))
	creds := map[string]Credential{username: {Value: ha1, IsMD5: true}}
	db.creds.Store(creds)
	return db
}
