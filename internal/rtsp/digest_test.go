package rtsp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func lookupFixed(username, realm, password string) func(string) (Credential, bool) {
	ha1 := md5hex(colonnade(username, realm, password))
	return func(u string) (Credential, bool) {
		if u != username {
			return Credential{}, false
		}
		return Credential{Value: ha1, IsMD5: true}, true
	}
}

func TestAuthenticatorVerifySucceeds(t *testing.T) {
	auth := NewAuthenticator("R", lookupFixed("alice", "R", "pw"))
	nonce := auth.Challenge()
	_ = nonce

	uri := "rtsp://host/s"
	ha1 := md5hex(colonnade("alice", "R", "pw"))
	ha2 := md5hex(colonnade("DESCRIBE", uri))
	response := md5hex(colonnade(ha1, auth.nonce, ha2))

	raw := fmt.Sprintf("DESCRIBE %s RTSP/1.0\r\nCSeq: 1\r\nAuthorization: Digest username=\"alice\", realm=\"R\", nonce=\"%s\", uri=\"%s\", response=\"%s\"\r\n\r\n",
		uri, auth.nonce, uri, response)

	require.True(t, auth.Verify("DESCRIBE", raw))
}

func TestAuthenticatorVerifyRejectsTamperedResponse(t *testing.T) {
	auth := NewAuthenticator("R", lookupFixed("alice", "R", "pw"))
	auth.Challenge()

	uri := "rtsp://host/s"
	raw := fmt.Sprintf("DESCRIBE %s RTSP/1.0\r\nCSeq: 1\r\nAuthorization: Digest username=\"alice\", realm=\"R\", nonce=\"%s\", uri=\"%s\", response=\"deadbeef\"\r\n\r\n",
		uri, auth.nonce, uri)

	require.False(t, auth.Verify("DESCRIBE", raw))
}

func TestAuthenticatorRotatesNonceOnFailure(t *testing.T) {
	auth := NewAuthenticator("R", lookupFixed("alice", "R", "pw"))
	first := auth.Challenge()

	raw := "DESCRIBE rtsp://host/s RTSP/1.0\r\nCSeq: 1\r\nAuthorization: Digest username=\"alice\", realm=\"R\", nonce=\"stale\", uri=\"rtsp://host/s\", response=\"x\"\r\n\r\n"
	require.False(t, auth.Verify("DESCRIBE", raw))

	second := auth.Challenge()
	require.NotEqual(t, first, second)
}

func TestAuthenticatorRejectsUnknownUser(t *testing.T) {
	auth := NewAuthenticator("R", lookupFixed("alice", "R", "pw"))
	auth.Challenge()

	raw := fmt.Sprintf("DESCRIBE rtsp://host/s RTSP/1.0\r\nCSeq: 1\r\nAuthorization: Digest username=\"mallory\", realm=\"R\", nonce=\"%s\", uri=\"rtsp://host/s\", response=\"x\"\r\n\r\n", auth.nonce)
	require.False(t, auth.Verify("DESCRIBE", raw))
}

func TestParseDigestParamsRequiresAllFive(t *testing.T) {
	_, ok := parseDigestParams(`username="alice", realm="R", nonce="n", uri="u"`)
	require.False(t, ok)

	_, ok = parseDigestParams(`username="alice", realm="R", nonce="n", uri="u", response="r"`)
	require.True(t, ok)
}
