package rtsp

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Credential is one user's entry in a UserDatabase: either a clear password
// or a precomputed HA1 = MD5(username:realm:password), distinguished by IsMD5.
type Credential struct {
	Value string
	IsMD5 bool
}

// Authenticator is the per-ClientSession RFC 2617 Digest state: a realm, the
// currently outstanding nonce (empty until the first Challenge), and the
// credential lookup it authenticates against. It holds no per-user state of
// its own; Verify looks the username up in users on every call, matching a
// UserDatabase that may be hot-reloaded mid-connection.
type Authenticator struct {
	realm string
	nonce string
	users func(username string) (Credential, bool)
}

// NewAuthenticator builds an Authenticator bound to realm, looking up
// credentials through lookup.
func NewAuthenticator(realm string, lookup func(username string) (Credential, bool)) *Authenticator {
	return &Authenticator{realm: realm, users: lookup}
}

// Challenge mints a fresh nonce and returns the WWW-Authenticate header
// value to send with a 401.
func (a *Authenticator) Challenge() string {
	a.nonce = uuid.NewString()
	return `Digest realm="` + a.realm + `", nonce="` + a.nonce + `"`
}

// digestParams is the parsed content of an Authorization: Digest header.
type digestParams struct {
	Username, Realm, Nonce, URI, Response string
}

// Verify checks an Authorization: Digest header found in raw against the
// bound realm, the currently outstanding nonce, and the looked-up
// credential, per RFC 2617. A failure always clears the outstanding nonce (§4.3: "the
// authenticator MUST generate a new nonce before emitting the challenge, so
// that a replayed response becomes invalid"), so the caller should call
// Challenge again for the next 401 rather than reusing the old nonce.
func (a *Authenticator) Verify(method, raw string) bool {
	ok := a.verify(method, raw)
	if !ok {
		a.nonce = ""
	}
	return ok
}

func (a *Authenticator) verify(method, raw string) bool {
	value, found := findHeaderValue(raw, "Authorization")
	if !found {
		return false
	}
	value = strings.TrimPrefix(value, "Digest ")

	p, ok := parseDigestParams(value)
	if !ok {
		return false
	}
	if a.nonce == "" || p.Realm != a.realm || p.Nonce != a.nonce {
		return false
	}

	cred, ok := a.users(p.Username)
	if !ok {
		return false
	}

	ha1 := cred.Value
	if !cred.IsMD5 {
		ha1 = md5hex(colonnade(p.Username, a.realm, cred.Value))
	}
	ha2 := md5hex(colonnade(method, p.URI))
	expected := md5hex(colonnade(ha1, p.Nonce, ha2))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(p.Response)) == 1
}

// parseDigestParams parses the comma-separated key="value" pairs of a
// Digest header value. All five of username, realm, nonce, uri and response
// must be present or the parse fails (spec.md §4.3: "Reject unless all five
// are present").
func parseDigestParams(value string) (digestParams, bool) {
	var p digestParams
	have := map[string]bool{}

	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.Trim(part[eq+1:], `"`)

		switch key {
		case "username":
			p.Username = val
		case "realm":
			p.Realm = val
		case "nonce":
			p.Nonce = val
		case "uri":
			p.URI = val
		case "response":
			p.Response = val
		default:
			continue
		}
		have[key] = true
	}

	for _, k := range []string{"username", "realm", "nonce", "uri", "response"} {
		if !have[k] {
			return digestParams{}, false
		}
	}
	return p, true
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// colonnade joins params with ':' without the repeated allocations of
// fmt.Sprintf or strings.Join-plus-conversion.
func colonnade(params ...string) []byte {
	n := len(params) - 1
	for _, s := range params {
		n += len(s)
	}
	b := make([]byte, n)
	bp := copy(b, params[0])
	for _, s := range params[1:] {
		b[bp] = ':'
		bp++
		bp += copy(b[bp:], s)
	}
	return b
}
