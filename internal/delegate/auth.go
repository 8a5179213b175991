// Package delegate holds the extension points a relay server consults while
// accepting and serving sessions, plus the built-in implementations.
package delegate

import (
	"net"
	"net/http"
	"strings"
)

// DefaultTokenParam is the query parameter TokenAuthenticator reads.
const DefaultTokenParam = "token"

// AuthResult is the outcome of authenticating an upgrade request.
type AuthResult struct {
	OK bool
	// Metadata is merged into the admitted session's details.
	Metadata   map[string]string
	Reason     string
	StatusCode int
}

// Allow returns a successful result carrying meta.
func Allow(meta map[string]string) AuthResult {
	return AuthResult{OK: true, Metadata: meta}
}

// Deny returns a failed result. A zero code means 403.
func Deny(reason string, code int) AuthResult {
	if code == 0 {
		code = http.StatusForbidden
	}
	return AuthResult{Reason: reason, StatusCode: code}
}

// Authenticator inspects the raw HTTP request before the WebSocket upgrade.
type Authenticator interface {
	Authenticate(r *http.Request) AuthResult
}

type AuthenticatorFunc func(r *http.Request) AuthResult

func (f AuthenticatorFunc) Authenticate(r *http.Request) AuthResult { return f(r) }

// TokenAuthenticator admits requests whose token query parameter is in Tokens.
type TokenAuthenticator struct {
	Param  string
	Tokens map[string]struct{}
}

func NewTokenAuthenticator(tokens ...string) *TokenAuthenticator {
	a := &TokenAuthenticator{Param: DefaultTokenParam, Tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		a.Tokens[t] = struct{}{}
	}
	return a
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) AuthResult {
	param := a.Param
	if param == "" {
		param = DefaultTokenParam
	}
	token := r.URL.Query().Get(param)
	if token == "" {
		return Deny("missing "+param, http.StatusUnauthorized)
	}
	if _, ok := a.Tokens[token]; !ok {
		return Deny("invalid "+param, http.StatusForbidden)
	}
	return Allow(nil)
}

// HeaderAuthenticator admits requests carrying header Name with one of Values.
type HeaderAuthenticator struct {
	Name            string
	Values          []string
	CaseInsensitive bool
}

func (a *HeaderAuthenticator) Authenticate(r *http.Request) AuthResult {
	got := r.Header.Get(a.Name)
	if got == "" {
		return Deny("missing header "+a.Name, http.StatusUnauthorized)
	}
	for _, v := range a.Values {
		if got == v || (a.CaseInsensitive && strings.EqualFold(got, v)) {
			return Allow(nil)
		}
	}
	return Deny("invalid header "+a.Name, http.StatusForbidden)
}

// IPAuthenticator admits requests from the listed source addresses. A request
// whose source address cannot be determined fails with 500.
type IPAuthenticator struct {
	allowed map[string]struct{}
}

func NewIPAuthenticator(ips ...string) *IPAuthenticator {
	a := &IPAuthenticator{allowed: make(map[string]struct{}, len(ips))}
	for _, ip := range ips {
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil {
			a.allowed[parsed.String()] = struct{}{}
		}
	}
	return a
}

func (a *IPAuthenticator) Authenticate(r *http.Request) AuthResult {
	ip := remoteIP(r)
	if ip == nil {
		return Deny("cannot determine client address", http.StatusInternalServerError)
	}
	if _, ok := a.allowed[ip.String()]; !ok {
		return Deny("address "+ip.String()+" not allowed", http.StatusForbidden)
	}
	return Allow(nil)
}

func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// All requires every authenticator to pass and returns the first failure
// unchanged. Metadata from successful results is merged in order.
func All(auths ...Authenticator) Authenticator {
	return AuthenticatorFunc(func(r *http.Request) AuthResult {
		var meta map[string]string
		for _, a := range auths {
			res := a.Authenticate(r)
			if !res.OK {
				return res
			}
			for k, v := range res.Metadata {
				if meta == nil {
					meta = make(map[string]string)
				}
				meta[k] = v
			}
		}
		return Allow(meta)
	})
}
