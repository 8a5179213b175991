package delegate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanrelay/lanrelay/internal/session"
)

func TestDeny_DefaultsTo403(t *testing.T) {
	res := Deny("nope", 0)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "nope", res.Reason)

	assert.Equal(t, http.StatusTeapot, Deny("x", http.StatusTeapot).StatusCode)
}

func TestTokenAuthenticator(t *testing.T) {
	auth := NewTokenAuthenticator("abc", "def")

	tests := []struct {
		name   string
		target string
		ok     bool
		status int
	}{
		{"valid", "/ws?token=abc", true, 0},
		{"second valid", "/ws?token=def", true, 0},
		{"missing", "/ws", false, http.StatusUnauthorized},
		{"empty", "/ws?token=", false, http.StatusUnauthorized},
		{"wrong", "/ws?token=wrong", false, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := auth.Authenticate(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestTokenAuthenticator_CustomParam(t *testing.T) {
	auth := NewTokenAuthenticator("abc")
	auth.Param = "key"

	assert.True(t, auth.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?key=abc", nil)).OK)
	assert.False(t, auth.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)).OK)
}

func TestHeaderAuthenticator(t *testing.T) {
	req := func(v string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if v != "" {
			r.Header.Set("X-Relay-Key", v)
		}
		return r
	}

	strict := &HeaderAuthenticator{Name: "X-Relay-Key", Values: []string{"Secret"}}
	assert.True(t, strict.Authenticate(req("Secret")).OK)
	assert.Equal(t, http.StatusForbidden, strict.Authenticate(req("secret")).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, strict.Authenticate(req("")).StatusCode)

	loose := &HeaderAuthenticator{Name: "X-Relay-Key", Values: []string{"Secret"}, CaseInsensitive: true}
	assert.True(t, loose.Authenticate(req("SECRET")).OK)
	assert.False(t, loose.Authenticate(req("other")).OK)
}

func TestIPAuthenticator(t *testing.T) {
	auth := NewIPAuthenticator("192.168.1.10", "::1", "not-an-ip")

	req := func(remote string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.RemoteAddr = remote
		return r
	}

	assert.True(t, auth.Authenticate(req("192.168.1.10:51234")).OK)
	assert.True(t, auth.Authenticate(req("[::1]:51234")).OK)
	assert.Equal(t, http.StatusForbidden, auth.Authenticate(req("192.168.1.11:51234")).StatusCode)
	assert.Equal(t, http.StatusInternalServerError, auth.Authenticate(req("garbage")).StatusCode)
	assert.Equal(t, http.StatusInternalServerError, auth.Authenticate(req("")).StatusCode)
}

func TestAll_FirstFailureWins(t *testing.T) {
	var calls []string
	named := func(name string, res AuthResult) Authenticator {
		return AuthenticatorFunc(func(*http.Request) AuthResult {
			calls = append(calls, name)
			return res
		})
	}

	auth := All(
		named("a", Allow(map[string]string{"role": "guest", "team": "red"})),
		named("b", Deny("quota", http.StatusTooManyRequests)),
		named("c", Allow(nil)),
	)
	res := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.False(t, res.OK)
	assert.Equal(t, "quota", res.Reason)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestAll_MergesMetadata(t *testing.T) {
	auth := All(
		AuthenticatorFunc(func(*http.Request) AuthResult { return Allow(map[string]string{"role": "guest", "team": "red"}) }),
		AuthenticatorFunc(func(*http.Request) AuthResult { return Allow(map[string]string{"role": "admin"}) }),
	)
	res := auth.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))

	require.True(t, res.OK)
	assert.Equal(t, map[string]string{"role": "admin", "team": "red"}, res.Metadata)
	assert.True(t, All().Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil)).OK)
}

func TestRequireDetails(t *testing.T) {
	v := RequireDetails("name", "room")
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	assert.True(t, v.ValidateClient(session.NewClient(map[string]string{"name": "a", "room": "b"}), r))
	assert.False(t, v.ValidateClient(session.NewClient(map[string]string{"name": "a"}), r))
	assert.False(t, v.ValidateClient(session.NewClient(map[string]string{"name": "a", "room": ""}), r))
	assert.True(t, RequireDetails().ValidateClient(session.NewClient(nil), r))
}

func TestMaxSize(t *testing.T) {
	v := MaxSize(4)
	c := session.NewClient(nil)

	ok, err := v.ValidateMessage(context.Background(), c, session.Text("abcd"))
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = v.ValidateMessage(context.Background(), c, session.Binary([]byte("abcde")))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestRateLimit_PerSession(t *testing.T) {
	lim := RateLimit(0.001, 2)
	a, b := session.NewClient(nil), session.NewClient(nil)
	ctx := context.Background()
	m := session.Text("x")

	for i := 0; i < 2; i++ {
		ok, _ := lim.ValidateMessage(ctx, a, m)
		assert.True(t, ok, "burst message %d", i)
	}
	ok, _ := lim.ValidateMessage(ctx, a, m)
	assert.False(t, ok, "a exhausted its burst")

	ok, _ = lim.ValidateMessage(ctx, b, m)
	assert.True(t, ok, "b has its own bucket")

	lim.Forget(a)
	ok, _ = lim.ValidateMessage(ctx, a, m)
	assert.True(t, ok, "a fresh bucket after Forget")
}

func TestChain(t *testing.T) {
	c := session.NewClient(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	pass := MessageValidatorFunc(func(context.Context, *session.Client, session.Message) (bool, error) { return true, nil })
	reject := MessageValidatorFunc(func(context.Context, *session.Client, session.Message) (bool, error) { return false, nil })
	fail := MessageValidatorFunc(func(context.Context, *session.Client, session.Message) (bool, error) { return true, boom })

	ok, err := Chain(pass, pass).ValidateMessage(ctx, c, session.Text("x"))
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, _ = Chain(pass, reject).ValidateMessage(ctx, c, session.Text("x"))
	assert.False(t, ok)

	ok, err = Chain(fail, pass).ValidateMessage(ctx, c, session.Text("x"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestChain_ForgetReachesRateLimiter(t *testing.T) {
	lim := RateLimit(100, 10)
	ch := Chain(MaxSize(1024), lim)
	a, b := session.NewClient(nil), session.NewClient(nil)

	for _, c := range []*session.Client{a, b} {
		ok, err := ch.ValidateMessage(context.Background(), c, session.Text("x"))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 2, lim.Len())

	var f Forgetter = ch
	f.Forget(a)
	assert.Equal(t, 1, lim.Len())
	f.Forget(b)
	assert.Equal(t, 0, lim.Len())
}

func TestObserverFuncs(t *testing.T) {
	var joined, left *session.Client
	obs := ObserverFuncs{
		Connected:    func(c *session.Client) { joined = c },
		Disconnected: func(c *session.Client) { left = c },
	}
	c := session.NewClient(nil)
	obs.OnConnected(c)
	obs.OnDisconnected(c)
	assert.Same(t, c, joined)
	assert.Same(t, c, left)

	ObserverFuncs{}.OnConnected(c)
}
