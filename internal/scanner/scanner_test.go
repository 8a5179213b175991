package scanner

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanrelay/lanrelay/internal/protocol"
	"github.com/lanrelay/lanrelay/internal/ws"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, server, body string) *http.Response {
	h := make(http.Header)
	if server != "" {
		h.Set("Server", server)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// fakeLAN answers for a handful of 10.0.0.x hosts on port 8080; every other
// address refuses the connection.
func fakeLAN(calls *atomic.Int32) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		switch r.URL.Host {
		case "10.0.0.5:8080":
			return respond(http.StatusOK, "LanRelay/1.0.0", `{"name":"kitchen"}`), nil
		case "10.0.0.6:8080":
			return respond(http.StatusOK, "nginx", `{"name":"impostor"}`), nil
		case "10.0.0.7:8080":
			return respond(http.StatusOK, "LanRelay/1.0.0", `not json`), nil
		case "10.0.0.8:8080":
			return respond(http.StatusInternalServerError, "LanRelay/1.0.0", `{}`), nil
		case "10.0.0.9:8080":
			return respond(http.StatusOK, "LanRelay/1.0.0", `{"name":1}`), nil
		case "10.0.0.11:8080":
			return respond(http.StatusOK, "LanRelay/1.0.0", `{"name":"`+strings.Repeat("x", maxInfoBody)+`"}`), nil
		case "10.0.0.10:8080":
			<-r.Context().Done()
			return nil, r.Context().Err()
		}
		return nil, errors.New("connection refused")
	})}
}

func TestPrefix(t *testing.T) {
	tests := []struct {
		host    string
		want    string
		wantErr bool
	}{
		{"localhost", "127.0.0", false},
		{"127.0.0.1", "127.0.0", false},
		{"192.168.1.42", "192.168.1", false},
		{"10.0.0", "10.0.0", false},
		{"10.0.0.0.9", "10.0.0", false},
		{"192.168", "", true},
		{"relay.local", "", true},
		{"", "", true},
		{"300.1.1.1", "", true},
		{"a.b.c.d", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := Prefix(tt.host)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscoveredServer_EqualByPath(t *testing.T) {
	a := DiscoveredServer{Path: "ws://10.0.0.5:8080/ws", Details: map[string]string{"name": "x"}}
	b := DiscoveredServer{Path: "ws://10.0.0.5:8080/ws", Details: map[string]string{"name": "y"}}
	c := DiscoveredServer{Path: "ws://10.0.0.6:8080/ws", Details: map[string]string{"name": "x"}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestScan_OnlyGenuineRelays(t *testing.T) {
	var calls atomic.Int32
	s := New(WithHTTPClient(fakeLAN(&calls)), WithTimeout(100*time.Millisecond))

	found, err := s.Scan(context.Background(), "10.0.0.77", 8080)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "ws://10.0.0.5:8080/ws", found[0].Path)
	assert.Equal(t, map[string]string{"name": "kitchen"}, found[0].Details)
	assert.EqualValues(t, 256, calls.Load(), "every address of the /24 is probed")
}

func TestScan_OversizedInfoBodyIsMiss(t *testing.T) {
	s := New(WithHTTPClient(fakeLAN(nil)), WithTimeout(100*time.Millisecond))

	_, ok := s.probe(context.Background(), "10.0.0.11", 8080)
	assert.False(t, ok, "an info body past the read limit is not a relay")

	_, ok = s.probe(context.Background(), "10.0.0.5", 8080)
	assert.True(t, ok)
}

func TestScan_SlowHostDoesNotStallRound(t *testing.T) {
	s := New(WithHTTPClient(fakeLAN(nil)), WithTimeout(50*time.Millisecond))

	start := time.Now()
	found, err := s.Scan(context.Background(), "10.0.0.1", 8080)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestScan_ProductToken(t *testing.T) {
	s := New(WithHTTPClient(fakeLAN(nil)), WithProduct("nginx"), WithTimeout(50*time.Millisecond))

	found, err := s.Scan(context.Background(), "10.0.0.1", 8080)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "ws://10.0.0.6:8080/ws", found[0].Path)
}

func TestScan_InvalidHost(t *testing.T) {
	_, err := New().Scan(context.Background(), "relay", 8080)
	assert.ErrorIs(t, err, ErrInvalidHost)
}

func TestScan_CancelledRoundIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	found, err := New(WithHTTPClient(fakeLAN(nil))).Scan(ctx, "10.0.0.1", 8080)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, found)
}

func TestScan_Loopback(t *testing.T) {
	srv := ws.NewServer(ws.Config{Details: map[string]string{"name": "loopback"}})
	require.NoError(t, srv.Start("127.0.0.1", 0))
	defer srv.Stop()
	port := srv.Addr().(*net.TCPAddr).Port

	found, err := New().Scan(context.Background(), "localhost", port)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, protocol.WSURL("127.0.0.1", port), found[0].Path)
	assert.Equal(t, "loopback", found[0].Details["name"])
}

func TestWatch_SuccessiveRounds(t *testing.T) {
	var calls atomic.Int32
	mock := clock.NewMock()
	s := New(WithHTTPClient(fakeLAN(&calls)), WithClock(mock), WithTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rounds, err := s.Watch(ctx, "10.0.0.1", 8080, time.Minute)
	require.NoError(t, err)

	first := <-rounds
	require.Len(t, first, 1)
	assert.EqualValues(t, 256, calls.Load())

	var second []DiscoveredServer
	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		select {
		case second = <-rounds:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	require.Len(t, second, 1)
	assert.True(t, first[0].Equal(second[0]))
	assert.GreaterOrEqual(t, calls.Load(), int32(512))
}

func TestWatch_ClosesOnCancel(t *testing.T) {
	mock := clock.NewMock()
	s := New(WithHTTPClient(fakeLAN(nil)), WithClock(mock), WithTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	rounds, err := s.Watch(ctx, "10.0.0.1", 8080, time.Hour)
	require.NoError(t, err)
	<-rounds
	cancel()

	select {
	case _, ok := <-rounds:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestWatch_RejectsBadInput(t *testing.T) {
	_, err := New().Watch(context.Background(), "nope", 8080, time.Second)
	assert.ErrorIs(t, err, ErrInvalidHost)

	_, err = New().Watch(context.Background(), "10.0.0.1", 8080, 0)
	assert.Error(t, err)
}

func TestPrefixesOf(t *testing.T) {
	ifaces := psnet.InterfaceStatList{
		{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
		{Name: "eth0", Flags: []string{"up", "broadcast"}, Addrs: psnet.InterfaceAddrList{
			{Addr: "192.168.1.23/24"},
			{Addr: "fe80::1/64"},
		}},
		{Name: "wlan0", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{
			{Addr: "10.0.4.9/16"},
			{Addr: "192.168.1.99/24"},
		}},
		{Name: "wan", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{{Addr: "8.8.8.8/24"}}},
		{Name: "eth1", Flags: []string{"broadcast"}, Addrs: psnet.InterfaceAddrList{{Addr: "172.16.0.2/24"}}},
	}

	assert.Equal(t, []string{"10.0.4", "192.168.1"}, prefixesOf(ifaces))
}
