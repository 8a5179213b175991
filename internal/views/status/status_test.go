package status

import (
	"errors"
	"strings"
	"testing"

	"github.com/lanrelay/lanrelay/internal/session"
)

func TestViewShowsState(t *testing.T) {
	tests := []struct {
		status session.Status
		want   string
	}{
		{session.Connected, "Connected"},
		{session.Connecting, "Connecting..."},
		{session.Disconnected, "Disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			m := New()
			m.Status = tt.status
			if v := m.View(); !strings.Contains(v, tt.want) {
				t.Errorf("View() missing %q:\n%s", tt.want, v)
			}
		})
	}
}

func TestViewCounters(t *testing.T) {
	m := Model{Status: session.Connected, URL: "ws://10.0.0.5:8080/ws", Sent: 3, Received: 7, Width: 100}
	v := m.View()
	for _, want := range []string{"ws://10.0.0.5:8080/ws", "3 sent", "7 received"} {
		if !strings.Contains(v, want) {
			t.Errorf("View() missing %q:\n%s", want, v)
		}
	}
}

func TestErrOnlyWhenDisconnected(t *testing.T) {
	m := Model{Status: session.Connecting, Err: errors.New("connection refused"), Width: 100}
	if strings.Contains(m.View(), "connection refused") {
		t.Error("error should be hidden while connecting")
	}
	m.Status = session.Disconnected
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("error should show once disconnected")
	}
}
