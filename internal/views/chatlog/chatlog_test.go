package chatlog

import (
	"strings"
	"testing"
	"time"
)

func TestAddEntry(t *testing.T) {
	m := New()
	m.Add(KindIn, "hello")
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m.Entries))
	}
	if m.Entries[0].Kind != KindIn {
		t.Errorf("expected kind %q, got %q", KindIn, m.Entries[0].Kind)
	}
}

func TestAddUsesClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	m := New()
	m.now = func() time.Time { return fixed }
	m.Add(KindSystem, "connected")
	if !m.Entries[0].Time.Equal(fixed) {
		t.Errorf("entry time = %v, want %v", m.Entries[0].Time, fixed)
	}
	if v := m.View(80, 10); !strings.Contains(v, "15:04:05") {
		t.Error("view should show the entry timestamp")
	}
}

func TestMaxEntries(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+50; i++ {
		m.Add(KindIn, "msg")
	}
	if len(m.Entries) != maxEntries {
		t.Errorf("expected %d entries, got %d", maxEntries, len(m.Entries))
	}
}

func TestScrollUpDown(t *testing.T) {
	m := New()
	for i := 0; i < 20; i++ {
		m.Add(KindIn, "msg")
	}

	m.ScrollUp(5)
	if m.Offset != 5 {
		t.Errorf("expected offset 5, got %d", m.Offset)
	}

	m.ScrollDown(3)
	if m.Offset != 2 {
		t.Errorf("expected offset 2, got %d", m.Offset)
	}

	m.ScrollDown(10) // shouldn't go below 0
	if m.Offset != 0 {
		t.Errorf("expected offset 0, got %d", m.Offset)
	}
}

func TestScrollUpCapped(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Add(KindIn, "msg")
	}
	m.ScrollUp(100)
	if m.Offset != 4 { // max is len-1
		t.Errorf("expected offset 4, got %d", m.Offset)
	}
}

func TestViewEmpty(t *testing.T) {
	if v := New().View(80, 20); !strings.Contains(v, "No messages") {
		t.Error("empty view should show 'No messages'")
	}
}

func TestViewWithEntries(t *testing.T) {
	m := New()
	m.Add(KindOut, "ping")
	m.Add(KindError, "send queue full")
	v := m.View(80, 20)
	for _, want := range []string{"ping", "send queue full"} {
		if !strings.Contains(v, want) {
			t.Errorf("view should contain %q", want)
		}
	}
}

func TestAddResetsScroll(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(KindIn, "msg")
	}
	m.ScrollUp(5)
	m.Add(KindIn, "new")
	if m.Offset != 0 {
		t.Error("adding entry should reset scroll to 0")
	}
}
