package hub

import (
	"context"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	h, _ := startHub(t)
	a := NewClient(h, nil, "")
	b := NewClient(h, nil, "run-1")

	waitClients(t, h, 2)

	if err := h.BroadcastJSON("run-1", map[string]int{"frame_number": 1}); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{a, b} {
		m, ok := receive(t, c)
		if !ok || m.RunID != "run-1" || string(m.Data) != `{"frame_number":1}` {
			t.Errorf("got %+v, %v", m, ok)
		}
	}
}

func TestRunFilter(t *testing.T) {
	h, _ := startHub(t)
	all := NewClient(h, nil, "")
	one := NewClient(h, nil, "run-1")
	waitClients(t, h, 2)

	h.BroadcastJSON("run-2", "other")
	h.BroadcastJSON("run-1", "mine")
	h.BroadcastJSON("", "everyone")

	for _, want := range []string{`"other"`, `"mine"`, `"everyone"`} {
		if m, _ := receive(t, all); string(m.Data) != want {
			t.Errorf("all got %s, want %s", m.Data, want)
		}
	}
	for _, want := range []string{`"mine"`, `"everyone"`} {
		if m, _ := receive(t, one); string(m.Data) != want {
			t.Errorf("filtered got %s, want %s", m.Data, want)
		}
	}
}

func TestUnregister(t *testing.T) {
	h, _ := startHub(t)
	c := NewClient(h, nil, "")
	h.unregister <- c

	if _, ok := receive(t, c); ok {
		t.Error("send channel should be closed after unregister")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d", h.ClientCount())
	}
}

func TestSlowClientDropped(t *testing.T) {
	h, _ := startHub(t)
	c := NewClient(h, nil, "")

	for i := 0; i < cap(c.send)+1; i++ {
		h.Broadcast(NewMessage("", []byte("{}")))
		// Let the hub drain its queue so the client buffer, not the hub's, fills.
		time.Sleep(time.Millisecond)
	}

	waitClients(t, h, 0)
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ClientCount(); got != n {
		t.Fatalf("ClientCount = %d, want %d", got, n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h, cancel := startHub(t)
	c := NewClient(h, nil, "")
	cancel()

	if _, ok := receive(t, c); ok {
		t.Error("client channel should be closed on shutdown")
	}
	<-h.done
	if h.IsRunning() {
		t.Error("hub still running")
	}

	late := NewClient(h, nil, "")
	if _, ok := receive(t, late); ok {
		t.Error("late client should be closed immediately")
	}
}

func TestBroadcastQueueFullCountsDrops(t *testing.T) {
	h := New("test", nil)
	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Broadcast(NewMessage("", []byte("{}")))
	}
	if got := h.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}
