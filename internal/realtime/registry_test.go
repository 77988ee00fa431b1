package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingConn struct {
	mu       sync.Mutex
	payloads [][]byte
	failWith error
}

func (c *recordingConn) WriteText(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func TestBroadcastToEmptyRoomIsNoOp(t *testing.T) {
	registry := NewRegistry(nil)

	conn := &recordingConn{}
	registry.Join("family-1", conn)
	registry.Leave("family-1", conn)

	registry.Broadcast(context.Background(), "family-1", []byte(`{"type":"sync"}`), nil)
	registry.Broadcast(context.Background(), "family-never-seen", []byte(`{"type":"sync"}`), nil)

	if got := conn.received(); len(got) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(got))
	}
}

func TestBroadcastSkipsExcludedConnection(t *testing.T) {
	registry := NewRegistry(nil)

	sender := &recordingConn{}
	peerOne := &recordingConn{}
	peerTwo := &recordingConn{}
	registry.Join("family-1", sender)
	registry.Join("family-1", peerOne)
	registry.Join("family-1", peerTwo)

	payload := []byte(`{"type":"activity","action":"create"}`)
	registry.Broadcast(context.Background(), "family-1", payload, sender)

	if got := sender.received(); len(got) != 0 {
		t.Fatalf("excluded connection received %d deliveries", len(got))
	}
	for name, peer := range map[string]*recordingConn{"peerOne": peerOne, "peerTwo": peerTwo} {
		got := peer.received()
		if len(got) != 1 {
			t.Fatalf("%s expected 1 delivery, got %d", name, len(got))
		}
		if string(got[0]) != string(payload) {
			t.Fatalf("%s received altered payload: %s", name, got[0])
		}
	}
}

func TestBroadcastIsolatedByFamily(t *testing.T) {
	registry := NewRegistry(nil)

	member := &recordingConn{}
	outsider := &recordingConn{}
	registry.Join("family-1", member)
	registry.Join("family-2", outsider)

	registry.Broadcast(context.Background(), "family-1", []byte(`{}`), nil)

	if got := member.received(); len(got) != 1 {
		t.Fatalf("expected member delivery, got %d", len(got))
	}
	if got := outsider.received(); len(got) != 0 {
		t.Fatalf("expected no delivery to other family, got %d", len(got))
	}
}

func TestFailedDeliveryDoesNotBlockOthers(t *testing.T) {
	registry := NewRegistry(nil)

	broken := &recordingConn{failWith: errors.New("transport closed")}
	healthy := &recordingConn{}
	registry.Join("family-1", broken)
	registry.Join("family-1", healthy)

	registry.Broadcast(context.Background(), "family-1", []byte(`{}`), nil)

	if got := healthy.received(); len(got) != 1 {
		t.Fatalf("expected healthy connection to receive delivery, got %d", len(got))
	}
}

func TestLeavePrunesEmptyRoom(t *testing.T) {
	registry := NewRegistry(nil)

	connOne := &recordingConn{}
	connTwo := &recordingConn{}
	registry.Join("family-1", connOne)
	registry.Join("family-1", connOne) // idempotent
	registry.Join("family-1", connTwo)

	if size := registry.RoomSize("family-1"); size != 2 {
		t.Fatalf("expected room size 2, got %d", size)
	}

	registry.Leave("family-1", connOne)
	registry.Leave("family-1", connOne) // double-leave must not error
	if size := registry.RoomSize("family-1"); size != 1 {
		t.Fatalf("expected room size 1, got %d", size)
	}

	registry.Leave("family-1", connTwo)
	if count := registry.RoomCount(); count != 0 {
		t.Fatalf("expected empty room to be pruned, %d rooms remain", count)
	}

	// Leaving a room that no longer exists is fine.
	registry.Leave("family-1", connTwo)
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	registry := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &recordingConn{}
			for j := 0; j < 100; j++ {
				registry.Join("family-1", conn)
				registry.Broadcast(context.Background(), "family-1", []byte(`{}`), nil)
				registry.Leave("family-1", conn)
			}
		}()
	}
	wg.Wait()

	if count := registry.RoomCount(); count != 0 {
		t.Fatalf("expected all rooms pruned after churn, %d remain", count)
	}
}
