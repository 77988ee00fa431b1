package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/nestlinghq/nestling/backend/internal/activity"
	"github.com/nestlinghq/nestling/backend/internal/realtime"
)

func dialDevice(t *testing.T, serverURL, familyID, deviceID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := serverURL + "/ws?familyId=" + familyID
	if deviceID != "" {
		url += "&deviceId=" + deviceID
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	event, err := realtime.ParseEvent(payload)
	if err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}
	return event
}

// expectSilence asserts no message arrives within the window. The aborted
// read tears the connection down, so call it last on a connection.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, payload, err := conn.Read(ctx); err == nil {
		t.Fatalf("expected no message, received: %s", payload)
	}
}

func seedActivity(t *testing.T, handler http.Handler, familyID, body string) activity.Record {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/api/families/"+familyID+"/activities", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("failed to seed activity: %d %s", recorder.Code, recorder.Body.String())
	}
	var record activity.Record
	if err := json.Unmarshal(recorder.Body.Bytes(), &record); err != nil {
		t.Fatalf("failed to decode seeded activity: %v", err)
	}
	return record
}

func TestJoinReceivesSnapshotNewestFirst(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	seedActivity(t, handler, "family-1", `{"type":"feeding","data":{"feedType":"bottle"},"startedAt":1000}`)
	seedActivity(t, handler, "family-1", `{"type":"sleep","data":{},"startedAt":3000}`)
	seedActivity(t, handler, "family-1", `{"type":"diaper","data":{"diaperType":"wet"},"startedAt":2000}`)

	conn := dialDevice(t, server.URL, "family-1", "device-b")

	event := readEvent(t, conn)
	if event.Kind != realtime.EventSync {
		t.Fatalf("expected sync as first message, got kind %v", event.Kind)
	}
	if len(event.Snapshot) != 3 {
		t.Fatalf("expected 3 activities in snapshot, got %d", len(event.Snapshot))
	}
	wantOrder := []int64{3000, 2000, 1000}
	for i, record := range event.Snapshot {
		if record.StartedAt != wantOrder[i] {
			t.Fatalf("snapshot position %d: expected started_at %d, got %d", i, wantOrder[i], record.StartedAt)
		}
	}

	// The snapshot covers prior history; no create envelopes follow it.
	expectSilence(t, conn)
}

func TestHTTPCreateBroadcastsToOtherDevices(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conn := dialDevice(t, server.URL, "family-1", "device-b")
	if event := readEvent(t, conn); event.Kind != realtime.EventSync || len(event.Snapshot) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", event)
	}

	created := seedActivity(t, handler, "family-1",
		`{"type":"feeding","data":{"feedType":"bottle","amount":4,"unit":"oz"},"startedAt":1000,"endedAt":1300,"createdBy":"device-a"}`)

	event := readEvent(t, conn)
	if event.Kind != realtime.EventCreate {
		t.Fatalf("expected create event, got kind %v", event.Kind)
	}
	if event.SenderID != "device-a" {
		t.Fatalf("expected senderId device-a, got %q", event.SenderID)
	}
	if event.Activity == nil || event.Activity.ID != created.ID {
		t.Fatalf("expected activity %s, got %+v", created.ID, event.Activity)
	}
	if event.Activity.EndedAt == nil || *event.Activity.EndedAt != 1300 {
		t.Fatalf("unexpected ended_at: %+v", event.Activity.EndedAt)
	}
}

func TestRelayStampsSenderAndExcludesSender(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender := dialDevice(t, server.URL, "family-1", "device-a")
	receiver := dialDevice(t, server.URL, "family-1", "device-b")
	readEvent(t, sender)   // initial sync
	readEvent(t, receiver) // initial sync

	outbound := `{"type":"activity","action":"create","data":{"id":"a-1","family_id":"family-1","type":"diaper","data":{"diaperType":"wet"},"started_at":1000,"ended_at":null,"created_at":1000},"senderId":"spoofed"}`
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sender.Write(writeCtx, websocket.MessageText, []byte(outbound)); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	event := readEvent(t, receiver)
	if event.Kind != realtime.EventCreate {
		t.Fatalf("expected create event, got kind %v", event.Kind)
	}
	if event.SenderID != "device-a" {
		t.Fatalf("server must overwrite senderId with the relaying device, got %q", event.SenderID)
	}
	if event.Activity == nil || event.Activity.ID != "a-1" {
		t.Fatalf("unexpected relayed activity: %+v", event.Activity)
	}

	// The sender never hears its own relay.
	expectSilence(t, sender)
}

func TestRelayIsolatedByFamily(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender := dialDevice(t, server.URL, "family-1", "device-a")
	outsider := dialDevice(t, server.URL, "family-2", "device-c")
	readEvent(t, sender)
	readEvent(t, outsider)

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	message := `{"type":"activity","action":"create","data":{"id":"a-1","family_id":"family-1","type":"sleep","data":{},"started_at":1,"ended_at":null,"created_at":1}}`
	if err := sender.Write(writeCtx, websocket.MessageText, []byte(message)); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	expectSilence(t, outsider)
}

func TestMalformedMessageDoesNotCloseSession(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender := dialDevice(t, server.URL, "family-1", "device-a")
	receiver := dialDevice(t, server.URL, "family-1", "device-b")
	readEvent(t, sender)
	readEvent(t, receiver)

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sender.Write(writeCtx, websocket.MessageText, []byte("not json at all")); err != nil {
		t.Fatalf("failed to send malformed message: %v", err)
	}
	valid := `{"type":"activity","action":"delete","data":{"id":"a-1","family_id":"family-1","type":"diaper","data":{},"started_at":1,"ended_at":null,"created_at":1}}`
	if err := sender.Write(writeCtx, websocket.MessageText, []byte(valid)); err != nil {
		t.Fatalf("failed to send valid message after malformed one: %v", err)
	}

	event := readEvent(t, receiver)
	if event.Kind != realtime.EventDelete {
		t.Fatalf("expected the valid delete to arrive, got kind %v", event.Kind)
	}
}

func TestRoomPrunedAfterLastDeviceLeaves(t *testing.T) {
	handler, registry := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conn := dialDevice(t, server.URL, "family-1", "device-a")
	readEvent(t, conn)

	if size := registry.RoomSize("family-1"); size != 1 {
		t.Fatalf("expected room size 1, got %d", size)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for registry.RoomCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("room not pruned after close, %d rooms remain", registry.RoomCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
