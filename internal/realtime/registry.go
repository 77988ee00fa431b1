// Package realtime implements the synchronization core: a per-family room
// registry over live connections, the envelope codec for the wire protocol,
// and the write-then-notify publisher that fans persisted changes out to
// every other device in the family.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Conn is the transport surface the registry needs from a live connection.
// Implementations must fail fast when the underlying transport is no longer
// open; a failed write is skipped, never retried.
type Conn interface {
	WriteText(ctx context.Context, payload []byte) error
}

// Registry maps family identifiers to the set of currently connected devices.
// Rooms are created lazily on first join and pruned when the last member
// leaves. Purely in-memory, process-lifetime.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[Conn]struct{}
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:  make(map[string]map[Conn]struct{}),
		logger: logger,
	}
}

// Join idempotently adds a connection to the family's room, creating the room
// if absent.
func (r *Registry) Join(familyID string, conn Conn) {
	if familyID == "" || conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[familyID]
	if !ok {
		room = make(map[Conn]struct{})
		r.rooms[familyID] = room
	}
	room[conn] = struct{}{}
}

// Leave removes a connection from the family's room and prunes the room when
// it becomes empty. Absent rooms and members are not errors.
func (r *Registry) Leave(familyID string, conn Conn) {
	if familyID == "" || conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[familyID]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(r.rooms, familyID)
	}
}

// Broadcast delivers the identical payload to every member of the family's
// room except the excluded connection. Delivery iterates a point-in-time
// membership snapshot so a slow member never blocks a concurrent join or
// leave, and per-connection failures are logged and skipped. Broadcasting to
// a family with no room is a silent no-op.
func (r *Registry) Broadcast(ctx context.Context, familyID string, payload []byte, exclude Conn) {
	r.mu.RLock()
	room := r.rooms[familyID]
	if len(room) == 0 {
		r.mu.RUnlock()
		return
	}
	members := make([]Conn, 0, len(room))
	for conn := range room {
		if conn != exclude {
			members = append(members, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range members {
		if err := conn.WriteText(ctx, payload); err != nil {
			r.logger.Debug("broadcast delivery skipped",
				zap.String("family_id", familyID),
				zap.Error(err))
		}
	}
}

// RoomSize reports the current member count for a family.
func (r *Registry) RoomSize(familyID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[familyID])
}

// RoomCount reports how many rooms currently exist.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
