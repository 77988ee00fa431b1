package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nestlinghq/nestling/backend/internal/realtime"
	"go.uber.org/zap"
)

const (
	connWriteTimeout = 5 * time.Second

	senderIDField = "senderId"
)

// handleRealtime upgrades the request to a websocket session. The familyId
// query parameter is mandatory; the upgrade is refused without it. deviceId
// is optional and generated for anonymous sessions.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	familyID := c.Query("familyId")
	if familyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_family_id"})
		return
	}
	deviceID := c.Query("deviceId")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &wsSession{
		conn:     conn,
		familyID: familyID,
		deviceID: deviceID,
	}

	h.registry.Join(familyID, session)
	h.logger.Info("device joined family",
		zap.String("family_id", familyID),
		zap.String("device_id", deviceID))

	h.sendSnapshot(c.Request.Context(), session)
	h.readLoop(session)

	h.registry.Leave(familyID, session)
	session.close()
	h.logger.Info("device left family",
		zap.String("family_id", familyID),
		zap.String("device_id", deviceID))
}

// sendSnapshot pushes the initial full-replace sync message to a newly joined
// connection. A persistence failure degrades the join to an empty view rather
// than terminating the session; the next broadcast or a CRUD fetch repairs it.
func (h *httpHandler) sendSnapshot(ctx context.Context, session *wsSession) {
	records, err := h.activities.List(ctx, session.familyID, h.snapshotLimit)
	if err != nil {
		h.logger.Warn("snapshot fetch failed, joining without initial state",
			zap.String("family_id", session.familyID),
			zap.Error(err))
		return
	}
	payload, err := realtime.MarshalSync(records)
	if err != nil {
		h.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	if err := session.WriteText(ctx, payload); err != nil {
		h.logger.Warn("snapshot delivery failed",
			zap.String("family_id", session.familyID),
			zap.Error(err))
	}
}

// readLoop relays inbound messages to the rest of the room. Malformed JSON is
// logged and discarded without closing the session; valid messages are
// re-stamped with the sending device's identifier and forwarded to everyone
// except the sender. Message types are not validated here so unknown envelope
// kinds reach peers; reconcilers ignore what they do not recognize.
func (h *httpHandler) readLoop(session *wsSession) {
	for {
		_, payload, err := session.conn.Read(context.Background())
		if err != nil {
			return
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil {
			h.logger.Warn("discarding malformed message",
				zap.String("device_id", session.deviceID),
				zap.Error(err))
			continue
		}

		senderID, err := json.Marshal(session.deviceID)
		if err != nil {
			continue
		}
		fields[senderIDField] = senderID

		stamped, err := json.Marshal(fields)
		if err != nil {
			h.logger.Warn("failed to re-encode relayed message", zap.Error(err))
			continue
		}

		relayCtx, cancel := context.WithTimeout(context.Background(), connWriteTimeout)
		h.registry.Broadcast(relayCtx, session.familyID, stamped, session)
		cancel()
	}
}

// wsSession adapts a websocket connection to the registry's Conn interface
// and carries the identity attached at upgrade time.
type wsSession struct {
	conn     *websocket.Conn
	familyID string
	deviceID string

	closeOnce sync.Once
}

func (s *wsSession) WriteText(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, connWriteTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, payload)
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
}
