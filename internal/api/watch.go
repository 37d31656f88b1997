package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// observer is one WebSocket subscriber to a room's event feed.
type observer struct {
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger
}

// WatchRoom streams room occupancy changes and chat messages to dashboard
// observers. The feed is read-only: signaling never rides this socket, it
// lives entirely in the shared store.
func (h *Handler) WatchRoom(c *gin.Context) {
	roomIdentifier := c.Param("roomId")
	if roomIdentifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	meta, err := h.meta.GetMetadata(c.Request.Context(), roomIdentifier)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	snapshots, err := h.rooms.Watch(ctx, meta.ID)
	if err != nil {
		h.log.Warn("room watch failed", zap.String("room", meta.ID), zap.Error(err))
		cancel()
		conn.Close()
		return
	}
	messages, err := h.rooms.WatchMessages(ctx, meta.ID)
	if err != nil {
		h.log.Warn("chat watch failed", zap.String("room", meta.ID), zap.Error(err))
		cancel()
		conn.Close()
		return
	}

	obs := &observer{
		conn: conn,
		send: make(chan []byte, 256),
		log:  h.log.With(zap.String("room", meta.ID)),
	}

	go obs.writePump(cancel)
	go obs.readPump(cancel)
	go obs.feed(ctx, meta.ID, snapshots, messages)
}

// feed translates store events into the wire feed. Joins and leaves are
// derived by diffing successive snapshots.
func (o *observer) feed(ctx context.Context, roomID string, snapshots <-chan models.RoomSnapshot, messages <-chan models.ChatMessage) {
	defer close(o.send)
	known := make(map[string]string)
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			for id, name := range snap.Participants {
				if _, seen := known[id]; !seen {
					o.push(models.RoomEvent{Type: models.RoomEventJoin, RoomID: roomID, Participant: id, Name: name})
				}
				known[id] = name
			}
			for id, name := range known {
				if _, still := snap.Participants[id]; !still {
					o.push(models.RoomEvent{Type: models.RoomEventLeave, RoomID: roomID, Participant: id, Name: name})
					delete(known, id)
				}
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			o.push(models.RoomEvent{Type: models.RoomEventMessage, RoomID: roomID, Message: &msg})
		case <-ctx.Done():
			return
		}
	}
}

func (o *observer) push(ev models.RoomEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		o.log.Warn("failed to marshal event", zap.Error(err))
		return
	}
	select {
	case o.send <- data:
	default:
		o.log.Warn("observer buffer full, dropping event")
	}
}

func (o *observer) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		o.conn.Close()
	}()
	o.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	o.conn.SetPongHandler(func(string) error {
		o.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		// Observers send nothing; reading only services control frames and
		// detects disconnect.
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				o.log.Warn("websocket error", zap.Error(err))
			}
			return
		}
	}
}

func (o *observer) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		cancel()
		o.conn.Close()
	}()

	for {
		select {
		case message, ok := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				o.log.Warn("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
