package api

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/internal/models"
	"github.com/mossy-p/connect-now/internal/store"
)

const (
	roomCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// Handler serves the room management API over the shared store.
type Handler struct {
	meta  store.MetadataStore
	rooms store.RoomStore
	log   *zap.Logger
}

// NewHandler wires the API to the store.
func NewHandler(meta store.MetadataStore, rooms store.RoomStore, log *zap.Logger) *Handler {
	return &Handler{meta: meta, rooms: rooms, log: log}
}

// CreateRoom creates a new room (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.MaxParticipants == 0 {
		req.MaxParticipants = 8
	}

	meta := models.RoomMetadata{
		ID:              uuid.New().String(),
		Code:            generateRoomCode(),
		CreatorID:       userID.(string),
		CreatedAt:       time.Now(),
		MaxParticipants: req.MaxParticipants,
	}

	if err := h.meta.PutMetadata(c.Request.Context(), meta); err != nil {
		h.log.Error("failed to store room metadata", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.log.Info("room created",
		zap.String("room", meta.ID),
		zap.String("code", meta.Code),
		zap.String("creator", meta.CreatorID))

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: meta.ID,
		Code:   meta.Code,
	})
}

// GetRoom gets room information by code or ID (public)
func (h *Handler) GetRoom(c *gin.Context) {
	meta, err := h.meta.GetMetadata(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		h.log.Error("failed to read room metadata", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteRoom deletes a room and its signaling state (requires authentication
// and creator)
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	meta, err := h.meta.GetMetadata(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		h.log.Error("failed to read room metadata", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
		return
	}

	if meta.CreatorID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), meta.ID); err != nil {
		h.log.Error("failed to delete room state", zap.Error(err))
	}
	if err := h.meta.DeleteMetadata(c.Request.Context(), meta); err != nil {
		h.log.Error("failed to delete room metadata", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.log.Info("room deleted",
		zap.String("room", meta.ID),
		zap.String("by", userID.(string)))

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
