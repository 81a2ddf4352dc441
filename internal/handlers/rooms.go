package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/classmeet/classmeet/internal/models"
)

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type getRoomResponse struct {
	RoomID       string               `json:"room_id"`
	Participants []models.Participant `json:"participants"`
}

// CreateRoom mints a fresh opaque room id. The room itself only comes into
// existence in the registry on the first join; handing out an id costs
// nothing and leaves no state behind if nobody ever joins.
func (h *Handlers) CreateRoom(c *gin.Context) {
	id, err := gonanoid.New(16)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, createRoomResponse{RoomID: id})
}

// GetRoom returns the current participant snapshot. An unknown room reports
// an empty list rather than an error: rooms are transient and a room nobody
// is in does not exist.
func (h *Handlers) GetRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	c.JSON(http.StatusOK, getRoomResponse{
		RoomID:       roomID,
		Participants: h.registry.ListParticipants(roomID),
	})
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
