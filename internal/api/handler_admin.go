package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aeropark-backend/internal/parse"
)

type addSpaceRequest struct {
	Number   string `json:"numero" binding:"required"`
	SensorID string `json:"capteur_id"`
}

// AddSpace registers a new space.
func (h *Handler) AddSpace(c *gin.Context) {
	var req addSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	space, err := h.registry.Add(c.Request.Context(), req.Number, req.SensorID)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.broadcastState(c)
	c.JSON(http.StatusCreated, gin.H{"succes": true, "place": space})
}

// RemoveSpace deletes an available space.
func (h *Handler) RemoveSpace(c *gin.Context) {
	id := parse.SpaceID(c.Param("place_id"))
	if err := h.registry.Remove(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	h.broadcastState(c)
	c.JSON(http.StatusOK, gin.H{"succes": true, "place_id": id})
}

// ListSpaces returns the raw records of every space.
func (h *Handler) ListSpaces(c *gin.Context) {
	spaces, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"places": spaces, "total": len(spaces)})
}

// ListActiveReservations returns every active reservation.
func (h *Handler) ListActiveReservations(c *gin.Context) {
	list, err := h.ledger.Active(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": list, "total": len(list)})
}

// broadcastState pushes the full parking snapshot after a layout change.
func (h *Handler) broadcastState(c *gin.Context) {
	state, err := h.registry.State(c.Request.Context())
	if err != nil {
		h.logger.Warn("read state for broadcast", "error", err)
		return
	}
	h.hub.ParkingState(state)
}
