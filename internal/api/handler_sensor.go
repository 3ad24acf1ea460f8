package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"aeropark-backend/internal/model"
	"aeropark-backend/internal/occupancy"
	"aeropark-backend/internal/parse"
)

type sensorUpdateRequest struct {
	SpaceID        string `json:"place_id" binding:"required"`
	State          string `json:"etat" binding:"required"`
	SignalStrength *int   `json:"force_signal"`
	BatteryLevel   *int   `json:"niveau_batterie"`
}

type sensorResponse struct {
	Success   bool               `json:"succes"`
	Message   string             `json:"message"`
	SpaceID   string             `json:"place_id"`
	Status    model.SpaceStatus  `json:"statut"`
	NewStatus *model.SpaceStatus `json:"nouveau_statut"`
	Changed   bool               `json:"changement"`
	Anomaly   bool               `json:"anomalie"`
}

func newSensorResponse(res *occupancy.Result) sensorResponse {
	msg := "Aucun changement"
	if res.NewStatus != nil {
		msg = "Statut mis a jour: " + string(*res.NewStatus)
	}
	return sensorResponse{
		Success:   true,
		Message:   msg,
		SpaceID:   res.SpaceID,
		Status:    res.Status,
		NewStatus: res.NewStatus,
		Changed:   res.NewStatus != nil,
		Anomaly:   res.Anomaly,
	}
}

// SensorUpdate ingests one detector signal.
func (h *Handler) SensorUpdate(c *gin.Context) {
	var req sensorUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.processor.Process(c.Request.Context(), occupancy.Signal{
		SpaceID:        parse.SpaceID(req.SpaceID),
		State:          model.SensorState(req.State),
		SignalStrength: req.SignalStrength,
		BatteryLevel:   req.BatteryLevel,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSensorResponse(res))
}

// SensorStatus returns the latest signal for one space.
func (h *Handler) SensorStatus(c *gin.Context) {
	st, err := h.processor.Status(c.Request.Context(), parse.SpaceID(c.Param("place_id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// AllSensors returns every sensor record with its liveness.
func (h *Handler) AllSensors(c *gin.Context) {
	all, err := h.processor.All(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	online := 0
	for _, s := range all {
		if s.Online {
			online++
		}
	}
	c.JSON(http.StatusOK, gin.H{"capteurs": all, "total": len(all), "en_ligne": online})
}

// SimulateSensor processes a synthetic signal. Test installations only.
func (h *Handler) SimulateSensor(c *gin.Context) {
	occupied, err := strconv.ParseBool(c.Query("occupe"))
	if err != nil {
		badRequest(c, "parametre occupe invalide")
		return
	}

	res, err := h.processor.Simulate(c.Request.Context(), parse.SpaceID(c.Param("place_id")), occupied)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"succes": true, "message": "Simulation effectuee", "resultat": newSensorResponse(res)})
}

// SensorHealth lets detectors check connectivity without a key.
func (h *Handler) SensorHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "API capteurs operationnelle"})
}

// Info describes the service and its pricing. Prices are in Congolese francs.
func (h *Handler) Info(c *gin.Context) {
	pricing := gin.H{
		"tarif_heure": h.parking.HourlyRate,
		"devise":      "FC",
		"duree_max":   h.parking.MaxDurationHours,
	}
	c.JSON(http.StatusOK, gin.H{
		"nom":          "AeroPark Smart System API",
		"version":      "1.0.0",
		"description":  "Systeme de gestion de parking automatise",
		"statut":       "operationnel",
		"tarification": pricing,
	})
}

// Health reports liveness of the background services.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"statut":        "operationnel",
		"scanner_actif": h.scanner.Running(),
		"connexions_ws": h.hub.Count(),
		"timestamp":     h.clock.Now(),
	})
}
