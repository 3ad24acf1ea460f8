package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/ledger"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/mw"
	"aeropark-backend/internal/notification"
	"aeropark-backend/internal/parse"
)

var (
	errNotHolder      = errs.Sentinel("la reservation appartient a un autre utilisateur", errs.ErrForbidden)
	errNoReservation  = errs.Sentinel("aucune reservation active sur cette place", errs.ErrConflict)
	errAlreadyClosed  = errs.Sentinel("reservation deja terminee", errs.ErrConflict)
	errNotCancellable = errs.Sentinel("reservation non annulable", errs.ErrConflict)
)

// GetParkingStatus returns the snapshot of every space.
func (h *Handler) GetParkingStatus(c *gin.Context) {
	state, err := h.registry.State(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type reserveRequest struct {
	SpaceID       string `json:"place_id" binding:"required"`
	DurationHours int    `json:"duree_heures"`
	PaymentMethod string `json:"methode_paiement" binding:"required"`
}

type reserveResponse struct {
	Success          bool      `json:"succes"`
	Message          string    `json:"message"`
	ReservationID    string    `json:"reservation_id"`
	SpaceNumber      string    `json:"place_numero"`
	Amount           int64     `json:"montant"`
	Start            time.Time `json:"debut"`
	End              time.Time `json:"fin"`
	RemainingSeconds int64     `json:"temps_restant_secondes"`
	PaymentReference string    `json:"reference_paiement"`
}

// Reserve creates a reservation for the caller.
func (h *Handler) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, _ := mw.CurrentIdentity(c)

	rcpt, err := h.ledger.Create(c.Request.Context(), ledger.CreateRequest{
		SpaceID:       parse.SpaceID(req.SpaceID),
		HolderID:      id.Subject,
		DurationHours: req.DurationHours,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	res := rcpt.Reservation
	h.hub.ReservationChanged(res.ID, res.SpaceID, "creation")
	h.hub.SpaceUpdated(res.SpaceID, model.SpaceReserved, notification.ReasonReservation)

	c.JSON(http.StatusCreated, reserveResponse{
		Success:          true,
		Message:          fmt.Sprintf("Place %s reservee pour %d heure(s)", rcpt.SpaceNumber, res.DurationHours),
		ReservationID:    res.ID,
		SpaceNumber:      rcpt.SpaceNumber,
		Amount:           res.Amount,
		Start:            res.Start,
		End:              res.End,
		RemainingSeconds: rcpt.RemainingSeconds,
		PaymentReference: res.PaymentReference,
	})
}

// Release ends the caller's reservation on a space and frees it.
func (h *Handler) Release(c *gin.Context) {
	ctx := c.Request.Context()
	id, _ := mw.CurrentIdentity(c)

	space, err := h.registry.Get(ctx, parse.SpaceID(c.Param("place_id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	hold := space.Hold()
	if hold == nil || hold.ReservationID == "" {
		h.fail(c, errs.Wrapf(errNoReservation, "place %s", space.Number))
		return
	}
	if hold.HolderID != id.Subject {
		h.fail(c, errNotHolder)
		return
	}

	done, err := h.ledger.Complete(ctx, hold.ReservationID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !done {
		h.fail(c, errAlreadyClosed)
		return
	}

	h.hub.ReservationChanged(hold.ReservationID, space.ID, "liberation")
	h.broadcastSpace(c, space.ID, notification.ReasonRelease)
	c.JSON(http.StatusOK, gin.H{
		"succes":         true,
		"message":        fmt.Sprintf("Place %s liberee", space.Number),
		"reservation_id": hold.ReservationID,
	})
}

// ownReservation loads a reservation the caller may act on. Admins may act
// on any reservation when allowAdmin is set.
func (h *Handler) ownReservation(c *gin.Context, allowAdmin bool) (*model.Reservation, bool) {
	id, _ := mw.CurrentIdentity(c)
	res, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if res.HolderID != id.Subject {
		role, _ := mw.CurrentRole(c)
		if !allowAdmin || role != model.RoleAdmin {
			h.fail(c, errNotHolder)
			return nil, false
		}
	}
	return res, true
}

// Cancel cancels one of the caller's reservations.
func (h *Handler) Cancel(c *gin.Context) {
	res, ok := h.ownReservation(c, false)
	if !ok {
		return
	}

	done, err := h.ledger.Cancel(c.Request.Context(), res.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !done {
		h.fail(c, errs.Wrapf(errNotCancellable, "statut %s", res.Status))
		return
	}

	h.hub.ReservationChanged(res.ID, res.SpaceID, "annulation")
	h.broadcastSpace(c, res.SpaceID, notification.ReasonCancel)
	c.JSON(http.StatusOK, gin.H{"succes": true, "message": "Reservation annulee", "reservation_id": res.ID})
}

// CheckExpiry runs the expiry check for one reservation immediately.
func (h *Handler) CheckExpiry(c *gin.Context) {
	res, ok := h.ownReservation(c, true)
	if !ok {
		return
	}

	expired, err := h.scanner.CheckOne(c.Request.Context(), res.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation_id": res.ID, "expiree": expired})
}

// MyReservations lists the caller's reservations, newest first.
func (h *Handler) MyReservations(c *gin.Context) {
	id, _ := mw.CurrentIdentity(c)
	list, err := h.ledger.ByHolder(c.Request.Context(), id.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": list, "total": len(list)})
}

// GetMe returns the caller's profile.
func (h *Handler) GetMe(c *gin.Context) {
	id, _ := mw.CurrentIdentity(c)
	role, _ := mw.CurrentRole(c)
	active, err := h.ledger.ActiveCount(c.Request.Context(), id.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uid":                  id.Subject,
		"email":                id.Email,
		"nom":                  id.Name,
		"email_verifie":        id.Verified,
		"role":                 role,
		"reservations_actives": active,
	})
}

// broadcastSpace announces the current status of a space.
func (h *Handler) broadcastSpace(c *gin.Context, spaceID, reason string) {
	space, err := h.registry.Get(c.Request.Context(), spaceID)
	if err != nil {
		h.logger.Warn("read space for broadcast", "space_id", spaceID, "error", err)
		return
	}
	h.hub.SpaceUpdated(space.ID, space.Status, reason)
}
