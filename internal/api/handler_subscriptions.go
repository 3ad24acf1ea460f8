package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aeropark-backend/internal/errs"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/mw"
)

var errSubscriptionNotFound = errs.Sentinel("abonnement introuvable", errs.ErrNotFound)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

type subscriptionView struct {
	Endpoint  string `json:"endpoint"`
	CreatedAt string `json:"cree_le"`
}

// PutSubscription creates or replaces a push subscription for the caller.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, _ := mw.CurrentIdentity(c)

	sub := &model.PushSubscription{
		Endpoint:  req.Endpoint,
		P256DH:    req.P256DH,
		Auth:      req.Auth,
		HolderID:  id.Subject,
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), sub); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

// ListSubscriptions returns the caller's registered endpoints.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	id, _ := mw.CurrentIdentity(c)
	subs, err := h.store.ListPushSubscriptions(c.Request.Context(), id.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, subscriptionView{Endpoint: s.Endpoint, CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339)})
	}
	c.JSON(http.StatusOK, gin.H{"abonnements": out, "total": len(out)})
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes one of the caller's subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, _ := mw.CurrentIdentity(c)

	deleted, err := h.store.DeleteHolderPushSubscription(c.Request.Context(), id.Subject, req.Endpoint)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !deleted {
		h.fail(c, errSubscriptionNotFound)
		return
	}

	c.Status(http.StatusNoContent)
}
