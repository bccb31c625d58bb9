package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/payouts"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type payoutRequestBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type payoutStatusBody struct {
	Status string `json:"status"`
}

type pixChangeBody struct {
	PixKey string `json:"pix_key"`
}

type payoutPayload struct {
	ID        string `json:"id"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	PixKey    string `json:"pix_key"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func newPayoutPayload(request payouts.PayoutRequest) payoutPayload {
	return payoutPayload{
		ID:        request.ID,
		Amount:    request.Amount.StringFixed(2),
		Status:    string(request.Status),
		PixKey:    request.PixKey,
		CreatedAt: request.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: request.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *httpHandler) handleBalance(c *gin.Context) {
	profile, _ := currentProfile(c)
	balance, err := h.payouts.Balance(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, "failed to compute balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_earned":     money(balance.TotalEarned),
		"available_amount": money(balance.AvailableAmount),
		"pending_amount":   money(balance.PendingAmount),
		"blocked_amount":   money(balance.BlockedAmount),
		"withdrawn_amount": money(balance.WithdrawnAmount),
	})
}

func (h *httpHandler) handleListPayouts(c *gin.Context) {
	profile, _ := currentProfile(c)
	requests, err := h.payouts.ListPayouts(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, "failed to list payouts", err)
		return
	}
	payload := make([]payoutPayload, 0, len(requests))
	for _, request := range requests {
		payload = append(payload, newPayoutPayload(request))
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payload})
}

func (h *httpHandler) handleRequestPayout(c *gin.Context) {
	profile, _ := currentProfile(c)
	var body payoutRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	request, err := h.payouts.RequestPayout(c.Request.Context(), profile.ID, body.Amount)
	if err != nil {
		h.respondError(c, "payout request failed", err)
		return
	}
	c.JSON(http.StatusCreated, newPayoutPayload(request))
}

func (h *httpHandler) handlePayoutStatus(c *gin.Context) {
	var body payoutStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	next, ok := payouts.ParsePayoutStatus(body.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}
	request, err := h.payouts.TransitionPayout(c.Request.Context(), c.Param("id"), next)
	if err != nil {
		h.respondError(c, "payout transition failed", err)
		return
	}
	c.JSON(http.StatusOK, newPayoutPayload(request))
}

func (h *httpHandler) handlePixStatus(c *gin.Context) {
	profile, _ := currentProfile(c)
	status, err := h.payouts.PixChangeStatus(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, "failed to load pix status", err)
		return
	}
	c.JSON(http.StatusOK, pixStatusPayload(status))
}

func (h *httpHandler) handlePixChange(c *gin.Context) {
	profile, _ := currentProfile(c)
	var body pixChangeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	status, err := h.payouts.RequestPixChange(c.Request.Context(), profile.ID, body.PixKey)
	if err != nil {
		h.respondError(c, "pix change failed", err)
		return
	}
	c.JSON(http.StatusAccepted, pixStatusPayload(status))
}

func pixStatusPayload(status payouts.PixStatus) gin.H {
	payload := gin.H{
		"active_key":         status.ActiveKey,
		"pending_key":        nil,
		"requested_at":       nil,
		"days_until_applied": status.DaysUntilApplied,
	}
	if status.PendingKey != "" {
		payload["pending_key"] = status.PendingKey
	}
	if status.RequestedAt != nil {
		payload["requested_at"] = status.RequestedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
