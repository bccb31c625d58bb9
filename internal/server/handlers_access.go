package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type accessCodeBody struct {
	CampaignID     string    `json:"campaign_id"`
	OrganizationID string    `json:"organization_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type mesarioLoginBody struct {
	Code string `json:"code"`
}

type scanBody struct {
	QrToken string `json:"qr_token"`
}

type attendanceBody struct {
	PhotographerID string `json:"photographer_id"`
}

type photographerPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type attendancePayload struct {
	ID             string `json:"id"`
	CampaignID     string `json:"campaign_id"`
	PhotographerID string `json:"photographer_id"`
	ConfirmedAt    string `json:"confirmed_at"`
}

func newPhotographerPayload(photographer access.Photographer) photographerPayload {
	return photographerPayload{
		ID:          photographer.ID,
		DisplayName: photographer.DisplayName,
		Email:       photographer.Email,
	}
}

func newAttendancePayload(attendance access.EventAttendance) attendancePayload {
	return attendancePayload{
		ID:             attendance.ID,
		CampaignID:     attendance.CampaignID,
		PhotographerID: attendance.PhotographerID,
		ConfirmedAt:    attendance.ConfirmedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (h *httpHandler) handleIssueAccessCode(c *gin.Context) {
	var body accessCodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	session, err := h.access.IssueAccessCode(c.Request.Context(), access.AccessCodeRequest{
		CampaignID:     strings.TrimSpace(body.CampaignID),
		OrganizationID: strings.TrimSpace(body.OrganizationID),
		ExpiresAt:      body.ExpiresAt,
	})
	if err != nil {
		h.respondError(c, "failed to issue access code", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":          session.ID,
		"code":        session.Code,
		"campaign_id": session.CampaignID,
		"expires_at":  session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *httpHandler) handleMesarioLogin(c *gin.Context) {
	var body mesarioLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	result, err := h.access.Login(c.Request.Context(), body.Code)
	if err != nil {
		h.respondError(c, "mesario login failed", err)
		return
	}
	if !result.Valid {
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": result.Reason})
		return
	}
	photographers := make([]photographerPayload, 0, len(result.ApprovedPhotographers))
	for _, photographer := range result.ApprovedPhotographers {
		photographers = append(photographers, newPhotographerPayload(photographer))
	}
	attendances := make([]attendancePayload, 0, len(result.ConfirmedAttendances))
	for _, attendance := range result.ConfirmedAttendances {
		attendances = append(attendances, newAttendancePayload(attendance))
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":                  true,
		"reason":                 result.Reason,
		"session_id":             result.Session.ID,
		"campaign_id":            result.Session.CampaignID,
		"session_expires_at":     result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		"token":                  result.Token,
		"token_expires_at":       result.TokenExpiresAt.UTC().Format(time.RFC3339),
		"approved_photographers": photographers,
		"confirmed_attendances":  attendances,
	})
}

func (h *httpHandler) handleScan(c *gin.Context) {
	claims, _ := currentMesario(c)
	var body scanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	validation, err := h.access.ValidateQr(c.Request.Context(), body.QrToken, claims.CampaignID, claims.SessionID)
	if err != nil {
		h.respondError(c, "qr validation failed", err)
		return
	}
	payload := gin.H{
		"valid":             validation.Valid,
		"reason":            validation.Reason,
		"approved":          validation.Approved,
		"already_confirmed": validation.AlreadyConfirmed,
		"confirmed_at":      nil,
		"photographer":      nil,
		"application":       nil,
	}
	if validation.ConfirmedAt != nil {
		payload["confirmed_at"] = validation.ConfirmedAt.UTC().Format(time.RFC3339Nano)
	}
	if validation.Photographer != nil {
		payload["photographer"] = newPhotographerPayload(*validation.Photographer)
	}
	if validation.Application != nil {
		payload["application"] = gin.H{
			"campaign_id":     validation.Application.CampaignID,
			"photographer_id": validation.Application.PhotographerID,
			"status":          validation.Application.Status,
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleConfirmAttendance(c *gin.Context) {
	claims, _ := currentMesario(c)
	var body attendanceBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.PhotographerID) == "" {
		badRequest(c)
		return
	}
	confirmation, err := h.access.ConfirmAttendance(c.Request.Context(), strings.TrimSpace(body.PhotographerID), claims.CampaignID, claims.SessionID)
	if err != nil {
		h.respondError(c, "attendance confirmation failed", err)
		return
	}
	payload := gin.H{
		"success":    confirmation.Success,
		"reason":     confirmation.Reason,
		"attendance": nil,
	}
	if confirmation.Attendance != nil {
		payload["attendance"] = newAttendancePayload(*confirmation.Attendance)
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleCurrentQrToken(c *gin.Context) {
	profile, _ := currentProfile(c)
	token, err := h.access.CurrentQrToken(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, "failed to load qr token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token.Token, "created_at": token.CreatedAt.UTC().Format(time.RFC3339)})
}

func (h *httpHandler) handleRotateQrToken(c *gin.Context) {
	profile, _ := currentProfile(c)
	token, err := h.access.IssueQrToken(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, "failed to issue qr token", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token.Token, "created_at": token.CreatedAt.UTC().Format(time.RFC3339)})
}

func (h *httpHandler) handleAttendanceStream(c *gin.Context) {
	claims, ok := currentMesario(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(access.OutcomeInvalid)})
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.attendance.Subscribe(ctx, claims.CampaignID)
	defer cleanup()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend, "campaign_id": claims.CampaignID})
	c.Writer.Flush()

	h.logger.Debug("attendance stream opened", zap.String("campaign_id", claims.CampaignID), zap.String("session_id", claims.SessionID))
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(AttendanceEventConfirmed, attendancePayload{
				ID:             message.AttendanceID,
				CampaignID:     message.CampaignID,
				PhotographerID: message.PhotographerID,
				ConfirmedAt:    message.ConfirmedAt.UTC().Format(time.RFC3339Nano),
			})
			return true
		case <-ticker.C:
			_, outcome, err := h.access.CheckSession(ctx, claims.SessionID)
			if err != nil {
				h.logger.Warn("attendance stream session check failed", zap.String("session_id", claims.SessionID), zap.Error(err))
				return false
			}
			if outcome != access.OutcomeValid {
				c.SSEvent(realtimeEventSessionEnded, gin.H{"source": realtimeSourceBackend, "reason": string(outcome)})
				h.logger.Debug("attendance stream closed", zap.String("session_id", claims.SessionID), zap.String("reason", string(outcome)))
				return false
			}
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}
