package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/faces"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/imagecache"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/pricing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type faceSearchRequest struct {
	Descriptors [][]float64 `json:"descriptors"`
	CampaignID  string      `json:"campaign_id"`
	Threshold   *float64    `json:"threshold"`
}

type faceSetRequest struct {
	Descriptors [][]float64 `json:"descriptors"`
}

type cartQuoteRequest struct {
	CampaignID string   `json:"campaign_id"`
	PhotoIDs   []string `json:"photo_ids"`
}

type thresholdPayload struct {
	Quantity   int `json:"quantity"`
	Percentage int `json:"percentage"`
}

func (h *httpHandler) handleFaceSearch(c *gin.Context) {
	var request faceSearchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	matches, err := h.faces.Search(c.Request.Context(), faces.SearchRequest{
		Descriptors: request.Descriptors,
		CampaignID:  strings.TrimSpace(request.CampaignID),
		Threshold:   request.Threshold,
	})
	if err != nil {
		h.respondError(c, "face search failed", err)
		return
	}
	if matches == nil {
		matches = []faces.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *httpHandler) handleGetUserFaces(c *gin.Context) {
	profile, _ := currentProfile(c)
	descriptors, err := h.faces.UserFaces(c.Request.Context(), profile.ID)
	if err != nil {
		h.respondError(c, "failed to load user faces", err)
		return
	}
	if descriptors == nil {
		descriptors = []faces.Descriptor{}
	}
	c.JSON(http.StatusOK, gin.H{"descriptors": descriptors})
}

func (h *httpHandler) handlePutUserFaces(c *gin.Context) {
	profile, _ := currentProfile(c)
	var request faceSetRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	if err := h.faces.ReplaceUserFaces(c.Request.Context(), profile.ID, request.Descriptors); err != nil {
		h.respondError(c, "failed to store user faces", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePutPhotoFaces(c *gin.Context) {
	profile, _ := currentProfile(c)
	var request faceSetRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	if err := h.faces.ReplacePhotoFaces(c.Request.Context(), profile.ID, c.Param("id"), request.Descriptors); err != nil {
		h.respondError(c, "failed to store photo faces", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCartQuote(c *gin.Context) {
	var request cartQuoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c)
		return
	}
	quote, err := h.pricing.Quote(c.Request.Context(), strings.TrimSpace(request.CampaignID), request.PhotoIDs)
	if err != nil {
		h.respondError(c, "cart quote failed", err)
		return
	}
	c.JSON(http.StatusOK, quotePayload(quote))
}

func quotePayload(quote pricing.Quote) gin.H {
	payload := gin.H{
		"quantity":            quote.Breakdown.Quantity,
		"discount_percentage": quote.Breakdown.DiscountPercentage,
		"subtotal":            money(quote.Breakdown.Subtotal),
		"discount_amount":     money(quote.Breakdown.DiscountAmount),
		"total":               money(quote.Breakdown.Total),
		"next_threshold":      nil,
	}
	if quote.NextThreshold != nil {
		payload["next_threshold"] = thresholdPayload{
			Quantity:   quote.NextThreshold.Quantity,
			Percentage: quote.NextThreshold.Percentage,
		}
	}
	return payload
}

func (h *httpHandler) handleImage(c *gin.Context) {
	requestURL := &url.URL{Path: c.Param("path"), RawQuery: c.Request.URL.RawQuery}
	result, err := h.images.Get(c.Request.Context(), imagecache.Request{
		URL:        requestURL,
		Revalidate: strings.Contains(strings.ToLower(c.GetHeader("Cache-Control")), "no-cache"),
	})
	if err != nil {
		h.logger.Warn("image fetch failed", zap.String("path", requestURL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image_unavailable"})
		return
	}
	contentType := result.Entry.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("X-Cache", string(result.Status))
	c.Data(http.StatusOK, contentType, result.Entry.Body)
}

func (h *httpHandler) handleImageControl(c *gin.Context) {
	var command imagecache.Command
	if err := c.ShouldBindJSON(&command); err != nil {
		badRequest(c)
		return
	}
	if err := h.images.Control(command); err != nil {
		if errors.Is(err, imagecache.ErrUnknownCommand) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_command"})
			return
		}
		h.respondError(c, "image cache control failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
