package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/faces"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/payouts"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/pricing"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/serviceerr"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: faces.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_descriptor"},
	{target: pricing.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: pricing.ErrDuplicateLine, status: http.StatusBadRequest, code: "duplicate_photo"},
	{target: payouts.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: payouts.ErrInvalidPixKey, status: http.StatusBadRequest, code: "invalid_pix_key"},
	{target: access.ErrInvalidExpiry, status: http.StatusBadRequest, code: "invalid_expiry"},
	{target: faces.ErrNotPhotoOwner, status: http.StatusForbidden, code: "forbidden"},
	{target: access.ErrOrganizationMismatch, status: http.StatusForbidden, code: "forbidden"},
	{target: payouts.ErrNotPhotographer, status: http.StatusForbidden, code: "not_photographer"},
	{target: access.ErrNotPhotographer, status: http.StatusForbidden, code: "not_photographer"},
	{target: faces.ErrPhotoNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: pricing.ErrPhotoNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: pricing.ErrCampaignNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: access.ErrCampaignNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: payouts.ErrPayoutNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: profiles.ErrProfileNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: payouts.ErrInsufficientBalance, status: http.StatusConflict, code: "insufficient_balance"},
	{target: payouts.ErrMissingPixKey, status: http.StatusConflict, code: "missing_pix_key"},
	{target: payouts.ErrInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
}

func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("code", serviceerr.Code(err)), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}

// money renders a currency amount as a JSON number with exactly two decimals.
func money(value decimal.Decimal) json.Number {
	return json.Number(value.StringFixed(2))
}
