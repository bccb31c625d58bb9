package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "pricing.service.new"
	opQuote      = "pricing.quote"
)

var (
	// ErrCampaignNotFound indicates the quoted campaign does not exist.
	ErrCampaignNotFound = errors.New("pricing: campaign not found")
	// ErrPhotoNotFound indicates a quoted photo is missing or belongs to another campaign.
	ErrPhotoNotFound = errors.New("pricing: photo not found in campaign")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceConfig wires the quote service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service quotes carts against stored campaign prices.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs a quote service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Quote is a priced cart plus the incentive for buying more.
type Quote struct {
	Breakdown     Breakdown
	NextThreshold *Threshold
}

// Quote prices the photos of one campaign.
func (s *Service) Quote(ctx context.Context, campaignID string, photoIDs []string) (Quote, error) {
	if len(photoIDs) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one photo is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(photoIDs))
	for _, photoID := range photoIDs {
		if _, duplicate := seen[photoID]; duplicate {
			return Quote{}, fmt.Errorf("%w: %s", ErrDuplicateLine, photoID)
		}
		seen[photoID] = struct{}{}
	}

	var campaign catalog.Campaign
	err := s.db.WithContext(ctx).Where("id = ?", campaignID).Take(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Quote{}, ErrCampaignNotFound
	}
	if err != nil {
		serviceerr.Log(s.logger, "pricing service error", opQuote, "campaign_query_failed", err, zap.String("campaign_id", campaignID))
		return Quote{}, serviceerr.New(opQuote, "campaign_query_failed", err)
	}

	var photos []catalog.Photo
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND id IN ?", campaignID, photoIDs).
		Find(&photos).Error; err != nil {
		serviceerr.Log(s.logger, "pricing service error", opQuote, "photo_query_failed", err, zap.String("campaign_id", campaignID))
		return Quote{}, serviceerr.New(opQuote, "photo_query_failed", err)
	}
	if len(photos) != len(photoIDs) {
		return Quote{}, ErrPhotoNotFound
	}

	lines := make([]CartLine, 0, len(photos))
	for _, photo := range photos {
		if err := photo.Validate(); err != nil {
			serviceerr.Log(s.logger, "pricing service error", opQuote, "invalid_photo", err, zap.String("photo_id", photo.ID))
			return Quote{}, serviceerr.New(opQuote, "invalid_photo", err)
		}
		lines = append(lines, CartLine{
			PhotoID:          photo.ID,
			CampaignID:       photo.CampaignID,
			UnitPrice:        photo.Price,
			DiscountEligible: campaign.ProgressiveDiscountEnabled,
		})
	}

	breakdown, err := CalculateCart(lines)
	if err != nil {
		return Quote{}, err
	}
	quote := Quote{Breakdown: breakdown}
	if campaign.ProgressiveDiscountEnabled {
		if next, ok := NextThreshold(len(lines)); ok {
			quote.NextThreshold = &next
		}
	}
	return quote, nil
}
