// Package catalog holds the campaign, photo and event application records the rule engines read.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidID indicates an identifier is empty or exceeds storage bounds.
	ErrInvalidID = errors.New("catalog: invalid identifier")
	// ErrInvalidRecord indicates a stored record failed boundary validation.
	ErrInvalidRecord = errors.New("catalog: invalid record")
)

// ApplicationStatus enumerates the review states of a photographer's event application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Campaign is an event that photographers cover and attendees buy photos from.
type Campaign struct {
	ID                         string `gorm:"column:id;primaryKey;size:190;not null"`
	OrganizationID             string `gorm:"column:organization_id;size:190;not null;index"`
	Name                       string `gorm:"column:name;size:320;not null"`
	ProgressiveDiscountEnabled bool   `gorm:"column:progressive_discount_enabled;not null;default:false"`
	CreatedAt                  time.Time
}

// TableName provides the explicit table binding for GORM.
func (Campaign) TableName() string {
	return "campaigns"
}

// Photo is a sellable image in a campaign.
type Photo struct {
	ID             string          `gorm:"column:id;primaryKey;size:190;not null"`
	CampaignID     string          `gorm:"column:campaign_id;size:190;not null;index"`
	PhotographerID string          `gorm:"column:photographer_id;size:190;not null;index"`
	URL            string          `gorm:"column:url;size:1024;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:text;not null"`
	CreatedAt      time.Time
}

// TableName provides the explicit table binding for GORM.
func (Photo) TableName() string {
	return "photos"
}

// Validate rejects photo rows that no pricing or matching rule may consume.
func (p Photo) Validate() error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.CampaignID) == "" {
		return fmt.Errorf("%w: photo missing identifiers", ErrInvalidRecord)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: photo %s has negative price", ErrInvalidRecord, p.ID)
	}
	return nil
}

// EventApplication records a photographer's request to cover a campaign.
type EventApplication struct {
	CampaignID     string            `gorm:"column:campaign_id;primaryKey;size:190;not null"`
	PhotographerID string            `gorm:"column:photographer_id;primaryKey;size:190;not null;index"`
	Status         ApplicationStatus `gorm:"column:status;size:32;not null;default:'pending'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName provides the explicit table binding for GORM.
func (EventApplication) TableName() string {
	return "event_applications"
}

// Approved reports whether the application allows the photographer through the gate.
func (a EventApplication) Approved() bool {
	return a.Status == ApplicationApproved
}

// NewID validates raw identifier input.
func NewID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIdentifierLength)
	}
	return trimmed, nil
}
