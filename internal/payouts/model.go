// Package payouts computes photographer balances, payout requests and PIX key changes.
package payouts

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus mirrors the payment state of the purchase a revenue share came from.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// PayoutStatus enumerates the lifecycle of a payout request.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutApproved  PayoutStatus = "approved"
	PayoutCompleted PayoutStatus = "completed"
)

// ParsePayoutStatus validates a raw status name.
func ParsePayoutStatus(raw string) (PayoutStatus, bool) {
	switch status := PayoutStatus(raw); status {
	case PayoutPending, PayoutApproved, PayoutCompleted:
		return status, true
	default:
		return "", false
	}
}

// RevenueShare is the photographer's cut of one purchase. Rows are written once and only read.
type RevenueShare struct {
	ID                 string          `gorm:"column:id;primaryKey;size:190;not null"`
	PurchaseID         string          `gorm:"column:purchase_id;size:190;not null;index"`
	PhotographerID     string          `gorm:"column:photographer_id;size:190;not null;index"`
	PhotographerAmount decimal.Decimal `gorm:"column:photographer_amount;type:text;not null"`
	PurchaseStatus     PurchaseStatus  `gorm:"column:purchase_status;size:32;not null"`
	PurchaseCreatedAt  time.Time       `gorm:"column:purchase_created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RevenueShare) TableName() string {
	return "revenue_shares"
}

// PayoutRequest is a photographer's withdrawal. Amount never changes after creation.
type PayoutRequest struct {
	ID             string          `gorm:"column:id;primaryKey;size:190;not null"`
	PhotographerID string          `gorm:"column:photographer_id;size:190;not null;index"`
	Amount         decimal.Decimal `gorm:"column:amount;type:text;not null"`
	Status         PayoutStatus    `gorm:"column:status;size:32;not null;default:'pending'"`
	PixKey         string          `gorm:"column:pix_key;size:190;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PayoutRequest) TableName() string {
	return "payout_requests"
}

// PixChangeRequest is the single pending PIX key change of a photographer.
// A newer request overwrites the row, which supersedes the earlier one.
type PixChangeRequest struct {
	PhotographerID string    `gorm:"column:photographer_id;primaryKey;size:190;not null"`
	RequestID      string    `gorm:"column:request_id;size:190;not null"`
	PendingKey     string    `gorm:"column:pending_key;size:190;not null"`
	RequestedAt    time.Time `gorm:"column:requested_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PixChangeRequest) TableName() string {
	return "pix_change_requests"
}
