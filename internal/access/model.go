// Package access validates mesário access codes and photographer QR tokens and records
// event attendance.
package access

import (
	"time"
)

// Outcome names the result of a validation. Business outcomes are never reported as errors.
type Outcome string

const (
	OutcomeValid            Outcome = "valid"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeExpired          Outcome = "expired"
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeNotApproved      Outcome = "not_approved"
)

// MesarioSession is an access code issued to gate staff for one campaign.
// Rows are only ever deactivated, never otherwise mutated.
type MesarioSession struct {
	ID             string    `gorm:"column:id;primaryKey;size:190;not null"`
	Code           string    `gorm:"column:code;size:16;not null;uniqueIndex"`
	CampaignID     string    `gorm:"column:campaign_id;size:190;not null;index"`
	OrganizationID string    `gorm:"column:organization_id;size:190;not null"`
	ExpiresAt      time.Time `gorm:"column:expires_at;not null"`
	IsActive       bool      `gorm:"column:is_active;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MesarioSession) TableName() string {
	return "mesario_sessions"
}

// PhotographerQrToken binds one opaque token to one photographer.
type PhotographerQrToken struct {
	PhotographerID string    `gorm:"column:photographer_id;primaryKey;size:190;not null"`
	Token          string    `gorm:"column:token;size:64;not null;uniqueIndex"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PhotographerQrToken) TableName() string {
	return "photographer_qr_tokens"
}

// EventAttendance is the single terminal record of a photographer checked in at a campaign.
type EventAttendance struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null"`
	CampaignID       string    `gorm:"column:campaign_id;size:190;not null;uniqueIndex:idx_event_attendance_campaign_photographer"`
	PhotographerID   string    `gorm:"column:photographer_id;size:190;not null;uniqueIndex:idx_event_attendance_campaign_photographer"`
	MesarioSessionID string    `gorm:"column:mesario_session_id;size:190;not null"`
	ConfirmedAt      time.Time `gorm:"column:confirmed_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventAttendance) TableName() string {
	return "event_attendance"
}

// Photographer is the public view of an approved photographer shown to gate staff.
type Photographer struct {
	ID          string
	DisplayName string
	Email       string
}
