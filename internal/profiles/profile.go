package profiles

import (
	"strings"
	"time"
)

// Role enumerates the marketplace roles a profile may hold.
type Role string

const (
	RoleAttendee     Role = "attendee"
	RolePhotographer Role = "photographer"
	RoleAdmin        Role = "admin"
)

// Profile is the canonical marketplace identity behind a TAuth session.
type Profile struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Subject     string    `gorm:"column:subject;size:190;not null;uniqueIndex"`
	Role        Role      `gorm:"column:role;size:32;not null;default:'attendee'"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	PixKey      string    `gorm:"column:pix_key;size:190;not null;default:''"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// IsPhotographer reports whether the profile may sell photos and receive payouts.
func (p Profile) IsPhotographer() bool {
	return p.Role == RolePhotographer
}

// IsAdmin reports whether the profile holds the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// roleFromClaims picks the strongest role present in the session: admin, then photographer.
func roleFromClaims(roles []string) Role {
	resolved := RoleAttendee
	for _, raw := range roles {
		switch Role(strings.ToLower(normalize(raw))) {
		case RoleAdmin:
			return RoleAdmin
		case RolePhotographer:
			resolved = RolePhotographer
		}
	}
	return resolved
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
