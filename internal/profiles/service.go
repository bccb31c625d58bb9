package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("profiles: invalid identity")
	// ErrProfileNotFound indicates no profile exists for the identifier.
	ErrProfileNotFound = errors.New("profiles: profile not found")
)

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maps TAuth sessions onto marketplace profiles.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("profiles: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Resolve returns the profile for the session claims, creating it on first sight.
// The stored role is authoritative once the profile exists; display fields are refreshed.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (Profile, error) {
	subject := deriveSubject(claims)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}

	if cached, ok := s.cache.Load(subject); ok {
		if profileID, ok := cached.(string); ok {
			return s.Get(ctx, profileID)
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("subject = ?", subject).Take(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = Profile{
			ID:          subject,
			Subject:     subject,
			Role:        roleFromClaims(claims.UserRoles),
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return Profile{}, err
			}
			// A concurrent request created the profile first.
			if err := s.db.WithContext(ctx).Where("subject = ?", subject).Take(&profile).Error; err != nil {
				return Profile{}, err
			}
		}
	case err != nil:
		return Profile{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != profile.Email {
			updates["email"] = email
			profile.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != profile.DisplayName {
			updates["display_name"] = display
			profile.DisplayName = display
		}
		if err := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", profile.ID).Updates(updates).Error; err != nil {
			return Profile{}, err
		}
	}

	s.cache.Store(subject, profile.ID)
	return profile, nil
}

// Get loads a profile by identifier.
func (s *Service) Get(ctx context.Context, profileID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", profileID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// deriveSubject strips an optional "provider:" prefix from the TAuth user id.
func deriveSubject(claims auth.SessionClaims) string {
	raw := normalize(claims.UserID)
	if raw == "" {
		raw = normalize(claims.Subject)
	}
	if strings.Contains(raw, ":") {
		segments := strings.SplitN(raw, ":", 2)
		if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
			return normalize(segments[1])
		}
	}
	return raw
}
