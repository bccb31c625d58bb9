package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/serviceerr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew        = "payouts.service.new"
	opBalance           = "payouts.balance"
	opRequestPayout     = "payouts.request_payout"
	opTransitionPayout  = "payouts.transition_payout"
	opListPayouts       = "payouts.list_payouts"
	opRequestPixChange  = "payouts.request_pix_change"
	opPixChangeStatus   = "payouts.pix_change_status"
	opApplyPixChanges   = "payouts.apply_pix_changes"
	serviceErrorMessage = "payouts service error"
)

var (
	// ErrInvalidAmount indicates a payout amount that is not a positive number of cents.
	ErrInvalidAmount = errors.New("payouts: invalid amount")
	// ErrInsufficientBalance indicates the amount exceeds the available balance.
	ErrInsufficientBalance = errors.New("payouts: amount exceeds available balance")
	// ErrMissingPixKey indicates the photographer has no active PIX key.
	ErrMissingPixKey = errors.New("payouts: photographer has no pix key")
	// ErrNotPhotographer indicates the profile cannot receive payouts.
	ErrNotPhotographer = errors.New("payouts: profile is not a photographer")
	// ErrPayoutNotFound indicates the payout request does not exist.
	ErrPayoutNotFound = errors.New("payouts: payout request not found")
	// ErrInvalidTransition indicates the requested status does not follow the current one.
	ErrInvalidTransition = errors.New("payouts: invalid status transition")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

var nextPayoutStatus = map[PayoutStatus]PayoutStatus{
	PayoutPending:  PayoutApproved,
	PayoutApproved: PayoutCompleted,
}

// ServiceConfig wires the payout service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Location   *time.Location
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns balances, payout requests and PIX key changes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	location   *time.Location
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		location:   location,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Balance returns the photographer's current balance.
func (s *Service) Balance(ctx context.Context, photographerID string) (Balance, error) {
	balance, err := s.balance(s.db.WithContext(ctx), photographerID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opBalance, "query_failed", err, zap.String("photographer_id", photographerID))
		return Balance{}, serviceerr.New(opBalance, "query_failed", err)
	}
	return balance, nil
}

func (s *Service) balance(db *gorm.DB, photographerID string) (Balance, error) {
	var records []RevenueShare
	if err := db.Where("photographer_id = ? AND purchase_status = ?", photographerID, PurchaseCompleted).
		Find(&records).Error; err != nil {
		return Balance{}, err
	}
	var requests []PayoutRequest
	if err := db.Where("photographer_id = ?", photographerID).Find(&requests).Error; err != nil {
		return Balance{}, err
	}
	return ComputeBalance(records, requests, s.clock().UTC()), nil
}

// RequestPayout reserves amount from the available balance as a pending payout.
func (s *Service) RequestPayout(ctx context.Context, photographerID string, amount decimal.Decimal) (PayoutRequest, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return PayoutRequest{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	var created PayoutRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := loadPhotographer(tx, photographerID)
		if err != nil {
			return err
		}
		if profile.PixKey == "" {
			return ErrMissingPixKey
		}

		balance, err := s.balance(tx, photographerID)
		if err != nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opRequestPayout, "balance_failed", err, zap.String("photographer_id", photographerID))
			return serviceerr.New(opRequestPayout, "balance_failed", err)
		}
		if amount.GreaterThan(balance.AvailableAmount) {
			return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount.StringFixed(2), balance.AvailableAmount.StringFixed(2))
		}

		payoutID, err := s.idProvider.NewID()
		if err != nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opRequestPayout, "id_generation_failed", err)
			return serviceerr.New(opRequestPayout, "id_generation_failed", err)
		}
		now := s.clock().UTC()
		created = PayoutRequest{
			ID:             payoutID,
			PhotographerID: photographerID,
			Amount:         amount,
			Status:         PayoutPending,
			PixKey:         profile.PixKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&created).Error; err != nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opRequestPayout, "insert_failed", err, zap.String("photographer_id", photographerID))
			return serviceerr.New(opRequestPayout, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return PayoutRequest{}, err
	}
	s.logger.Info("payout requested",
		zap.String("payout_id", created.ID),
		zap.String("photographer_id", photographerID),
		zap.String("amount", created.Amount.StringFixed(2)))
	return created, nil
}

// TransitionPayout moves a payout one step along pending → approved → completed.
func (s *Service) TransitionPayout(ctx context.Context, payoutID string, next PayoutStatus) (PayoutRequest, error) {
	var updated PayoutRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current PayoutRequest
		err := tx.Where("id = ?", payoutID).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPayoutNotFound
		}
		if err != nil {
			return serviceerr.New(opTransitionPayout, "query_failed", err)
		}
		if nextPayoutStatus[current.Status] != next {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, next)
		}
		now := s.clock().UTC()
		result := tx.Model(&PayoutRequest{}).
			Where("id = ? AND status = ?", payoutID, current.Status).
			Updates(map[string]interface{}{"status": next, "updated_at": now})
		if result.Error != nil {
			return serviceerr.New(opTransitionPayout, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}
		current.Status = next
		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		if serviceerr.Code(err) != "" {
			serviceerr.Log(s.logger, serviceErrorMessage, opTransitionPayout, "transition_failed", err, zap.String("payout_id", payoutID))
		}
		return PayoutRequest{}, err
	}
	s.logger.Info("payout status changed", zap.String("payout_id", payoutID), zap.String("status", string(next)))
	return updated, nil
}

// ListPayouts returns a photographer's payout requests, newest first.
func (s *Service) ListPayouts(ctx context.Context, photographerID string) ([]PayoutRequest, error) {
	var requests []PayoutRequest
	if err := s.db.WithContext(ctx).
		Where("photographer_id = ?", photographerID).
		Order("created_at DESC").
		Find(&requests).Error; err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opListPayouts, "query_failed", err, zap.String("photographer_id", photographerID))
		return nil, serviceerr.New(opListPayouts, "query_failed", err)
	}
	return requests, nil
}

// PixStatus describes the active key and any change still inside its waiting window.
type PixStatus struct {
	ActiveKey        string
	PendingKey       string
	RequestedAt      *time.Time
	DaysUntilApplied int
}

// RequestPixChange records a new PIX key. A first key is applied at once; later changes wait
// RequiredBusinessDays and replace any change requested before them.
func (s *Service) RequestPixChange(ctx context.Context, photographerID, rawKey string) (PixStatus, error) {
	key, err := NormalizePixKey(rawKey)
	if err != nil {
		return PixStatus{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := loadPhotographer(tx, photographerID)
		if err != nil {
			return err
		}
		if profile.PixKey == "" || profile.PixKey == key {
			if err := tx.Where("photographer_id = ?", photographerID).Delete(&PixChangeRequest{}).Error; err != nil {
				return serviceerr.New(opRequestPixChange, "delete_failed", err)
			}
			if err := tx.Model(&profiles.Profile{}).Where("id = ?", photographerID).Update("pix_key", key).Error; err != nil {
				return serviceerr.New(opRequestPixChange, "profile_update_failed", err)
			}
			return nil
		}

		requestID, err := s.idProvider.NewID()
		if err != nil {
			return serviceerr.New(opRequestPixChange, "id_generation_failed", err)
		}
		pending := PixChangeRequest{
			PhotographerID: photographerID,
			RequestID:      requestID,
			PendingKey:     key,
			RequestedAt:    s.clock().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "photographer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"request_id", "pending_key", "requested_at"}),
		}).Create(&pending).Error; err != nil {
			return serviceerr.New(opRequestPixChange, "upsert_failed", err)
		}
		return nil
	})
	if err != nil {
		if serviceerr.Code(err) != "" {
			serviceerr.Log(s.logger, serviceErrorMessage, opRequestPixChange, "request_failed", err, zap.String("photographer_id", photographerID))
		}
		return PixStatus{}, err
	}
	return s.PixChangeStatus(ctx, photographerID)
}

// PixChangeStatus reports the active key and the pending change countdown.
func (s *Service) PixChangeStatus(ctx context.Context, photographerID string) (PixStatus, error) {
	db := s.db.WithContext(ctx)
	profile, err := loadPhotographer(db, photographerID)
	if err != nil {
		return PixStatus{}, err
	}
	status := PixStatus{ActiveKey: profile.PixKey}

	var pending PixChangeRequest
	err = db.Where("photographer_id = ?", photographerID).Take(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return status, nil
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opPixChangeStatus, "query_failed", err, zap.String("photographer_id", photographerID))
		return PixStatus{}, serviceerr.New(opPixChangeStatus, "query_failed", err)
	}
	requestedAt := pending.RequestedAt
	status.PendingKey = pending.PendingKey
	status.RequestedAt = &requestedAt
	status.DaysUntilApplied = DaysUntilChangeApplied(pending.RequestedAt, s.clock(), s.location)
	return status, nil
}

// ApplyDuePixChanges promotes every pending key whose window has elapsed and returns how many
// were applied. Each application deletes exactly the request row it read, so a request that was
// superseded or already applied elsewhere is skipped.
func (s *Service) ApplyDuePixChanges(ctx context.Context) (int, error) {
	var pending []PixChangeRequest
	if err := s.db.WithContext(ctx).Find(&pending).Error; err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opApplyPixChanges, "query_failed", err)
		return 0, serviceerr.New(opApplyPixChanges, "query_failed", err)
	}

	now := s.clock()
	applied := 0
	for _, request := range pending {
		if DaysUntilChangeApplied(request.RequestedAt, now, s.location) > 0 {
			continue
		}
		claimed := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Where("photographer_id = ? AND request_id = ?", request.PhotographerID, request.RequestID).
				Delete(&PixChangeRequest{})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}
			claimed = true
			return tx.Model(&profiles.Profile{}).
				Where("id = ?", request.PhotographerID).
				Update("pix_key", request.PendingKey).Error
		})
		if err != nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opApplyPixChanges, "apply_failed", err,
				zap.String("photographer_id", request.PhotographerID))
			return applied, serviceerr.New(opApplyPixChanges, "apply_failed", err)
		}
		if claimed {
			applied++
			s.logger.Info("pix key change applied",
				zap.String("photographer_id", request.PhotographerID),
				zap.String("request_id", request.RequestID))
		}
	}
	return applied, nil
}

func loadPhotographer(db *gorm.DB, photographerID string) (profiles.Profile, error) {
	var profile profiles.Profile
	err := db.Where("id = ?", photographerID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return profiles.Profile{}, profiles.ErrProfileNotFound
	}
	if err != nil {
		return profiles.Profile{}, err
	}
	if !profile.IsPhotographer() {
		return profiles.Profile{}, ErrNotPhotographer
	}
	return profile, nil
}
