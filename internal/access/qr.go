package access

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// qrTokenLength is the number of hex characters kept from the HMAC signature.
const qrTokenLength = 32

// SignQrToken derives the opaque QR token for a photographer at issuedAt.
func SignQrToken(secret []byte, photographerID string, issuedAt time.Time) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(photographerID + ":" + strconv.FormatInt(issuedAt.UnixNano(), 10)))
	return hex.EncodeToString(mac.Sum(nil))[:qrTokenLength]
}

// IssueQrToken creates or replaces the photographer's QR token.
func (s *Service) IssueQrToken(ctx context.Context, photographerID string) (PhotographerQrToken, error) {
	db := s.db.WithContext(ctx)
	var profile profiles.Profile
	err := db.Where("id = ?", photographerID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PhotographerQrToken{}, profiles.ErrProfileNotFound
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opIssueQrToken, "profile_query_failed", err)
		return PhotographerQrToken{}, serviceerr.New(opIssueQrToken, "profile_query_failed", err)
	}
	if !profile.IsPhotographer() {
		return PhotographerQrToken{}, ErrNotPhotographer
	}

	now := s.clock().UTC()
	record := PhotographerQrToken{
		PhotographerID: photographerID,
		Token:          SignQrToken(s.qrSecret, photographerID, now),
		CreatedAt:      now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "photographer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "created_at"}),
	}).Create(&record).Error; err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opIssueQrToken, "upsert_failed", err, zap.String("photographer_id", photographerID))
		return PhotographerQrToken{}, serviceerr.New(opIssueQrToken, "upsert_failed", err)
	}
	return record, nil
}

// CurrentQrToken returns the photographer's token, issuing one on first use.
func (s *Service) CurrentQrToken(ctx context.Context, photographerID string) (PhotographerQrToken, error) {
	var record PhotographerQrToken
	err := s.db.WithContext(ctx).Where("photographer_id = ?", photographerID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.IssueQrToken(ctx, photographerID)
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opIssueQrToken, "token_query_failed", err, zap.String("photographer_id", photographerID))
		return PhotographerQrToken{}, serviceerr.New(opIssueQrToken, "token_query_failed", err)
	}
	return record, nil
}

// QrValidation is the answer to one QR scan.
type QrValidation struct {
	Valid            bool
	Reason           Outcome
	Approved         bool
	AlreadyConfirmed bool
	ConfirmedAt      *time.Time
	Photographer     *Photographer
	Application      *catalog.EventApplication
}

// ValidateQr resolves a scanned token to its photographer and reports whether they may be
// checked in at the campaign.
func (s *Service) ValidateQr(ctx context.Context, token, campaignID, sessionID string) (QrValidation, error) {
	db := s.db.WithContext(ctx)
	outcome, err := s.sessionFor(db, sessionID, campaignID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opValidateQr, "session_check_failed", err, zap.String("session_id", sessionID))
		return QrValidation{}, serviceerr.New(opValidateQr, "session_check_failed", err)
	}
	if outcome != OutcomeValid {
		return QrValidation{Reason: outcome}, nil
	}

	var binding PhotographerQrToken
	err = db.Where("token = ?", strings.TrimSpace(token)).Take(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QrValidation{Reason: OutcomeInvalid}, nil
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opValidateQr, "token_query_failed", err)
		return QrValidation{}, serviceerr.New(opValidateQr, "token_query_failed", err)
	}

	var profile profiles.Profile
	err = db.Where("id = ?", binding.PhotographerID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QrValidation{Reason: OutcomeInvalid}, nil
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opValidateQr, "profile_query_failed", err)
		return QrValidation{}, serviceerr.New(opValidateQr, "profile_query_failed", err)
	}
	if !profile.IsPhotographer() {
		return QrValidation{Reason: OutcomeInvalid}, nil
	}

	result := QrValidation{
		Valid:        true,
		Reason:       OutcomeValid,
		Photographer: &Photographer{ID: profile.ID, DisplayName: profile.DisplayName, Email: profile.Email},
	}

	application, err := findApplication(db, campaignID, profile.ID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opValidateQr, "application_query_failed", err)
		return QrValidation{}, serviceerr.New(opValidateQr, "application_query_failed", err)
	}
	if application != nil {
		result.Application = application
		result.Approved = application.Approved()
	}

	existing, err := findAttendance(db, campaignID, profile.ID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opValidateQr, "attendance_query_failed", err)
		return QrValidation{}, serviceerr.New(opValidateQr, "attendance_query_failed", err)
	}
	if existing != nil {
		confirmedAt := existing.ConfirmedAt
		result.AlreadyConfirmed = true
		result.ConfirmedAt = &confirmedAt
	}
	return result, nil
}

// Confirmation is the answer to one attendance confirmation.
type Confirmation struct {
	Success    bool
	Reason     Outcome
	Attendance *EventAttendance
}

// ConfirmAttendance records the photographer as present at the campaign. Repeated calls for
// the same pair report already_confirmed with the original record and never insert twice.
func (s *Service) ConfirmAttendance(ctx context.Context, photographerID, campaignID, sessionID string) (Confirmation, error) {
	db := s.db.WithContext(ctx)
	outcome, err := s.sessionFor(db, sessionID, campaignID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opConfirmAttendance, "session_check_failed", err, zap.String("session_id", sessionID))
		return Confirmation{}, serviceerr.New(opConfirmAttendance, "session_check_failed", err)
	}
	if outcome != OutcomeValid {
		return Confirmation{Reason: outcome}, nil
	}

	existing, err := findAttendance(db, campaignID, photographerID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opConfirmAttendance, "attendance_query_failed", err)
		return Confirmation{}, serviceerr.New(opConfirmAttendance, "attendance_query_failed", err)
	}
	if existing != nil {
		return Confirmation{Reason: OutcomeAlreadyConfirmed, Attendance: existing}, nil
	}

	application, err := findApplication(db, campaignID, photographerID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opConfirmAttendance, "application_query_failed", err)
		return Confirmation{}, serviceerr.New(opConfirmAttendance, "application_query_failed", err)
	}
	if application == nil || !application.Approved() {
		return Confirmation{Reason: OutcomeNotApproved}, nil
	}

	attendanceID, err := s.idProvider.NewID()
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opConfirmAttendance, "id_generation_failed", err)
		return Confirmation{}, serviceerr.New(opConfirmAttendance, "id_generation_failed", err)
	}
	attendance := EventAttendance{
		ID:               attendanceID,
		CampaignID:       campaignID,
		PhotographerID:   photographerID,
		MesarioSessionID: sessionID,
		ConfirmedAt:      s.clock().UTC(),
	}
	err = db.Create(&attendance).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent scan won the insert.
		winner, findErr := findAttendance(db, campaignID, photographerID)
		if findErr != nil || winner == nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opConfirmAttendance, "attendance_reread_failed", findErr)
			return Confirmation{}, serviceerr.New(opConfirmAttendance, "attendance_reread_failed", findErr)
		}
		return Confirmation{Reason: OutcomeAlreadyConfirmed, Attendance: winner}, nil
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opConfirmAttendance, "insert_failed", err)
		return Confirmation{}, serviceerr.New(opConfirmAttendance, "insert_failed", err)
	}

	s.logger.Info("attendance confirmed",
		zap.String("campaign_id", campaignID),
		zap.String("photographer_id", photographerID),
		zap.String("session_id", sessionID))
	if s.publisher != nil {
		s.publisher.PublishAttendance(attendance)
	}
	return Confirmation{Success: true, Reason: OutcomeConfirmed, Attendance: &attendance}, nil
}

// sessionFor checks the mesário session and that it belongs to campaignID.
func (s *Service) sessionFor(db *gorm.DB, sessionID, campaignID string) (Outcome, error) {
	session, outcome, err := s.loadSession(db, sessionID)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeValid && session.CampaignID != campaignID {
		return OutcomeInvalid, nil
	}
	return outcome, nil
}

func findApplication(db *gorm.DB, campaignID, photographerID string) (*catalog.EventApplication, error) {
	var application catalog.EventApplication
	err := db.Where("campaign_id = ? AND photographer_id = ?", campaignID, photographerID).Take(&application).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &application, nil
}

func findAttendance(db *gorm.DB, campaignID, photographerID string) (*EventAttendance, error) {
	var attendance EventAttendance
	err := db.Where("campaign_id = ? AND photographer_id = ?", campaignID, photographerID).Take(&attendance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attendance, nil
}
