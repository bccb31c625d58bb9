package access

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// CodeLength is the number of characters in a mesário access code.
	CodeLength = 6
	// codeAlphabet omits I, O, 0 and 1. Its 32 symbols divide 256, so byte masking is unbiased.
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts = 5

	opServiceNew        = "access.service.new"
	opIssueAccessCode   = "access.issue_access_code"
	opLogin             = "access.login"
	opCheckSession      = "access.check_session"
	opIssueQrToken      = "access.issue_qr_token"
	opValidateQr        = "access.validate_qr"
	opConfirmAttendance = "access.confirm_attendance"
	serviceErrorMessage = "access service error"
)

var (
	// ErrCampaignNotFound indicates the access code targets an unknown campaign.
	ErrCampaignNotFound = errors.New("access: campaign not found")
	// ErrOrganizationMismatch indicates the organization does not run the campaign.
	ErrOrganizationMismatch = errors.New("access: organization does not own campaign")
	// ErrInvalidExpiry indicates an access code expiry that is not in the future.
	ErrInvalidExpiry = errors.New("access: expiry must be in the future")
	// ErrNotPhotographer indicates a QR token was requested for a non-photographer profile.
	ErrNotPhotographer = errors.New("access: profile is not a photographer")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingQrSecret   = errors.New("qr signing secret is required")
	errMissingTokens     = errors.New("mesario token signer is required")
	errCodeSpaceBusy     = errors.New("could not allocate a unique access code")
)

// TokenSigner issues the bearer token a mesário presents on every scan.
type TokenSigner interface {
	Issue(sessionID, campaignID string, notAfter time.Time) (string, time.Time, error)
}

// AttendancePublisher receives every newly confirmed attendance.
type AttendancePublisher interface {
	PublishAttendance(attendance EventAttendance)
}

// ServiceConfig wires the access service.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   ids.Provider
	QrSecret     []byte
	Tokens       TokenSigner
	Publisher    AttendancePublisher
	RandomSource io.Reader
	Logger       *zap.Logger
}

// Service validates access codes and QR tokens against stored records on every call.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	qrSecret   []byte
	tokens     TokenSigner
	publisher  AttendancePublisher
	random     io.Reader
	logger     *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Database == nil:
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	case cfg.IDProvider == nil:
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	case len(cfg.QrSecret) == 0:
		return nil, serviceerr.New(opServiceNew, "missing_qr_secret", errMissingQrSecret)
	case cfg.Tokens == nil:
		return nil, serviceerr.New(opServiceNew, "missing_token_signer", errMissingTokens)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	random := cfg.RandomSource
	if random == nil {
		random = rand.Reader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		qrSecret:   append([]byte(nil), cfg.QrSecret...),
		tokens:     cfg.Tokens,
		publisher:  cfg.Publisher,
		random:     random,
		logger:     logger,
	}, nil
}

// NormalizeCode trims and upper-cases a human-entered access code.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// AccessCodeRequest describes a new mesário access code.
type AccessCodeRequest struct {
	CampaignID     string
	OrganizationID string
	ExpiresAt      time.Time
}

// IssueAccessCode creates an active access code for the campaign.
func (s *Service) IssueAccessCode(ctx context.Context, request AccessCodeRequest) (MesarioSession, error) {
	now := s.clock().UTC()
	if !request.ExpiresAt.After(now) {
		return MesarioSession{}, ErrInvalidExpiry
	}
	db := s.db.WithContext(ctx)

	var campaign catalog.Campaign
	err := db.Where("id = ?", strings.TrimSpace(request.CampaignID)).Take(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MesarioSession{}, ErrCampaignNotFound
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opIssueAccessCode, "campaign_query_failed", err)
		return MesarioSession{}, serviceerr.New(opIssueAccessCode, "campaign_query_failed", err)
	}
	organizationID := strings.TrimSpace(request.OrganizationID)
	if organizationID == "" {
		organizationID = campaign.OrganizationID
	}
	if organizationID != campaign.OrganizationID {
		return MesarioSession{}, ErrOrganizationMismatch
	}

	sessionID, err := s.idProvider.NewID()
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opIssueAccessCode, "id_generation_failed", err)
		return MesarioSession{}, serviceerr.New(opIssueAccessCode, "id_generation_failed", err)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generateCode()
		if err != nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opIssueAccessCode, "code_generation_failed", err)
			return MesarioSession{}, serviceerr.New(opIssueAccessCode, "code_generation_failed", err)
		}
		session := MesarioSession{
			ID:             sessionID,
			Code:           code,
			CampaignID:     campaign.ID,
			OrganizationID: organizationID,
			ExpiresAt:      request.ExpiresAt.UTC(),
			IsActive:       true,
			CreatedAt:      now,
		}
		err = db.Create(&session).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			serviceerr.Log(s.logger, serviceErrorMessage, opIssueAccessCode, "insert_failed", err)
			return MesarioSession{}, serviceerr.New(opIssueAccessCode, "insert_failed", err)
		}
		s.logger.Info("mesario access code issued",
			zap.String("session_id", session.ID),
			zap.String("campaign_id", session.CampaignID),
			zap.Time("expires_at", session.ExpiresAt))
		return session, nil
	}
	serviceerr.Log(s.logger, serviceErrorMessage, opIssueAccessCode, "code_space_busy", errCodeSpaceBusy)
	return MesarioSession{}, serviceerr.New(opIssueAccessCode, "code_space_busy", errCodeSpaceBusy)
}

func (s *Service) generateCode() (string, error) {
	raw := make([]byte, CodeLength)
	if _, err := io.ReadFull(s.random, raw); err != nil {
		return "", err
	}
	code := make([]byte, CodeLength)
	for index, value := range raw {
		code[index] = codeAlphabet[int(value)%len(codeAlphabet)]
	}
	return string(code), nil
}

// LoginResult is the answer to a mesário login attempt.
type LoginResult struct {
	Valid                 bool
	Reason                Outcome
	Session               MesarioSession
	Token                 string
	TokenExpiresAt        time.Time
	ApprovedPhotographers []Photographer
	ConfirmedAttendances  []EventAttendance
}

// Login validates an access code and, when valid, returns the campaign's gate roster and a
// bearer token for the scan endpoints.
func (s *Service) Login(ctx context.Context, rawCode string) (LoginResult, error) {
	code := NormalizeCode(rawCode)
	if len(code) != CodeLength {
		return LoginResult{Reason: OutcomeInvalid}, nil
	}
	db := s.db.WithContext(ctx)

	var session MesarioSession
	err := db.Where("code = ?", code).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LoginResult{Reason: OutcomeInvalid}, nil
	}
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opLogin, "query_failed", err)
		return LoginResult{}, serviceerr.New(opLogin, "query_failed", err)
	}

	outcome, err := s.checkLoaded(db, session)
	if err != nil {
		return LoginResult{}, serviceerr.New(opLogin, "deactivate_failed", err)
	}
	if outcome != OutcomeValid {
		return LoginResult{Reason: outcome}, nil
	}

	approved, err := s.approvedPhotographers(db, session.CampaignID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opLogin, "roster_query_failed", err, zap.String("campaign_id", session.CampaignID))
		return LoginResult{}, serviceerr.New(opLogin, "roster_query_failed", err)
	}
	var confirmed []EventAttendance
	if err := db.Where("campaign_id = ?", session.CampaignID).Order("confirmed_at ASC").Find(&confirmed).Error; err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opLogin, "attendance_query_failed", err, zap.String("campaign_id", session.CampaignID))
		return LoginResult{}, serviceerr.New(opLogin, "attendance_query_failed", err)
	}

	token, expiresAt, err := s.tokens.Issue(session.ID, session.CampaignID, session.ExpiresAt)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opLogin, "token_issue_failed", err)
		return LoginResult{}, serviceerr.New(opLogin, "token_issue_failed", err)
	}
	return LoginResult{
		Valid:                 true,
		Reason:                OutcomeValid,
		Session:               session,
		Token:                 token,
		TokenExpiresAt:        expiresAt,
		ApprovedPhotographers: approved,
		ConfirmedAttendances:  confirmed,
	}, nil
}

// CheckSession reports whether the mesário session behind a bearer token may still scan.
func (s *Service) CheckSession(ctx context.Context, sessionID string) (MesarioSession, Outcome, error) {
	session, outcome, err := s.loadSession(s.db.WithContext(ctx), sessionID)
	if err != nil {
		serviceerr.Log(s.logger, serviceErrorMessage, opCheckSession, "check_failed", err, zap.String("session_id", sessionID))
		return MesarioSession{}, "", serviceerr.New(opCheckSession, "check_failed", err)
	}
	return session, outcome, nil
}

func (s *Service) loadSession(db *gorm.DB, sessionID string) (MesarioSession, Outcome, error) {
	var session MesarioSession
	err := db.Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MesarioSession{}, OutcomeInvalid, nil
	}
	if err != nil {
		return MesarioSession{}, "", err
	}
	outcome, err := s.checkLoaded(db, session)
	if err != nil {
		return MesarioSession{}, "", err
	}
	return session, outcome, nil
}

// checkLoaded applies the expiry rule. An expired session is deactivated, which is terminal.
func (s *Service) checkLoaded(db *gorm.DB, session MesarioSession) (Outcome, error) {
	if session.IsActive && !s.clock().After(session.ExpiresAt) {
		return OutcomeValid, nil
	}
	if session.IsActive {
		if err := db.Model(&MesarioSession{}).
			Where("id = ? AND is_active = ?", session.ID, true).
			Update("is_active", false).Error; err != nil {
			return "", err
		}
		s.logger.Info("mesario session expired", zap.String("session_id", session.ID))
	}
	return OutcomeExpired, nil
}

func (s *Service) approvedPhotographers(db *gorm.DB, campaignID string) ([]Photographer, error) {
	var applications []catalog.EventApplication
	if err := db.Where("campaign_id = ? AND status = ?", campaignID, catalog.ApplicationApproved).
		Find(&applications).Error; err != nil {
		return nil, err
	}
	if len(applications) == 0 {
		return []Photographer{}, nil
	}
	photographerIDs := make([]string, 0, len(applications))
	for _, application := range applications {
		photographerIDs = append(photographerIDs, application.PhotographerID)
	}
	var records []profiles.Profile
	if err := db.Where("id IN ?", photographerIDs).Order("display_name ASC, id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	roster := make([]Photographer, 0, len(records))
	for _, record := range records {
		if !record.IsPhotographer() {
			continue
		}
		roster = append(roster, Photographer{ID: record.ID, DisplayName: record.DisplayName, Email: record.Email})
	}
	return roster, nil
}
