package faces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew         = "faces.service.new"
	opSearch             = "faces.search"
	opReplacePhotoFaces  = "faces.replace_photo_faces"
	opReplaceUserFaces   = "faces.replace_user_faces"
	opListUserFaces      = "faces.list_user_faces"
	maxDescriptorsPerSet = 20
)

var (
	// ErrPhotoNotFound indicates the target photo does not exist.
	ErrPhotoNotFound = errors.New("faces: photo not found")
	// ErrNotPhotoOwner indicates the caller did not take the photo.
	ErrNotPhotoOwner = errors.New("faces: caller does not own photo")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceConfig wires the face matching service. A nil DefaultThreshold uses DefaultThreshold.
type ServiceConfig struct {
	Database         *gorm.DB
	DefaultThreshold *float64
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Service searches stored photo faces and keeps user descriptor backups.
type Service struct {
	db               *gorm.DB
	defaultThreshold float64
	clock            func() time.Time
	logger           *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	threshold := DefaultThreshold
	if cfg.DefaultThreshold != nil {
		threshold = *cfg.DefaultThreshold
	}
	if err := ValidateThreshold(threshold); err != nil {
		return nil, serviceerr.New(opServiceNew, "invalid_threshold", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:               cfg.Database,
		defaultThreshold: threshold,
		clock:            clock,
		logger:           logger,
	}, nil
}

// SearchRequest describes a face search. A nil Threshold uses the service default.
type SearchRequest struct {
	Descriptors [][]float64
	CampaignID  string
	Threshold   *float64
}

// Match is one ranked photo hit.
type Match struct {
	PhotoID      string  `json:"photo_id"`
	Similarity   float64 `json:"similarity"`
	PhotoURL     string  `json:"photo_url"`
	CampaignID   string  `json:"campaign_id"`
	CampaignName string  `json:"campaign_name"`
}

// Search scores every probe against the stored faces and returns the best photos first.
func (s *Service) Search(ctx context.Context, request SearchRequest) ([]Match, error) {
	probes, err := parseDescriptorSet(request.Descriptors)
	if err != nil {
		return nil, err
	}
	if len(probes) == 0 {
		return nil, fmt.Errorf("%w: at least one descriptor is required", ErrInvalidInput)
	}
	threshold := s.defaultThreshold
	if request.Threshold != nil {
		threshold = *request.Threshold
	}
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&PhotoFace{})
	if request.CampaignID != "" {
		query = query.Where("campaign_id = ?", request.CampaignID)
	}
	var stored []PhotoFace
	if err := query.Find(&stored).Error; err != nil {
		serviceerr.Log(s.logger, "faces service error", opSearch, "face_query_failed", err)
		return nil, serviceerr.New(opSearch, "face_query_failed", err)
	}

	candidates := make([]Candidate, 0, len(stored))
	for _, face := range stored {
		descriptor, err := NewDescriptor(face.Descriptor)
		if err != nil {
			s.logger.Warn("skipping malformed stored descriptor",
				zap.Int64("face_id", face.ID), zap.String("photo_id", face.PhotoID), zap.Error(err))
			continue
		}
		candidates = append(candidates, Candidate{ID: face.PhotoID, Descriptor: descriptor})
	}

	perProbe := make([][]Scored, 0, len(probes))
	for _, probe := range probes {
		scores, err := scoreMatches(probe, candidates, threshold)
		if err != nil {
			return nil, err
		}
		perProbe = append(perProbe, scores)
	}
	ranked := sortAndCap(bestPerID(perProbe...))
	if len(ranked) == 0 {
		return []Match{}, nil
	}

	return s.hydrate(ctx, ranked)
}

func (s *Service) hydrate(ctx context.Context, ranked []Scored) ([]Match, error) {
	photoIDs := make([]string, 0, len(ranked))
	for _, entry := range ranked {
		photoIDs = append(photoIDs, entry.ID)
	}
	var photos []catalog.Photo
	if err := s.db.WithContext(ctx).Where("id IN ?", photoIDs).Find(&photos).Error; err != nil {
		serviceerr.Log(s.logger, "faces service error", opSearch, "photo_query_failed", err)
		return nil, serviceerr.New(opSearch, "photo_query_failed", err)
	}
	photosByID := make(map[string]catalog.Photo, len(photos))
	campaignIDs := make([]string, 0, len(photos))
	for _, photo := range photos {
		photosByID[photo.ID] = photo
		campaignIDs = append(campaignIDs, photo.CampaignID)
	}
	var campaigns []catalog.Campaign
	if err := s.db.WithContext(ctx).Where("id IN ?", campaignIDs).Find(&campaigns).Error; err != nil {
		serviceerr.Log(s.logger, "faces service error", opSearch, "campaign_query_failed", err)
		return nil, serviceerr.New(opSearch, "campaign_query_failed", err)
	}
	campaignNames := make(map[string]string, len(campaigns))
	for _, campaign := range campaigns {
		campaignNames[campaign.ID] = campaign.Name
	}

	matches := make([]Match, 0, len(ranked))
	for _, entry := range ranked {
		photo, ok := photosByID[entry.ID]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			PhotoID:      photo.ID,
			Similarity:   entry.Similarity,
			PhotoURL:     photo.URL,
			CampaignID:   photo.CampaignID,
			CampaignName: campaignNames[photo.CampaignID],
		})
	}
	return matches, nil
}

// ReplacePhotoFaces swaps the stored descriptors of a photo for a new set.
func (s *Service) ReplacePhotoFaces(ctx context.Context, photographerID, photoID string, raw [][]float64) error {
	descriptors, err := parseDescriptorSet(raw)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var photo catalog.Photo
		err := tx.Where("id = ?", photoID).Take(&photo).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPhotoNotFound
		}
		if err != nil {
			serviceerr.Log(s.logger, "faces service error", opReplacePhotoFaces, "photo_query_failed", err, zap.String("photo_id", photoID))
			return serviceerr.New(opReplacePhotoFaces, "photo_query_failed", err)
		}
		if photo.PhotographerID != photographerID {
			return ErrNotPhotoOwner
		}
		if err := tx.Where("photo_id = ?", photoID).Delete(&PhotoFace{}).Error; err != nil {
			serviceerr.Log(s.logger, "faces service error", opReplacePhotoFaces, "delete_failed", err, zap.String("photo_id", photoID))
			return serviceerr.New(opReplacePhotoFaces, "delete_failed", err)
		}
		if len(descriptors) == 0 {
			return nil
		}
		rows := make([]PhotoFace, 0, len(descriptors))
		for _, descriptor := range descriptors {
			rows = append(rows, PhotoFace{
				PhotoID:    photo.ID,
				CampaignID: photo.CampaignID,
				Descriptor: datatypes.NewJSONSlice([]float64(descriptor)),
				CreatedAt:  s.clock().UTC(),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			serviceerr.Log(s.logger, "faces service error", opReplacePhotoFaces, "insert_failed", err, zap.String("photo_id", photoID))
			return serviceerr.New(opReplacePhotoFaces, "insert_failed", err)
		}
		return nil
	})
}

// ReplaceUserFaces restores a user's descriptor backup, replacing whatever was stored.
func (s *Service) ReplaceUserFaces(ctx context.Context, userID string, raw [][]float64) error {
	descriptors, err := parseDescriptorSet(raw)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&UserFace{}).Error; err != nil {
			serviceerr.Log(s.logger, "faces service error", opReplaceUserFaces, "delete_failed", err, zap.String("user_id", userID))
			return serviceerr.New(opReplaceUserFaces, "delete_failed", err)
		}
		if len(descriptors) == 0 {
			return nil
		}
		rows := make([]UserFace, 0, len(descriptors))
		for _, descriptor := range descriptors {
			rows = append(rows, UserFace{
				UserID:     userID,
				Descriptor: datatypes.NewJSONSlice([]float64(descriptor)),
				CreatedAt:  s.clock().UTC(),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			serviceerr.Log(s.logger, "faces service error", opReplaceUserFaces, "insert_failed", err, zap.String("user_id", userID))
			return serviceerr.New(opReplaceUserFaces, "insert_failed", err)
		}
		return nil
	})
}

// UserFaces returns a user's stored descriptors in insertion order.
func (s *Service) UserFaces(ctx context.Context, userID string) ([]Descriptor, error) {
	var rows []UserFace
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		serviceerr.Log(s.logger, "faces service error", opListUserFaces, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opListUserFaces, "query_failed", err)
	}
	descriptors := make([]Descriptor, 0, len(rows))
	for _, row := range rows {
		descriptor, err := NewDescriptor(row.Descriptor)
		if err != nil {
			return nil, serviceerr.New(opListUserFaces, "corrupt_descriptor", err)
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

func parseDescriptorSet(raw [][]float64) ([]Descriptor, error) {
	if len(raw) > maxDescriptorsPerSet {
		return nil, fmt.Errorf("%w: %d descriptors exceeds limit of %d", ErrInvalidInput, len(raw), maxDescriptorsPerSet)
	}
	descriptors := make([]Descriptor, 0, len(raw))
	for index, values := range raw {
		descriptor, err := NewDescriptor(values)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", index, err)
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}
