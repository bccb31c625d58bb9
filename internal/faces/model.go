package faces

import (
	"time"

	"gorm.io/datatypes"
)

// PhotoFace stores one detected face of a campaign photo.
type PhotoFace struct {
	ID         int64                        `gorm:"column:id;primaryKey;autoIncrement"`
	PhotoID    string                       `gorm:"column:photo_id;size:190;not null;index"`
	CampaignID string                       `gorm:"column:campaign_id;size:190;not null;index"`
	Descriptor datatypes.JSONSlice[float64] `gorm:"column:descriptor;not null"`
	CreatedAt  time.Time
}

// TableName provides the explicit table binding for GORM.
func (PhotoFace) TableName() string {
	return "photo_faces"
}

// UserFace stores a descriptor a user captured of themselves for later searches.
type UserFace struct {
	ID         int64                        `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string                       `gorm:"column:user_id;size:190;not null;index"`
	Descriptor datatypes.JSONSlice[float64] `gorm:"column:descriptor;not null"`
	CreatedAt  time.Time
}

// TableName provides the explicit table binding for GORM.
func (UserFace) TableName() string {
	return "user_faces"
}
