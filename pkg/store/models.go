package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID             string `gorm:"primaryKey"`
	Title          string `gorm:"not null"`
	CoverKey       string
	FileKey        string         `gorm:"not null"`
	FolderID       *string        `gorm:"index"`
	Folder         *FolderModel   `gorm:"foreignKey:FolderID;constraint:OnDelete:RESTRICT"`
	Downloads      int64          `gorm:"not null;default:0"`
	TTSHits        int64          `gorm:"not null;default:0"`
	Content        string         `gorm:"type:text"`
	Chapters       datatypes.JSON `gorm:"type:jsonb"`
	Words          int            `gorm:"not null;default:0"`
	TotalPages     int            `gorm:"not null"`
	ProcessedPages int            `gorm:"not null"`
	Status         string         `gorm:"not null"`
	Summary        string
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type FolderModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
