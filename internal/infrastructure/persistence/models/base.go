package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TeamModel provides the columns shared by team-scoped documents.
// Version is bumped by the server on every write. Document numbers are unique
// per team; the composite index lives in the SQL migrations.
type TeamModel struct {
	BaseModel
	TeamID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Version int       `gorm:"not null;default:1"`
}
