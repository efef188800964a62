package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Genre struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null;uniqueIndex:genres_name_key"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Genre) TableName() string { return "genres" }

func (g *Genre) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
