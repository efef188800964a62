package models

import "time"

// Author is identified by a sequential number, exposed to callers as authorNumber.
type Author struct {
	Number    int64     `gorm:"column:number;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(255);not null;uniqueIndex:authors_name_key"`
	Bio       string    `gorm:"column:bio;type:text"`
	PhotoURI  *string   `gorm:"column:photo_uri;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Author) TableName() string { return "authors" }
