package model

import "time"

// Genre is a normalized (lowercased, trimmed) genre name, created on first use.
type Genre struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:255;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Genre) TableName() string { return "genres" }
