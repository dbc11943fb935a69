package store

import "time"

// BookModel is the GORM model backing the canonical book table.
type BookModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null"`
	Author          string `gorm:"not null"`
	PublicationYear int    `gorm:"not null"`
	ISBN            string `gorm:"column:isbn;uniqueIndex;not null"`
	Thumbnail       string `gorm:"not null"`
	Description     string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}
