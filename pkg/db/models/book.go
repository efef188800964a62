package models

import "time"

// Book stores the genre by name, matching what callers send.
type Book struct {
	ISBN        string       `gorm:"column:isbn;type:varchar(13);primaryKey"`
	Title       string       `gorm:"column:title;type:varchar(255);not null"`
	Description string       `gorm:"column:description;type:text"`
	GenreName   string       `gorm:"column:genre_name;type:varchar(255);not null"`
	PhotoURI    *string      `gorm:"column:photo_uri;type:text"`
	Authors     []BookAuthor `gorm:"foreignKey:BookISBN;references:ISBN;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time    `gorm:"column:created_at;autoCreateTime"`
}

func (Book) TableName() string { return "books" }

// AuthorNumbers returns the author references in insertion order.
func (b Book) AuthorNumbers() []int64 {
	out := make([]int64, 0, len(b.Authors))
	for _, a := range b.Authors {
		out = append(out, a.AuthorNumber)
	}
	return out
}

type BookAuthor struct {
	BookISBN     string `gorm:"column:book_isbn;type:varchar(13);primaryKey"`
	AuthorNumber int64  `gorm:"column:author_number;primaryKey"`
	Position     int    `gorm:"column:position;not null;default:0"`
}

func (BookAuthor) TableName() string { return "book_authors" }
