package catalog

import (
	"context"
	"fmt"

	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles genre, author and book persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to catalog operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindGenreByName(ctx context.Context, name string) (*models.Genre, error) {
	var genre models.Genre
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&genre).Error; err != nil {
		return nil, err
	}
	return &genre, nil
}

func (r *Repository) FindGenreByID(ctx context.Context, id uuid.UUID) (*models.Genre, error) {
	var genre models.Genre
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&genre).Error; err != nil {
		return nil, err
	}
	return &genre, nil
}

func (r *Repository) CreateGenre(ctx context.Context, genre *models.Genre) error {
	if genre == nil {
		return fmt.Errorf("genre is required")
	}
	return r.db.WithContext(ctx).Create(genre).Error
}

// DeleteGenre reports whether a row was removed.
func (r *Repository) DeleteGenre(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Genre{})
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) FindAuthorByName(ctx context.Context, name string) (*models.Author, error) {
	var author models.Author
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&author).Error; err != nil {
		return nil, err
	}
	return &author, nil
}

func (r *Repository) CreateAuthor(ctx context.Context, author *models.Author) error {
	if author == nil {
		return fmt.Errorf("author is required")
	}
	return r.db.WithContext(ctx).Create(author).Error
}

func (r *Repository) DeleteAuthor(ctx context.Context, number int64) (bool, error) {
	res := r.db.WithContext(ctx).Where("number = ?", number).Delete(&models.Author{})
	return res.RowsAffected > 0, res.Error
}

// FindBookByTitle returns the oldest book with the exact title.
func (r *Repository) FindBookByTitle(ctx context.Context, title string) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Preload("Authors", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("title = ?", title).
		Order("created_at ASC").
		First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *Repository) FindBookByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Preload("Authors", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("isbn = ?", isbn).
		First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// CreateBook inserts the book and its author links.
func (r *Repository) CreateBook(ctx context.Context, book *models.Book) error {
	if book == nil {
		return fmt.Errorf("book is required")
	}
	return r.db.WithContext(ctx).Create(book).Error
}

func (r *Repository) DeleteBook(ctx context.Context, isbn string) (bool, error) {
	if err := r.db.WithContext(ctx).Where("book_isbn = ?", isbn).Delete(&models.BookAuthor{}).Error; err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Where("isbn = ?", isbn).Delete(&models.Book{})
	return res.RowsAffected > 0, res.Error
}
