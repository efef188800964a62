package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/pkg/db"
	"github.com/angelmondragon/library-catalog/pkg/db/models"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-catalog/pkg/errors"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxISBNAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event payloads.DomainEvent) error
}

// Service is the participant side of the catalog: every mutation commits
// together with its outbox event.
type Service interface {
	FindGenre(ctx context.Context, name string) (*participants.Genre, error)
	CreateGenre(ctx context.Context, req participants.CreateGenreRequest) (*participants.Genre, error)
	DeleteGenre(ctx context.Context, id string) error

	FindAuthor(ctx context.Context, name string) (*participants.Author, error)
	CreateAuthor(ctx context.Context, req participants.CreateAuthorRequest) (*participants.Author, error)
	DeleteAuthor(ctx context.Context, number int64) error

	FindBook(ctx context.Context, title string) (*participants.Book, error)
	CreateBook(ctx context.Context, req participants.CreateBookRequest) (*participants.Book, error)
	DeleteBook(ctx context.Context, isbn string) error
}

type service struct {
	tx     txRunner
	repo   *Repository
	outbox outboxEmitter
	logg   *logger.Logger
	intn   func(int) int
}

// NewService builds the catalog participant service.
func NewService(tx txRunner, repo *Repository, emitter outboxEmitter, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{tx: tx, repo: repo, outbox: emitter, logg: logg}, nil
}

func (s *service) FindGenre(ctx context.Context, name string) (*participants.Genre, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	genre, err := s.repo.FindGenreByName(ctx, name)
	if err != nil {
		return nil, mapLookupError(err, "genre")
	}
	return genreDTO(genre), nil
}

// CreateGenre returns the existing genre when the name is already taken; only
// a real insert comes back with Created set.
func (s *service) CreateGenre(ctx context.Context, req participants.CreateGenreRequest) (*participants.Genre, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}

	var (
		out      *models.Genre
		inserted bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindGenreByName(ctx, name)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		genre := &models.Genre{Name: name}
		if err := repo.CreateGenre(ctx, genre); err != nil {
			return err
		}
		event := &payloads.GenreCreated{
			EventBase: payloads.NewEventBase(enums.AggregateGenre, genre.ID.String()),
			Name:      genre.Name,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		out, inserted = genre, true
		return nil
	})
	if db.IsUniqueViolation(err, "") {
		existing, ferr := s.repo.FindGenreByName(ctx, name)
		if ferr != nil {
			return nil, mapLookupError(ferr, "genre")
		}
		return genreDTO(existing), nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create genre")
	}
	dto := genreDTO(out)
	dto.Created = inserted
	return dto, nil
}

func (s *service) DeleteGenre(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "genre not found")
	}
	return s.delete(ctx, "genre", func(tx *gorm.DB) (bool, payloads.DomainEvent, error) {
		removed, err := s.repo.WithTx(tx).DeleteGenre(ctx, parsed)
		event := &payloads.GenreDeleted{
			EventBase: payloads.NewEventBase(enums.AggregateGenre, parsed.String()),
		}
		return removed, event, err
	})
}

func (s *service) FindAuthor(ctx context.Context, name string) (*participants.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	author, err := s.repo.FindAuthorByName(ctx, name)
	if err != nil {
		return nil, mapLookupError(err, "author")
	}
	return authorDTO(author), nil
}

func (s *service) CreateAuthor(ctx context.Context, req participants.CreateAuthorRequest) (*participants.Author, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}

	var (
		out      *models.Author
		inserted bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindAuthorByName(ctx, name)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		author := &models.Author{Name: name, Bio: req.Bio, PhotoURI: optional(req.PhotoURI)}
		if err := repo.CreateAuthor(ctx, author); err != nil {
			return err
		}
		event := &payloads.AuthorCreated{
			EventBase: payloads.NewEventBase(enums.AggregateAuthor, strconv.FormatInt(author.Number, 10)),
			Number:    author.Number,
			Name:      author.Name,
			Bio:       author.Bio,
			PhotoURI:  req.PhotoURI,
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		out, inserted = author, true
		return nil
	})
	if db.IsUniqueViolation(err, "") {
		existing, ferr := s.repo.FindAuthorByName(ctx, name)
		if ferr != nil {
			return nil, mapLookupError(ferr, "author")
		}
		return authorDTO(existing), nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create author")
	}
	dto := authorDTO(out)
	dto.Created = inserted
	return dto, nil
}

func (s *service) DeleteAuthor(ctx context.Context, number int64) error {
	return s.delete(ctx, "author", func(tx *gorm.DB) (bool, payloads.DomainEvent, error) {
		removed, err := s.repo.WithTx(tx).DeleteAuthor(ctx, number)
		event := &payloads.AuthorDeleted{
			EventBase: payloads.NewEventBase(enums.AggregateAuthor, strconv.FormatInt(number, 10)),
			Number:    number,
		}
		return removed, event, err
	})
}

func (s *service) FindBook(ctx context.Context, title string) (*participants.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	book, err := s.repo.FindBookByTitle(ctx, title)
	if err != nil {
		return nil, mapLookupError(err, "book")
	}
	return bookDTO(book), nil
}

// CreateBook assigns a fresh ISBN-13, drawing again on the rare collision.
func (s *service) CreateBook(ctx context.Context, req participants.CreateBookRequest) (*participants.Book, error) {
	title := strings.TrimSpace(req.Title)
	genreName := strings.TrimSpace(req.GenreName)
	switch {
	case title == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	case genreName == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "genreName is required")
	case len(req.AuthorIDs) == 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorIds is required")
	}

	var (
		book *models.Book
		err  error
	)
	for attempt := 0; attempt < maxISBNAttempts; attempt++ {
		book = &models.Book{
			ISBN:        newISBN13(s.intn),
			Title:       title,
			Description: req.Description,
			GenreName:   genreName,
			PhotoURI:    optional(req.PhotoURI),
		}
		for i, number := range uniqueNumbers(req.AuthorIDs) {
			book.Authors = append(book.Authors, models.BookAuthor{AuthorNumber: number, Position: i})
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).CreateBook(ctx, book); err != nil {
				return err
			}
			event := &payloads.BookCreated{
				EventBase: payloads.NewEventBase(enums.AggregateBook, book.ISBN),
				ISBN:      book.ISBN,
				Title:     book.Title,
				Genre:     book.GenreName,
				AuthorIDs: book.AuthorNumbers(),
			}
			return s.outbox.Emit(ctx, tx, event)
		})
		// isbn is the only unique key left once author ids are deduplicated
		if !db.IsUniqueViolation(err, "") {
			break
		}
		s.logg.Warn(s.logg.WithField(ctx, "isbn", book.ISBN), "isbn collision, drawing again")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create book")
	}
	return bookDTO(book), nil
}

func (s *service) DeleteBook(ctx context.Context, isbn string) error {
	isbn = strings.TrimSpace(isbn)
	return s.delete(ctx, "book", func(tx *gorm.DB) (bool, payloads.DomainEvent, error) {
		removed, err := s.repo.WithTx(tx).DeleteBook(ctx, isbn)
		event := &payloads.BookDeleted{
			EventBase: payloads.NewEventBase(enums.AggregateBook, isbn),
			ISBN:      isbn,
		}
		return removed, event, err
	})
}

// delete runs remove in a transaction and emits its event only when a row
// was actually removed.
func (s *service) delete(ctx context.Context, entity string, remove func(tx *gorm.DB) (bool, payloads.DomainEvent, error)) error {
	var removed bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, event, err := remove(tx)
		if err != nil {
			return err
		}
		removed = ok
		if !ok {
			return nil
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete "+entity)
	}
	if !removed {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return nil
}

func mapLookupError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find "+entity)
}

func uniqueNumbers(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func genreDTO(g *models.Genre) *participants.Genre {
	return &participants.Genre{ID: g.ID.String(), Name: g.Name}
}

func authorDTO(a *models.Author) *participants.Author {
	return &participants.Author{Number: a.Number, Name: a.Name, Bio: a.Bio, PhotoURI: deref(a.PhotoURI)}
}

func bookDTO(b *models.Book) *participants.Book {
	return &participants.Book{
		ISBN:        b.ISBN,
		Title:       b.Title,
		Description: b.Description,
		GenreName:   b.GenreName,
		PhotoURI:    deref(b.PhotoURI),
		AuthorIDs:   b.AuthorNumbers(),
	}
}
