package participants

import (
	"context"
	"strconv"

	"github.com/angelmondragon/library-catalog/pkg/resilience"
)

type GenreService interface {
	FindGenre(ctx context.Context, name string) (*Genre, error)
	CreateGenre(ctx context.Context, req CreateGenreRequest) (*Genre, error)
	DeleteGenre(ctx context.Context, id string) error
}

type AuthorService interface {
	FindAuthor(ctx context.Context, name string) (*Author, error)
	CreateAuthor(ctx context.Context, req CreateAuthorRequest) (*Author, error)
	DeleteAuthor(ctx context.Context, number int64) error
}

type BookService interface {
	CreateBook(ctx context.Context, req CreateBookRequest) (*Book, error)
	DeleteBook(ctx context.Context, isbn string) error
}

type GenreClient struct{ c *client }

func NewGenreClient(baseURL string, httpClient Doer, policy *resilience.Policy) (*GenreClient, error) {
	c, err := newClient("genre", baseURL, httpClient, policy)
	if err != nil {
		return nil, err
	}
	return &GenreClient{c: c}, nil
}

func (g *GenreClient) FindGenre(ctx context.Context, name string) (*Genre, error) {
	var out Genre
	if err := g.c.find(ctx, name, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *GenreClient) CreateGenre(ctx context.Context, req CreateGenreRequest) (*Genre, error) {
	var out Genre
	inserted, err := g.c.create(ctx, req, &out)
	if err != nil {
		return nil, err
	}
	out.Created = inserted
	return &out, nil
}

func (g *GenreClient) DeleteGenre(ctx context.Context, id string) error {
	return g.c.remove(ctx, id)
}

type AuthorClient struct{ c *client }

func NewAuthorClient(baseURL string, httpClient Doer, policy *resilience.Policy) (*AuthorClient, error) {
	c, err := newClient("author", baseURL, httpClient, policy)
	if err != nil {
		return nil, err
	}
	return &AuthorClient{c: c}, nil
}

func (a *AuthorClient) FindAuthor(ctx context.Context, name string) (*Author, error) {
	var out Author
	if err := a.c.find(ctx, name, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AuthorClient) CreateAuthor(ctx context.Context, req CreateAuthorRequest) (*Author, error) {
	var out Author
	inserted, err := a.c.create(ctx, req, &out)
	if err != nil {
		return nil, err
	}
	out.Created = inserted
	return &out, nil
}

func (a *AuthorClient) DeleteAuthor(ctx context.Context, number int64) error {
	return a.c.remove(ctx, strconv.FormatInt(number, 10))
}

type BookClient struct{ c *client }

func NewBookClient(baseURL string, httpClient Doer, policy *resilience.Policy) (*BookClient, error) {
	c, err := newClient("book", baseURL, httpClient, policy)
	if err != nil {
		return nil, err
	}
	return &BookClient{c: c}, nil
}

func (b *BookClient) CreateBook(ctx context.Context, req CreateBookRequest) (*Book, error) {
	var out Book
	if _, err := b.c.create(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BookClient) DeleteBook(ctx context.Context, isbn string) error {
	return b.c.remove(ctx, isbn)
}

var (
	_ GenreService  = (*GenreClient)(nil)
	_ AuthorService = (*AuthorClient)(nil)
	_ BookService   = (*BookClient)(nil)
)
