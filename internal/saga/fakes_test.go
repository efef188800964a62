package saga

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/redis"
)

// fakeRemote plays all three participant services and records every call.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []string
	genres  map[string]participants.Genre
	authors map[string]participants.Author
	books   map[string]participants.Book

	nextGenre  int
	nextAuthor int64
	nextBook   int

	genreCreateErr  error
	genreFindErr    error
	authorCreateErr error
	bookCreateErr   error
	genreDeleteErr  error
	authorDeleteErr error

	// missOnFind makes find report not found even for stored entities, like a
	// concurrent saga inserting between our find and create.
	missOnFind bool
	// hangBookCreate blocks book creation until the caller's context ends.
	hangBookCreate bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		genres:  map[string]participants.Genre{},
		authors: map[string]participants.Author{},
		books:   map[string]participants.Book{},
	}
}

func (f *fakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRemote) FindGenre(_ context.Context, name string) (*participants.Genre, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find genre " + name)
	if f.genreFindErr != nil {
		return nil, f.genreFindErr
	}
	g, ok := f.genres[name]
	if !ok || f.missOnFind {
		return nil, participants.ErrNotFound
	}
	return &g, nil
}

func (f *fakeRemote) CreateGenre(_ context.Context, req participants.CreateGenreRequest) (*participants.Genre, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create genre " + req.Name)
	if f.genreCreateErr != nil {
		return nil, f.genreCreateErr
	}
	if existing, ok := f.genres[req.Name]; ok {
		return &existing, nil
	}
	f.nextGenre++
	g := participants.Genre{ID: fmt.Sprintf("genre-%d", f.nextGenre), Name: req.Name}
	f.genres[req.Name] = g
	g.Created = true
	return &g, nil
}

func (f *fakeRemote) DeleteGenre(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete genre " + id)
	if f.genreDeleteErr != nil {
		return f.genreDeleteErr
	}
	for name, g := range f.genres {
		if g.ID == id {
			delete(f.genres, name)
		}
	}
	return nil
}

func (f *fakeRemote) FindAuthor(_ context.Context, name string) (*participants.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find author " + name)
	a, ok := f.authors[name]
	if !ok || f.missOnFind {
		return nil, participants.ErrNotFound
	}
	return &a, nil
}

func (f *fakeRemote) CreateAuthor(_ context.Context, req participants.CreateAuthorRequest) (*participants.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create author " + req.Name)
	if f.authorCreateErr != nil {
		return nil, f.authorCreateErr
	}
	if existing, ok := f.authors[req.Name]; ok {
		return &existing, nil
	}
	f.nextAuthor++
	a := participants.Author{Number: f.nextAuthor, Name: req.Name, Bio: req.Bio, PhotoURI: req.PhotoURI}
	f.authors[req.Name] = a
	a.Created = true
	return &a, nil
}

func (f *fakeRemote) DeleteAuthor(_ context.Context, number int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("delete author %d", number))
	if f.authorDeleteErr != nil {
		return f.authorDeleteErr
	}
	for name, a := range f.authors {
		if a.Number == number {
			delete(f.authors, name)
		}
	}
	return nil
}

func (f *fakeRemote) CreateBook(ctx context.Context, req participants.CreateBookRequest) (*participants.Book, error) {
	f.mu.Lock()
	f.record("create book " + req.Title)
	hang := f.hangBookCreate
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookCreateErr != nil {
		return nil, f.bookCreateErr
	}
	f.nextBook++
	b := participants.Book{
		ISBN:        fmt.Sprintf("978000000%04d", f.nextBook),
		Title:       req.Title,
		Description: req.Description,
		GenreName:   req.GenreName,
		PhotoURI:    req.PhotoURI,
		AuthorIDs:   req.AuthorIDs,
	}
	f.books[b.ISBN] = b
	return &b, nil
}

func (f *fakeRemote) DeleteBook(_ context.Context, isbn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete book " + isbn)
	delete(f.books, isbn)
	return nil
}

// failingStore rejects the first CompareAndSwap into failOn.
type failingStore struct {
	Store
	failOn enums.SagaState
	failed bool
}

func (s *failingStore) CompareAndSwap(ctx context.Context, inst *Instance, expected int64, ttl time.Duration) error {
	if !s.failed && inst.State == s.failOn {
		s.failed = true
		return fmt.Errorf("redis: connection reset")
	}
	return s.Store.CompareAndSwap(ctx, inst, expected, ttl)
}

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return NewRedisStore(redis.NewWithClient(raw)), mr
}

func newTestOrchestrator(t *testing.T, store Store, remote *fakeRemote) *orchestrator {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	orch, err := NewOrchestrator(store, remote, remote, remote, logg, nil, time.Hour)
	require.NoError(t, err)
	return orch.(*orchestrator)
}

func foundationRequest() Request {
	return Request{
		Genre: GenreInput{Name: "Science Fiction"},
		Author: AuthorInput{
			Name:     "Isaac Asimov",
			Bio:      "Biochemist and author",
			PhotoURI: "https://example.com/asimov.jpg",
		},
		Book: BookInput{
			Title:       "Foundation",
			Description: "The first Foundation novel",
			GenreName:   "Science Fiction",
		},
	}
}

func stepKinds(inst *Instance) []string {
	out := make([]string, 0, len(inst.Steps))
	for _, s := range inst.Steps {
		outcome := "ok"
		if !s.Success {
			outcome = "failed"
		}
		out = append(out, fmt.Sprintf("%s %s %s", s.Action, s.Service, outcome))
	}
	return out
}
