package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-catalog/pkg/errors"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
	"github.com/google/uuid"
)

const (
	defaultInstanceTTL         = 24 * time.Hour
	defaultCompensationTimeout = 30 * time.Second
)

// Orchestrator drives the Genre -> Author -> Book pipeline and its compensation.
type Orchestrator interface {
	CreateBook(ctx context.Context, req Request) (*Result, error)
	Status(ctx context.Context, sagaID string) (*Instance, error)
	Recover(ctx context.Context, sagaID string) (*Instance, error)
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*Instance, error)
}

type orchestrator struct {
	store   Store
	genres  participants.GenreService
	authors participants.AuthorService
	books   participants.BookService
	logg    *logger.Logger
	metrics *metrics.SagaMetrics
	ttl     time.Duration
	now     func() time.Time
	newID   func() string

	compensationTimeout time.Duration
}

// Option tunes an orchestrator built by NewOrchestrator.
type Option func(*orchestrator)

// WithCompensationTimeout bounds saga writes and compensating deletes once
// they no longer follow the caller's context. Zero keeps the 30s default.
func WithCompensationTimeout(d time.Duration) Option {
	return func(o *orchestrator) {
		if d > 0 {
			o.compensationTimeout = d
		}
	}
}

// NewOrchestrator builds the saga orchestrator. A zero ttl falls back to 24h.
func NewOrchestrator(
	store Store,
	genres participants.GenreService,
	authors participants.AuthorService,
	books participants.BookService,
	logg *logger.Logger,
	m *metrics.SagaMetrics,
	ttl time.Duration,
	opts ...Option,
) (Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("saga store required")
	}
	if genres == nil {
		return nil, fmt.Errorf("genre service required")
	}
	if authors == nil {
		return nil, fmt.Errorf("author service required")
	}
	if books == nil {
		return nil, fmt.Errorf("book service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ttl <= 0 {
		ttl = defaultInstanceTTL
	}
	o := &orchestrator{
		store:   store,
		genres:  genres,
		authors: authors,
		books:   books,
		logg:    logg,
		metrics: m,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },

		compensationTimeout: defaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// detached keeps ctx's values but not its cancellation or deadline. Once a
// remote side effect may have happened, recording it and undoing it must not
// depend on the caller still waiting.
func (o *orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.compensationTimeout)
}

func (o *orchestrator) CreateBook(ctx context.Context, req Request) (*Result, error) {
	req = req.normalized()
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode saga request")
	}

	now := o.now()
	inst := &Instance{
		SagaID:         o.newID(),
		State:          enums.SagaStarted,
		StartedAt:      now,
		UpdatedAt:      now,
		RequestPayload: payload,
		Steps:          []Step{},
		TTLSeconds:     int64(o.ttl / time.Second),
		Version:        1,
	}
	ctx = o.logg.WithSagaID(ctx, inst.SagaID)
	if err := o.store.Put(ctx, inst, o.ttl); err != nil {
		return nil, pkgerrors.WrapContext(err, pkgerrors.CodeDependency, "persist saga")
	}
	o.logg.Info(o.logg.WithField(ctx, "state", inst.State), "saga started")

	if err := o.runGenre(ctx, inst, req.Genre); err != nil {
		return nil, o.failure(inst, err)
	}
	if err := o.runAuthor(ctx, inst, req.Author); err != nil {
		return nil, o.failure(inst, err)
	}
	if err := o.runBook(ctx, inst, req.Book); err != nil {
		return nil, o.failure(inst, err)
	}
	return resultOf(inst), nil
}

func validateRequest(req Request) error {
	switch {
	case req.Genre.Name == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "genre name is required")
	case req.Author.Name == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "author name is required")
	case req.Book.Title == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "book title is required")
	case req.Book.GenreName != "" && !strings.EqualFold(req.Book.GenreName, req.Genre.Name):
		return pkgerrors.New(pkgerrors.CodeValidation, "book genreName must match genre name")
	}
	return nil
}

func (o *orchestrator) Status(ctx context.Context, sagaID string) (*Instance, error) {
	inst, err := o.store.Get(ctx, sagaID)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "saga not found")
	}
	if err != nil {
		return nil, pkgerrors.WrapContext(err, pkgerrors.CodeDependency, "load saga")
	}
	return inst, nil
}

func (o *orchestrator) runGenre(ctx context.Context, inst *Instance, in GenreInput) error {
	if err := o.transition(ctx, inst, enums.SagaCreatingGenre, nil); err != nil {
		return o.abort(ctx, inst, enums.SagaGenreFailed, nil, err)
	}

	var (
		genre   *participants.Genre
		created bool
	)
	step, err := o.findOrCreate(ctx, enums.StepResourceGenre,
		func(ctx context.Context) (any, error) {
			g, err := o.genres.FindGenre(ctx, in.Name)
			genre = g
			return g, err
		},
		func(ctx context.Context) (any, error) {
			g, err := o.genres.CreateGenre(ctx, participants.CreateGenreRequest{Name: in.Name})
			genre, created = g, err == nil && g != nil && g.Created
			return g, err
		},
	)
	record := func(i *Instance) {
		i.Steps = append(i.Steps, step)
		i.RetryCount += step.retries
		if err == nil {
			i.GenreID = &genre.ID
			i.GenreCreated = created
			i.Genre = genre
		}
	}
	if err != nil {
		return o.abort(ctx, inst, enums.SagaGenreFailed, record, err)
	}
	if perr := o.transition(ctx, inst, enums.SagaGenreCreated, record); perr != nil {
		return o.abort(ctx, inst, enums.SagaGenreFailed, record, perr)
	}
	return nil
}

func (o *orchestrator) runAuthor(ctx context.Context, inst *Instance, in AuthorInput) error {
	if err := o.transition(ctx, inst, enums.SagaCreatingAuthor, nil); err != nil {
		return o.abort(ctx, inst, enums.SagaAuthorFailed, nil, err)
	}

	var (
		author  *participants.Author
		created bool
	)
	step, err := o.findOrCreate(ctx, enums.StepResourceAuthor,
		func(ctx context.Context) (any, error) {
			a, err := o.authors.FindAuthor(ctx, in.Name)
			author = a
			return a, err
		},
		func(ctx context.Context) (any, error) {
			a, err := o.authors.CreateAuthor(ctx, participants.CreateAuthorRequest{
				Name:     in.Name,
				Bio:      in.Bio,
				PhotoURI: in.PhotoURI,
			})
			author, created = a, err == nil && a != nil && a.Created
			return a, err
		},
	)
	record := func(i *Instance) {
		i.Steps = append(i.Steps, step)
		i.RetryCount += step.retries
		if err == nil {
			i.AuthorNumber = &author.Number
			i.AuthorCreated = created
			i.Author = author
		}
	}
	if err != nil {
		return o.abort(ctx, inst, enums.SagaAuthorFailed, record, err)
	}
	if perr := o.transition(ctx, inst, enums.SagaAuthorCreated, record); perr != nil {
		return o.abort(ctx, inst, enums.SagaAuthorFailed, record, perr)
	}
	return nil
}

// runBook denormalizes the genre by name; the Book service never sees genre ids.
func (o *orchestrator) runBook(ctx context.Context, inst *Instance, in BookInput) error {
	if err := o.transition(ctx, inst, enums.SagaCreatingBook, nil); err != nil {
		return o.abort(ctx, inst, enums.SagaBookFailed, nil, err)
	}

	req := participants.CreateBookRequest{
		Title:       in.Title,
		Description: in.Description,
		GenreName:   inst.Genre.Name,
		PhotoURI:    in.PhotoURI,
		AuthorIDs:   []int64{*inst.AuthorNumber},
	}
	var book *participants.Book
	step, err := o.call(ctx, enums.StepResourceBook, enums.StepActionCreate, func(ctx context.Context) (any, error) {
		b, err := o.books.CreateBook(ctx, req)
		book = b
		return b, err
	})
	record := func(i *Instance) {
		i.Steps = append(i.Steps, step)
		i.RetryCount += step.retries
		if err == nil {
			i.BookID = &book.ISBN
			i.Book = book
		}
	}
	if err != nil {
		return o.abort(ctx, inst, enums.SagaBookFailed, record, err)
	}
	if perr := o.transition(ctx, inst, enums.SagaBookCreated, record); perr != nil {
		return o.abort(ctx, inst, enums.SagaBookFailed, record, perr)
	}
	if perr := o.transition(ctx, inst, enums.SagaCompleted, o.complete); perr != nil {
		// the book exists and is never compensated; recovery finishes the saga
		return perr
	}
	o.metrics.ObserveFinal(string(inst.State))
	o.logg.Info(o.logg.WithField(ctx, "state", inst.State), "saga completed")
	return nil
}

func (o *orchestrator) complete(i *Instance) {
	at := o.now()
	i.CompletedAt = &at
}

// failure converts a stopped saga into the error returned to the caller.
func (o *orchestrator) failure(inst *Instance, err error) error {
	msg := inst.ErrorMessage
	if msg == "" {
		msg = err.Error()
	}
	return pkgerrors.Wrap(pkgerrors.CodeSagaFailed, err, msg).WithDetails(map[string]any{
		"sagaId": inst.SagaID,
		"state":  inst.State,
	})
}

// transition persists inst moved to state with mutate applied. inst is only
// replaced once the store accepted the write.
func (o *orchestrator) transition(ctx context.Context, inst *Instance, to enums.SagaState, mutate func(*Instance)) error {
	if !CanTransition(inst.State, to) {
		return fmt.Errorf("saga %s: illegal transition %s -> %s", inst.SagaID, inst.State, to)
	}
	return o.save(ctx, inst, to, mutate)
}

func (o *orchestrator) save(ctx context.Context, inst *Instance, to enums.SagaState, mutate func(*Instance)) error {
	ctx, cancel := o.detached(ctx)
	defer cancel()
	next := inst.clone()
	if mutate != nil {
		mutate(next)
	}
	next.State = to
	next.UpdatedAt = o.now()
	next.Version = inst.Version + 1
	if err := o.store.CompareAndSwap(ctx, next, inst.Version, o.ttl); err != nil {
		o.logg.Error(o.logg.WithFields(ctx, map[string]any{
			"state":      inst.State,
			"next_state": to,
		}), "persist saga transition", err)
		return fmt.Errorf("persist %s: %w", to, err)
	}
	*inst = *next
	o.logg.Info(o.logg.WithFields(ctx, map[string]any{
		"state": inst.State,
		"steps": len(inst.Steps),
	}), "saga transition")
	return nil
}

// abort records the failure transition for the current step and then either
// compensates or fails the saga. A version conflict means another worker owns
// the saga, so nothing further is written.
func (o *orchestrator) abort(ctx context.Context, inst *Instance, failed enums.SagaState, mutate func(*Instance), cause error) error {
	if errors.Is(cause, ErrVersionConflict) {
		return cause
	}
	ctx, cancel := o.detached(ctx)
	defer cancel()
	record := func(i *Instance) {
		if mutate != nil {
			mutate(i)
		}
		i.ErrorMessage = cause.Error()
	}
	if inst.State != failed {
		if err := o.transition(ctx, inst, failed, record); err != nil {
			return fmt.Errorf("%w (record failure: %v)", cause, err)
		}
	}
	if err := o.finish(ctx, inst); err != nil {
		return fmt.Errorf("%w (finish: %v)", cause, err)
	}
	return cause
}

// finish moves a saga sitting in a *_FAILED state to its terminal state.
func (o *orchestrator) finish(ctx context.Context, inst *Instance) error {
	if !inst.needsCompensation() {
		if err := o.transition(ctx, inst, enums.SagaFailed, o.complete); err != nil {
			return err
		}
		o.metrics.ObserveFinal(string(inst.State))
		o.logg.Warn(o.logg.WithField(ctx, "state", inst.State), "saga failed")
		return nil
	}
	if err := o.transition(ctx, inst, enums.SagaCompensating, nil); err != nil {
		return err
	}
	return o.compensate(ctx, inst)
}
