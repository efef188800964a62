package saga

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/pkg/enums"
)

// Request is the body of a create-catalog-entry call.
type Request struct {
	Genre  GenreInput  `json:"genre" validate:"required"`
	Author AuthorInput `json:"author" validate:"required"`
	Book   BookInput   `json:"book" validate:"required"`
}

type GenreInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

type AuthorInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Bio      string `json:"bio" validate:"max=4000"`
	PhotoURI string `json:"photoURI" validate:"omitempty,uri"`
}

type BookInput struct {
	Title       string `json:"title" validate:"required,max=500"`
	Description string `json:"description" validate:"max=4000"`
	GenreName   string `json:"genreName" validate:"max=255"`
	PhotoURI    string `json:"photoURI" validate:"omitempty,uri"`
}

func (r Request) normalized() Request {
	r.Genre.Name = strings.TrimSpace(r.Genre.Name)
	r.Author.Name = strings.TrimSpace(r.Author.Name)
	r.Book.Title = strings.TrimSpace(r.Book.Title)
	r.Book.GenreName = strings.TrimSpace(r.Book.GenreName)
	return r
}

// Instance is the persisted state of one book-creation saga.
//
// GenreID, AuthorNumber and BookID are set once the matching step succeeds.
// GenreCreated and AuthorCreated record whether the saga itself created the
// entity; only created entities are compensated.
type Instance struct {
	SagaID         string          `json:"sagaId"`
	State          enums.SagaState `json:"state"`
	StartedAt      time.Time       `json:"startedAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	RequestPayload json.RawMessage `json:"requestPayload,omitempty"`

	GenreID       *string `json:"genreId,omitempty"`
	GenreCreated  bool    `json:"genreCreated"`
	AuthorNumber  *int64  `json:"authorNumber,omitempty"`
	AuthorCreated bool    `json:"authorCreated"`
	BookID        *string `json:"bookId,omitempty"`

	Genre  *participants.Genre  `json:"genre,omitempty"`
	Author *participants.Author `json:"author,omitempty"`
	Book   *participants.Book   `json:"book,omitempty"`

	RetryCount   int    `json:"retryCount"`
	Steps        []Step `json:"steps"`
	TTLSeconds   int64  `json:"ttlSeconds"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Version      int64  `json:"version"`
}

// Step is one attempted remote action. Steps are only ever appended.
type Step struct {
	StepName     string                 `json:"stepName"`
	Service      enums.SagaStepResource `json:"service"`
	Action       enums.SagaStepAction   `json:"action"`
	ExecutedAt   time.Time              `json:"executedAt"`
	DurationMS   int64                  `json:"durationMs"`
	Success      bool                   `json:"success"`
	Response     json.RawMessage        `json:"response,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`

	// retries is folded into Instance.RetryCount and not stored on the step.
	retries int
}

func stepName(action enums.SagaStepAction, service enums.SagaStepResource) string {
	return strings.ToLower(string(action) + "_" + string(service))
}

// clone returns a copy whose step slice can be appended to without touching the receiver.
func (i *Instance) clone() *Instance {
	cp := *i
	cp.Steps = append(make([]Step, 0, len(i.Steps)+1), i.Steps...)
	return &cp
}

// SuccessfulSteps counts steps that completed without error.
func (i *Instance) SuccessfulSteps() int {
	n := 0
	for _, s := range i.Steps {
		if s.Success {
			n++
		}
	}
	return n
}

// hasCreated reports whether the saga itself created the given entity.
func (i *Instance) hasCreated(service enums.SagaStepResource) bool {
	switch service {
	case enums.StepResourceGenre:
		return i.GenreCreated && i.GenreID != nil
	case enums.StepResourceAuthor:
		return i.AuthorCreated && i.AuthorNumber != nil
	}
	return false
}

func (i *Instance) deleted(service enums.SagaStepResource) bool {
	for _, s := range i.Steps {
		if s.Service == service && s.Action == enums.StepActionDelete && s.Success {
			return true
		}
	}
	return false
}

func (i *Instance) needsCompensation() bool {
	return (i.hasCreated(enums.StepResourceAuthor) && !i.deleted(enums.StepResourceAuthor)) ||
		(i.hasCreated(enums.StepResourceGenre) && !i.deleted(enums.StepResourceGenre))
}

// Result is returned to the caller of a completed saga.
type Result struct {
	SagaID string               `json:"sagaId"`
	State  enums.SagaState      `json:"state"`
	Genre  *participants.Genre  `json:"genre"`
	Author *participants.Author `json:"author"`
	Book   *participants.Book   `json:"book"`
}

func resultOf(i *Instance) *Result {
	return &Result{
		SagaID: i.SagaID,
		State:  i.State,
		Genre:  i.Genre,
		Author: i.Author,
		Book:   i.Book,
	}
}
