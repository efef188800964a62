package enums

import "fmt"

// SagaState is the lifecycle state of a book-creation saga.
type SagaState string

const (
	SagaStarted            SagaState = "STARTED"
	SagaCreatingGenre      SagaState = "CREATING_GENRE"
	SagaGenreCreated       SagaState = "GENRE_CREATED"
	SagaGenreFailed        SagaState = "GENRE_CREATION_FAILED"
	SagaCreatingAuthor     SagaState = "CREATING_AUTHOR"
	SagaAuthorCreated      SagaState = "AUTHOR_CREATED"
	SagaAuthorFailed       SagaState = "AUTHOR_CREATION_FAILED"
	SagaCreatingBook       SagaState = "CREATING_BOOK"
	SagaBookCreated        SagaState = "BOOK_CREATED"
	SagaBookFailed         SagaState = "BOOK_CREATION_FAILED"
	SagaCompleted          SagaState = "COMPLETED"
	SagaFailed             SagaState = "FAILED"
	SagaCompensating       SagaState = "COMPENSATING"
	SagaCompensated        SagaState = "COMPENSATED"
	SagaCompensationFailed SagaState = "COMPENSATION_FAILED"
)

var validSagaStates = []SagaState{
	SagaStarted,
	SagaCreatingGenre,
	SagaGenreCreated,
	SagaGenreFailed,
	SagaCreatingAuthor,
	SagaAuthorCreated,
	SagaAuthorFailed,
	SagaCreatingBook,
	SagaBookCreated,
	SagaBookFailed,
	SagaCompleted,
	SagaFailed,
	SagaCompensating,
	SagaCompensated,
	SagaCompensationFailed,
}

func (s SagaState) String() string {
	return string(s)
}

func (s SagaState) IsValid() bool {
	for _, candidate := range validSagaStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the saga can no longer change state.
func (s SagaState) IsTerminal() bool {
	switch s {
	case SagaCompleted, SagaFailed, SagaCompensated, SagaCompensationFailed:
		return true
	}
	return false
}

func ParseSagaState(value string) (SagaState, error) {
	for _, candidate := range validSagaStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid saga state %q", value)
}

// SagaStepAction records what a step did against the remote service.
type SagaStepAction string

const (
	StepActionFind   SagaStepAction = "FIND"
	StepActionCreate SagaStepAction = "CREATE"
	StepActionDelete SagaStepAction = "DELETE"
)

// SagaStepResource names the participant a step talked to.
type SagaStepResource string

const (
	StepResourceGenre  SagaStepResource = "GENRE"
	StepResourceAuthor SagaStepResource = "AUTHOR"
	StepResourceBook   SagaStepResource = "BOOK"
)
