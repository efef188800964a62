package saga

import "github.com/angelmondragon/library-catalog/pkg/enums"

var transitions = map[enums.SagaState][]enums.SagaState{
	enums.SagaStarted:       {enums.SagaCreatingGenre, enums.SagaGenreFailed},
	enums.SagaCreatingGenre: {enums.SagaGenreCreated, enums.SagaGenreFailed},
	enums.SagaGenreCreated:  {enums.SagaCreatingAuthor, enums.SagaAuthorFailed},
	enums.SagaGenreFailed:   {enums.SagaFailed, enums.SagaCompensating},

	enums.SagaCreatingAuthor: {enums.SagaAuthorCreated, enums.SagaAuthorFailed},
	enums.SagaAuthorCreated:  {enums.SagaCreatingBook, enums.SagaBookFailed},
	enums.SagaAuthorFailed:   {enums.SagaFailed, enums.SagaCompensating},

	enums.SagaCreatingBook: {enums.SagaBookCreated, enums.SagaBookFailed},
	enums.SagaBookCreated:  {enums.SagaCompleted},
	enums.SagaBookFailed:   {enums.SagaFailed, enums.SagaCompensating},

	enums.SagaCompensating: {enums.SagaCompensated, enums.SagaCompensationFailed},
}

// CanTransition reports whether a saga may move from one state to another.
// Terminal states have no outgoing transitions.
func CanTransition(from, to enums.SagaState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// failureStateFor maps an interrupted state to the failure transition of the
// step that was in progress. BOOK_CREATED has no failure transition.
func failureStateFor(state enums.SagaState) (enums.SagaState, bool) {
	switch state {
	case enums.SagaStarted, enums.SagaCreatingGenre:
		return enums.SagaGenreFailed, true
	case enums.SagaGenreCreated, enums.SagaCreatingAuthor:
		return enums.SagaAuthorFailed, true
	case enums.SagaAuthorCreated, enums.SagaCreatingBook:
		return enums.SagaBookFailed, true
	}
	return "", false
}

func isFailureState(state enums.SagaState) bool {
	switch state {
	case enums.SagaGenreFailed, enums.SagaAuthorFailed, enums.SagaBookFailed:
		return true
	}
	return false
}
