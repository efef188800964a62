package saga

import (
	"testing"

	"github.com/angelmondragon/library-catalog/pkg/enums"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to enums.SagaState
		want     bool
	}{
		{enums.SagaStarted, enums.SagaCreatingGenre, true},
		{enums.SagaCreatingGenre, enums.SagaGenreCreated, true},
		{enums.SagaGenreFailed, enums.SagaFailed, true},
		{enums.SagaBookFailed, enums.SagaCompensating, true},
		{enums.SagaCompensating, enums.SagaCompensationFailed, true},
		{enums.SagaBookCreated, enums.SagaCompleted, true},
		{enums.SagaStarted, enums.SagaCompleted, false},
		{enums.SagaCreatingBook, enums.SagaCreatingGenre, false},
		{enums.SagaBookCreated, enums.SagaCompensating, false},
		{enums.SagaCompleted, enums.SagaCompensating, false},
		{enums.SagaCompensated, enums.SagaCompensating, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range []enums.SagaState{enums.SagaCompleted, enums.SagaFailed, enums.SagaCompensated, enums.SagaCompensationFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Fatalf("%s should have no outgoing transitions", s)
		}
	}
}

func TestFailureStateFor(t *testing.T) {
	cases := map[enums.SagaState]enums.SagaState{
		enums.SagaStarted:        enums.SagaGenreFailed,
		enums.SagaCreatingGenre:  enums.SagaGenreFailed,
		enums.SagaGenreCreated:   enums.SagaAuthorFailed,
		enums.SagaCreatingAuthor: enums.SagaAuthorFailed,
		enums.SagaAuthorCreated:  enums.SagaBookFailed,
		enums.SagaCreatingBook:   enums.SagaBookFailed,
	}
	for from, want := range cases {
		got, ok := failureStateFor(from)
		if !ok || got != want {
			t.Errorf("failureStateFor(%s) = %s, %v", from, got, ok)
		}
		if !CanTransition(from, got) {
			t.Errorf("failure transition %s -> %s not allowed", from, got)
		}
	}
	if _, ok := failureStateFor(enums.SagaBookCreated); ok {
		t.Fatal("BOOK_CREATED has no failure transition")
	}
}
