package controllers

import (
	"net/http"

	"github.com/angelmondragon/library-catalog/api/responses"
	"github.com/angelmondragon/library-catalog/api/validators"
	"github.com/angelmondragon/library-catalog/internal/catalog"
	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

const maxNameLen = 500

func GenreFind(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := validators.RequiredQuery(r, "name", maxNameLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		genre, err := svc.FindGenre(r.Context(), name)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, genre)
	}
}

func GenreCreate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req participants.CreateGenreRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		genre, err := svc.CreateGenre(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, createdStatus(genre.Created), genre)
	}
}

func GenreDelete(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.PathParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteGenre(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func AuthorFind(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := validators.RequiredQuery(r, "name", maxNameLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		author, err := svc.FindAuthor(r.Context(), name)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, author)
	}
}

func AuthorCreate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req participants.CreateAuthorRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		author, err := svc.CreateAuthor(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, createdStatus(author.Created), author)
	}
}

func AuthorDelete(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, err := validators.PathInt64(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteAuthor(r.Context(), number); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// BookFind looks books up by title. The query key stays "name" so every
// participant shares one find contract.
func BookFind(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title, err := validators.RequiredQuery(r, "name", maxNameLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		book, err := svc.FindBook(r.Context(), title)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, book)
	}
}

func BookCreate(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req participants.CreateBookRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		book, err := svc.CreateBook(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusCreated, book)
	}
}

func BookDelete(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		isbn, err := validators.PathParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteBook(r.Context(), isbn); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// createdStatus tells the saga whether create inserted (201) or matched an
// existing entity by name (200).
func createdStatus(inserted bool) int {
	if inserted {
		return http.StatusCreated
	}
	return http.StatusOK
}
