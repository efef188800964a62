package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/library-catalog/api/responses"
	"github.com/angelmondragon/library-catalog/api/validators"
	"github.com/angelmondragon/library-catalog/internal/saga"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

// CatalogCreateBook runs one saga per request. A completed saga answers 201
// with the created or reused entities; any other outcome answers with the
// saga's error message and id. The saga outlives a disconnecting client and
// is bounded by timeout instead.
func CatalogCreateBook(orch saga.Orchestrator, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saga.Request
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := orch.CreateBook(ctx, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusCreated, result)
	}
}

func CatalogSagaStatus(orch saga.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sagaID, err := validators.PathParam(r, "sagaId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inst, err := orch.Status(r.Context(), sagaID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, inst)
	}
}
