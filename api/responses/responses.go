package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/library-catalog/pkg/errors"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/types"
)

// WriteSuccess wraps data in the {data} envelope used by operational endpoints.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteJSON writes payload as the bare response body. Catalog and participant
// endpoints use it so callers decode entities directly.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeSagaFailed:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := types.ErrorBody{
		ErrorMessage: msg,
		Code:         string(typed.Code()),
	}

	details := typed.Details()
	if dm, ok := details.(map[string]any); ok {
		if id, ok := dm["sagaId"].(string); ok {
			payload.SagaID = id
		}
	}
	if meta.DetailsAllowed && details != nil {
		payload.Details = details
	}

	if logg != nil {
		fields := pkgerrors.Dump(err).Fields()
		if payload.SagaID != "" {
			fields["saga_id"] = payload.SagaID
		}

		ctx = logg.WithFields(ctx, fields)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
