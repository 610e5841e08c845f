package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/angelmondragon/inspectbid-backend/pkg/types"
)

// cataloguedOnly codes always answer with the catalog text, even on 4xx.
var cataloguedOnly = map[pkgerrors.Code]bool{
	pkgerrors.CodeAlreadyInProgress: true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope. Untyped errors become
// INTERNAL_ERROR. Server-side messages and details never leave the process;
// they go to the log with the full chain.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("error response without an error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
	}
	if meta.HTTPStatus < http.StatusInternalServerError && !cataloguedOnly[typed.Code()] && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, logFields(err, typed))
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

func logFields(err error, typed *pkgerrors.Error) map[string]any {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  typed.Code(),
		"error_chain": dump.Chain,
	}
	if dump.PGCode != "" {
		fields["pg_code"] = dump.PGCode
		fields["pg_message"] = dump.PGMessage
		fields["pg_detail"] = dump.PGDetail
		fields["pg_table"] = dump.PGTable
		fields["pg_column"] = dump.PGColumn
		fields["pg_constraint"] = dump.PGConstraint
	}
	if dump.ProviderOp != "" {
		fields["provider_op"] = dump.ProviderOp
		fields["provider_code"] = dump.ProviderCode
		fields["provider_temporary"] = dump.ProviderTemporary
	}
	if details, ok := typed.Details().(map[string]any); ok {
		if reason, ok := details["reason"]; ok {
			fields["reason"] = reason
		}
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// headers are gone; all that is left is to record it
		zlog.Error().Err(err).Int("status", status).Msg("encode response body")
	}
}
