package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pbn-studio/engine/internal/api/middleware"
	"github.com/pbn-studio/engine/internal/api/types"
	"github.com/pbn-studio/engine/internal/api/validators"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"github.com/pbn-studio/engine/pkg/logger"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.APIResponse{Success: true, Data: data})
}

// writeError maps err to its status. Unclassified errors are logged and answered with a
// generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := types.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed",
			zap.String("id", middleware.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, types.APIResponse{
		Success: false,
		Error:   types.FromAppError(err),
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context())},
	})
}

// decode reads a JSON body into dst and validates it. missing is the message used when
// a required field is absent.
func decode(r *http.Request, dst any, missing string) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return appErr.New(appErr.CodeInvalid, missing)
		}
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid json")
	}
	if err := validators.New().Struct(dst); err != nil {
		e := appErr.Wrap(err, appErr.CodeInvalid, missing)
		if fields := validators.Fields(err); len(fields) > 0 {
			e = e.WithMeta("fields", strings.Join(fields, ","))
		}
		return e
	}
	return nil
}
