package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/routing"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

func statusForCode(code string) int {
	switch code {
	case metaerr.CodeValidation:
		return http.StatusUnprocessableEntity
	case metaerr.CodeNotFound:
		return http.StatusNotFound
	case metaerr.CodeConflict, metaerr.CodeBlockingRule:
		return http.StatusConflict
	case metaerr.CodeVersionMismatch:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError renders an engine error as the JSON error envelope. Internal
// failures are logged here and reach the client without detail.
func (s *server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		routing.WriteError(w, r, http.StatusGatewayTimeout, "request_timeout", "request deadline exceeded")
		return
	case errors.Is(err, context.Canceled):
		routing.WriteError(w, r, http.StatusServiceUnavailable, "request_cancelled", "request cancelled")
		return
	}
	err = metaerr.Wrap(err)
	code := metaerr.CodeOf(err)
	s.metrics.ObserveEngineError(code)

	var details any
	message := err.Error()
	if ve, ok := errors.AsType[*metaerr.ValidationError](err); ok {
		details = map[string]string{"field": ve.Field}
	}
	if bv, ok := errors.AsType[*metaerr.BlockingRuleViolation](err); ok {
		details = map[string]any{"violations": bv.Violations}
	}
	if vm, ok := errors.AsType[*metaerr.VersionMismatchError](err); ok {
		details = map[string]string{"caller_version": vm.CallerVersion, "engine_version": vm.EngineVersion}
	}
	if ie, ok := errors.AsType[*metaerr.InternalError](err); ok {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(ie.Cause()),
		)
		message = "internal error"
	}
	routing.WriteErrorDetails(w, r, statusForCode(code), strings.ToLower(code), message, details)
}

func writeInvalidRequest(w http.ResponseWriter, r *http.Request, message string) {
	routing.WriteError(w, r, http.StatusBadRequest, "invalid_request", message)
}
