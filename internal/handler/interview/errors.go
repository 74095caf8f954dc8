package interview

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidDocumentSet):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSessionClosed),
		errors.Is(err, model.ErrNoActiveQuestion),
		errors.Is(err, model.ErrSessionNotCompleted):
		return http.StatusConflict
	case errors.Is(err, model.ErrEmptyAnswer):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrQuestionGenerationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrQuestionSourceFailed),
		errors.Is(err, model.ErrFeedbackUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrTranscriptionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// client went away; nginx convention
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes the error body with code, state and retryable hint.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := utils.ErrorBody{
		Error:     err.Error(),
		Code:      model.Code(err),
		Retryable: model.Retryable(err),
	}
	if state, ok := model.StateOf(err); ok {
		body.State = string(state)
	}

	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("code", body.Code).
		Msg("interview request failed")

	if status == http.StatusInternalServerError {
		// 不向客户端暴露内部错误细节
		body.Error = "internal error"
	}
	utils.RespondErrorBody(w, status, body)
}

func respondBadRequest(w http.ResponseWriter, message string) {
	utils.RespondErrorBody(w, http.StatusBadRequest, utils.ErrorBody{Error: message, Code: "InvalidRequest"})
}
