// Package respond maps service errors onto HTTP responses.
package respond

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/datachat/backend/internal/apperr"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Status picks the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrCredentialMissing):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrTurnInProgress):
		return http.StatusConflict
	}

	if kind, ok := apperr.KindOf(err); ok {
		switch kind {
		case apperr.KindDatasetLoad:
			return http.StatusServiceUnavailable
		case apperr.KindCompletion:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

// Message is the user-facing text for err.
func Message(err error) string {
	if errors.Is(err, chatService.ErrCredentialMissing) {
		return analyst.CredentialPrompt
	}
	return apperr.UserMessage(err)
}

// Error writes err as a JSON error body.
func Error(w http.ResponseWriter, err error) {
	kind, _ := apperr.KindOf(err)
	utils.RespondKindError(w, Status(err), string(kind), Message(err))
}
