package session

import (
	"errors"
	"net/http"
	"strings"

	"ragchat/internal/model"
)

var keyInvalidSignatures = []string{
	"API key not valid",
	"API_KEY_INVALID",
	"Requested entity was not found",
}

// IsKeyInvalid reports whether a remote failure means the credentials were
// rejected or the addressed resource is gone.
func IsKeyInvalid(err error) bool {
	if err == nil {
		return false
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return containsAny(err.Error(), keyInvalidSignatures...)
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
