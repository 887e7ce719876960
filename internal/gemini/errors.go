package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ragchat/internal/model"
)

const (
	CodeAuth      = "GEMINI_AUTH"
	CodeNotFound  = "GEMINI_NOT_FOUND"
	CodeRateLimit = "GEMINI_RATE_LIMIT"
	CodeFailed    = "GEMINI_FAILED"
)

// apiError is the Google API error envelope body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func mapProviderError(statusCode int, body []byte) error {
	var envelope struct {
		Error *apiError `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	status := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		if envelope.Error.Message != "" {
			message = envelope.Error.Message
		}
		status = envelope.Error.Status
	}
	if message == "" {
		message = fmt.Sprintf("gemini returned status %d", statusCode)
	}

	pe := &model.ProviderError{
		Code:       CodeFailed,
		Message:    message,
		StatusCode: statusCode,
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || isInvalidKeyText(message):
		pe.Code = CodeAuth
	case statusCode == http.StatusNotFound || status == "NOT_FOUND":
		pe.Code = CodeNotFound
	case statusCode == http.StatusTooManyRequests:
		pe.Code = CodeRateLimit
		pe.Retryable = true
	case statusCode >= http.StatusInternalServerError:
		pe.Retryable = true
	}
	return pe
}

// rpcStatusHTTP maps google.rpc.Code values, as carried by a failed
// long-running operation, onto the HTTP status the REST surface would use.
var rpcStatusHTTP = map[int]int{
	1:  499, // CANCELLED
	2:  http.StatusInternalServerError,
	3:  http.StatusBadRequest,
	4:  http.StatusGatewayTimeout,
	5:  http.StatusNotFound,
	6:  http.StatusConflict,
	7:  http.StatusForbidden,
	8:  http.StatusTooManyRequests,
	9:  http.StatusBadRequest,
	10: http.StatusConflict,
	11: http.StatusBadRequest,
	12: http.StatusNotImplemented,
	13: http.StatusInternalServerError,
	14: http.StatusServiceUnavailable,
	15: http.StatusInternalServerError,
	16: http.StatusUnauthorized,
}

// mapAPIError classifies an operation error. Its code is a google.rpc code,
// not an HTTP status.
func mapAPIError(e *apiError) error {
	if e == nil {
		return nil
	}
	status, ok := rpcStatusHTTP[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body, _ := json.Marshal(map[string]*apiError{"error": e})
	return mapProviderError(status, body)
}

func isInvalidKeyText(message string) bool {
	upper := strings.ToUpper(message)
	return strings.Contains(upper, "API KEY NOT VALID") || strings.Contains(upper, "API_KEY_INVALID")
}
