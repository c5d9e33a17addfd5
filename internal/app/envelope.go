package app

import (
	"time"

	"catalogd/internal/domain"
)

// Envelope is the uniform response shape for any transport mounted on top
// of the controller.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func SuccessEnvelope(data any) Envelope {
	return Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ErrorEnvelope maps an error to its public envelope and HTTP status.
// The message is a canned per-code string: internal error text stays in the
// logs and never reaches callers.
func ErrorEnvelope(err error) (Envelope, int) {
	code, ok := domain.CodeFrom(err)
	if !ok {
		code = domain.CodeCatalogError
	}
	return Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(code),
			Message: publicMessage(code),
		},
		Timestamp: time.Now(),
	}, domain.HTTPStatus(code)
}

func publicMessage(code domain.ErrorCode) string {
	switch code {
	case domain.CodeCatalogError:
		return "Failed to load service catalog"
	case domain.CodeServiceNotFound:
		return "Service not found"
	case domain.CodeInvalidSlug, domain.CodeInvalidServiceID:
		return "Invalid service identifier"
	case domain.CodeServiceError:
		return "Failed to load service"
	case domain.CodeSearchError:
		return "Search failed"
	case domain.CodeCategoriesError:
		return "Failed to load categories"
	case domain.CodeAvailabilityErr:
		return "Failed to load availability"
	case domain.CodeSyncError:
		return "Failed to compute sync delta"
	default:
		return "Internal error"
	}
}
