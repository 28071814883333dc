package dispatcher

import (
	"errors"
	"fmt"

	"chat_gateway/internal/providers"
)

var (
	// ErrMissingCredentials is returned by every call when no upstream is configured
	ErrMissingCredentials = providers.ErrMissingCredentials

	// ErrAuthRejected is returned when the upstream refuses the API key
	ErrAuthRejected = errors.New("upstream rejected credentials")

	// ErrExhausted matches every *ExhaustedError
	ErrExhausted = errors.New("all candidate models failed")

	// ErrNoMessages is returned for a request without messages
	ErrNoMessages = errors.New("at least one message is required")

	// ErrNoModel is returned for a request without a model
	ErrNoModel = errors.New("model is required")
)

// ExhaustedError is returned when every candidate model failed.
// Last is the error of the final attempt.
type ExhaustedError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrExhausted}
	}
	return []error{ErrExhausted, e.Last}
}

// Models lists the attempted models in order
func (e *ExhaustedError) Models() []string {
	models := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		models[i] = a.Model
	}
	return models
}
