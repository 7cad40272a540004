package extract

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrExtraction matches every failure of the extraction stage.
	ErrExtraction = errors.New("extraction failed")

	// ErrMissingAPIKey is returned when a backend that needs credentials has none.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrUnknownProvider is returned by NewBackend for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")

	errEmptyCompletion = errors.New("empty completion")
	errNoChoices       = errors.New("response has no choices")
)

// Error describes a failed completion call.
// StatusCode is 0 when the endpoint was never reached or the failure is local.
type Error struct {
	Backend    string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		text := http.StatusText(e.StatusCode)
		if e.Body != "" {
			return fmt.Sprintf("%s completion: http status %d %s: %s", e.Backend, e.StatusCode, text, e.Body)
		}

		return fmt.Sprintf("%s completion: http status %d %s", e.Backend, e.StatusCode, text)
	}

	return fmt.Sprintf("%s completion: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrExtraction
}

func wrapError(backend string, err error) error {
	var extractErr *Error
	if errors.As(err, &extractErr) {
		return err
	}

	return &Error{Backend: backend, Err: err}
}
