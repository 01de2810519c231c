package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
)

// Kind classifies pipeline failures for the front ends.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindIngestion
	KindIndex
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIngestion:
		return "ingestion"
	case KindIndex:
		return "index"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Error is returned by every pipeline action. Err keeps the cause so
// errors.Is sees the sentinel errors in internal/types.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Failures lists the URLs that could not be loaded, when the error
	// comes from loading.
	Failures []models.URLFailure
}

func (e *Error) Error() string {
	if len(e.Failures) > 0 {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, describeFailures(e.Failures))
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pipeline error, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// FailuresOf returns the failed URLs carried by a pipeline error.
func FailuresOf(err error) []models.URLFailure {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Failures
	}
	return nil
}

func describeFailures(failures []models.URLFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.URL, f.Err))
	}
	return strings.Join(parts, "; ")
}

// UserMessage turns an error into text fit for the person at the keyboard.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, types.ErrMissingCredential):
		return "API key not found. Please check your .env file or environment variables (OPENAI_API_KEY)."
	case errors.Is(err, types.ErrNoURLs):
		return "Please enter at least one URL."
	case errors.Is(err, types.ErrTooManyURLs):
		return "Too many URLs. Remove some and try again."
	case errors.Is(err, types.ErrNoDocuments):
		if failures := FailuresOf(err); len(failures) > 0 {
			return fmt.Sprintf("None of the URLs could be loaded (%s). Check the addresses and try again.", describeFailures(failures))
		}
		return "None of the URLs could be loaded. Check the addresses and try again."
	case errors.Is(err, types.ErrNoSegments):
		return "The articles did not contain any readable text."
	case errors.Is(err, types.ErrIndexNotFound):
		return "No articles have been processed yet. Process URLs first."
	case errors.Is(err, types.ErrDimensionMismatch):
		return "The saved index was built with a different embedding model. Process the URLs again."
	case errors.Is(err, types.ErrEmptyQuestion):
		return "Please enter a question."
	case errors.Is(err, types.ErrEmbedding):
		return "The embedding service failed. Please try again later."
	case errors.Is(err, types.ErrGeneration):
		return "The language model could not produce an answer. Please try again later."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	}

	switch KindOf(err) {
	case KindConfiguration:
		return fmt.Sprintf("Configuration error: %v", err)
	case KindIndex:
		return fmt.Sprintf("Could not access the saved index: %v", err)
	}
	return fmt.Sprintf("Something went wrong: %v", err)
}
