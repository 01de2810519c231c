package types

import "errors"

var (
	// ErrMissingCredential indicates the model provider API key is not configured
	ErrMissingCredential = errors.New("missing API credential")

	// ErrNoURLs indicates no usable URL was supplied
	ErrNoURLs = errors.New("no URLs provided")

	// ErrTooManyURLs indicates more URLs than the configured maximum
	ErrTooManyURLs = errors.New("too many URLs")

	// ErrNoDocuments indicates no URL yielded readable text
	ErrNoDocuments = errors.New("no documents could be loaded")

	// ErrNoSegments indicates the loaded documents produced no text segments
	ErrNoSegments = errors.New("documents produced no text segments")

	// ErrEmbedding indicates the embedding service failed
	ErrEmbedding = errors.New("embedding failed")

	// ErrIndexNotFound indicates no index has been persisted yet
	ErrIndexNotFound = errors.New("index not found")

	// ErrDimensionMismatch indicates stored vectors do not match the embedding model
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyQuestion indicates a blank question
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrGeneration indicates the language model call failed
	ErrGeneration = errors.New("answer generation failed")
)
