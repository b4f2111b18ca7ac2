package policyrag

import "errors"

// Build and load failures. These mean the snapshot is broken and are fatal.
var (
	ErrConfiguration     = errors.New("invalid configuration")
	ErrEmptyInput        = errors.New("empty input")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidK          = errors.New("k must be positive")
	ErrCorruptStore      = errors.New("corrupt store")
	ErrNoExtractableText = errors.New("no extractable text in source document")
)

// Query failures. They fail the current query only.
var (
	ErrEmbedding  = errors.New("embedding failed")
	ErrEmptyQuery = errors.New("empty query")
	ErrCompletion = errors.New("completion failed")
)
