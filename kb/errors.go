package kb

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a collection or document does not exist.
var ErrNotFound = errors.New("not found")

// EmbeddingError wraps a failure to generate embeddings. Writes that
// require an embedding are aborted when this occurs.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("error generating embeddings: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// ValidationError reports an invalid request, such as an unsupported
// loader or splitter method.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
