package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a listing URI is not in the primary store.
	ErrNotFound = errors.New("listing not found")
)

// ValidationError reports caller input that fails a precondition. It is
// never retried and nothing is written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageReadError aborts a read operation. Query results are never partial.
type StorageReadError struct {
	Op  string
	Err error
}

func (e *StorageReadError) Error() string {
	return fmt.Sprintf("storage read %s: %v", e.Op, e.Err)
}

func (e *StorageReadError) Unwrap() error { return e.Err }

// StorageWriteError reports a failed primary or index write. Key is empty
// for the primary record.
type StorageWriteError struct {
	Key string
	Err error
}

func (e *StorageWriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage write primary record: %v", e.Err)
	}
	return fmt.Sprintf("storage write index %s: %v", e.Key, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// IsTimeout reports whether err was caused by a storage call exceeding its
// deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// joinValidation flattens several field problems into one ValidationError.
func joinValidation(problems []*ValidationError) *ValidationError {
	if len(problems) == 1 {
		return problems[0]
	}
	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.Error())
	}
	return &ValidationError{Message: strings.Join(msgs, "; ")}
}
