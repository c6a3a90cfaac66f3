package store

import (
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("store closed")

	ErrEmptyKey = errors.New("empty key")

	ErrNotFound = errors.New("datum not found")
)

// IoError is a disk failure on a single store operation.
type IoError struct {
	Op  string
	Key string
	Err error
}

func (e *IoError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func ioErr(op, key string, err error) error {
	return &IoError{Op: op, Key: key, Err: err}
}
