package parser

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("parser: input shorter than any format signature")
	ErrUnrecognized       = errors.New("parser: unrecognized format")
	ErrUnsupportedVariant = errors.New("parser: unsupported document variant")
	ErrMalformed          = errors.New("parser: malformed part")
	ErrOutputLimit        = errors.New("parser: output size limit reached")
)

// PartError is a failure attributed to one part. Recoverable part failures
// are collected as diagnostics; a PartError returned from Run is fatal.
type PartError struct {
	Part string
	Err  error
}

func (e *PartError) Error() string { return fmt.Sprintf("%s: %v", e.Part, e.Err) }

func (e *PartError) Unwrap() error { return e.Err }

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
}
