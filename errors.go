package goextract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/brunobiangulo/goextract/container"
	"github.com/brunobiangulo/goextract/parser"
)

// Kind classifies every failure that crosses the engine boundary.
type Kind int

const (
	KindUnrecognizedFormat Kind = iota + 1
	KindUnsupportedVariant
	KindTruncatedInput
	KindCorruptedPart
	KindResourceLimitExceeded
	KindIOFailure
)

var kindNames = map[Kind]string{
	KindUnrecognizedFormat:    "UnrecognizedFormat",
	KindUnsupportedVariant:    "UnsupportedVariant",
	KindTruncatedInput:        "TruncatedInput",
	KindCorruptedPart:         "CorruptedPart",
	KindResourceLimitExceeded: "ResourceLimitExceeded",
	KindIOFailure:             "IoFailure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("goextract: unknown error kind %q", b)
	}
	*k = v
	return nil
}

var (
	// ErrUnrecognizedFormat: no known signature and no usable hint.
	ErrUnrecognizedFormat = errors.New("goextract: unrecognized format")

	// ErrUnsupportedVariant: the container is known, the dialect inside is not.
	ErrUnsupportedVariant = errors.New("goextract: unsupported document variant")

	// ErrTruncatedInput: fewer bytes than the shortest signature.
	ErrTruncatedInput = errors.New("goextract: truncated input")

	// ErrCorruptedPart: a part failed to decompress or parse.
	ErrCorruptedPart = errors.New("goextract: corrupted part")

	// ErrResourceLimitExceeded: a depth, size or time budget ran out.
	ErrResourceLimitExceeded = errors.New("goextract: resource limit exceeded")

	// ErrIOFailure: reading the source failed.
	ErrIOFailure = errors.New("goextract: i/o failure")

	// ErrInvalidConfig is returned by New and LoadConfig for bad settings.
	ErrInvalidConfig = errors.New("goextract: invalid configuration")

	// ErrClosed is returned when extracting with a closed engine.
	ErrClosed = errors.New("goextract: engine is closed")
)

var sentinels = map[Kind]error{
	KindUnrecognizedFormat:    ErrUnrecognizedFormat,
	KindUnsupportedVariant:    ErrUnsupportedVariant,
	KindTruncatedInput:        ErrTruncatedInput,
	KindCorruptedPart:         ErrCorruptedPart,
	KindResourceLimitExceeded: ErrResourceLimitExceeded,
	KindIOFailure:             ErrIOFailure,
}

// Error is the single classified failure of an extraction. Part names the
// failing part when the failure is attributable to one.
type Error struct {
	Kind Kind
	Part string
	Err  error
}

func (e *Error) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("goextract: %s in %s: %v", e.Kind, e.Part, e.Err)
	}
	return fmt.Sprintf("goextract: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so callers can write
// errors.Is(err, goextract.ErrCorruptedPart).
func (e *Error) Is(target error) bool {
	return target != nil && sentinels[e.Kind] == target
}

// KindOf returns the kind of a classified error, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// classify maps a stage error to its public kind. The stage error stays
// reachable through Unwrap.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var part string
	var pe *parser.PartError
	if errors.As(err, &pe) {
		part = pe.Part
	}
	return &Error{Kind: kindOf(err), Part: part, Err: err}
}

func kindOf(err error) Kind {
	var re *readError
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &re), errors.As(err, &pathErr):
		return KindIOFailure
	case errors.Is(err, parser.ErrTruncated):
		return KindTruncatedInput
	case errors.Is(err, parser.ErrUnrecognized):
		return KindUnrecognizedFormat
	case errors.Is(err, parser.ErrUnsupportedVariant):
		return KindUnsupportedVariant
	case errors.Is(err, parser.ErrOutputLimit),
		errors.Is(err, container.ErrPartTooLarge),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindResourceLimitExceeded
	default:
		return KindCorruptedPart
	}
}

// Diagnostic records one recovered part failure.
type Diagnostic struct {
	Part string
	Kind Kind
	Err  error
}

func (d Diagnostic) String() string { return fmt.Sprintf("%s: %s: %v", d.Part, d.Kind, d.Err) }

type diagnosticJSON struct {
	Part  string `json:"part"`
	Kind  Kind   `json:"kind"`
	Cause string `json:"cause"`
}

func (d Diagnostic) MarshalJSON() ([]byte, error) {
	var cause string
	if d.Err != nil {
		cause = d.Err.Error()
	}
	return json.Marshal(diagnosticJSON{Part: d.Part, Kind: d.Kind, Cause: cause})
}

func (d *Diagnostic) UnmarshalJSON(b []byte) error {
	var v diagnosticJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	d.Part, d.Kind = v.Part, v.Kind
	d.Err = errors.New(v.Cause)
	return nil
}

func diagnostics(pes []parser.PartError) []Diagnostic {
	if len(pes) == 0 {
		return nil
	}
	out := make([]Diagnostic, len(pes))
	for i, pe := range pes {
		out[i] = Diagnostic{Part: pe.Part, Kind: kindOf(pe.Err), Err: pe.Err}
	}
	return out
}
