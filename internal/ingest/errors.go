package ingest

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/scribe/internal/model"
)

// Code is a stable, machine-readable failure class.
type Code string

const (
	CodeUnsupportedPlatform Code = "UNSUPPORTED_PLATFORM"
	CodeEmptyContent        Code = "EMPTY_CONTENT"
	CodeStructuralMismatch  Code = "STRUCTURAL_MISMATCH"
	CodeParse               Code = "PARSE_FAILED"
)

var (
	// ErrDetectionAmbiguous marks a detection below the confidence floor. It is
	// informational: the import falls back to the generic normalizer.
	ErrDetectionAmbiguous = errors.New("detection ambiguous")

	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrEmptyContent        = errors.New("empty or too short content")
	ErrStructuralMismatch  = errors.New("structural mismatch")

	// ErrParse wraps every internal normalizer or extractor failure.
	ErrParse = errors.New("parse failed")
)

var sentinels = map[Code]error{
	CodeUnsupportedPlatform: ErrUnsupportedPlatform,
	CodeEmptyContent:        ErrEmptyContent,
	CodeStructuralMismatch:  ErrStructuralMismatch,
	CodeParse:               ErrParse,
}

// Error is returned by Dispatcher.Import for every classified failure.
// errors.Is matches both the sentinel for Code and the underlying cause.
type Error struct {
	Code     Code
	Platform model.Platform
	Err      error
}

func (e *Error) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Platform, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Code]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(code Code, p model.Platform, err error) *Error {
	return &Error{Code: code, Platform: p, Err: err}
}

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
