package sounding

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the pipeline.
var (
	// ErrConfiguration marks invalid run parameters; it is raised before any work begins.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransport marks HTTP or network failures for a single request.
	ErrTransport = errors.New("transport error")
	// ErrParse marks HTML that could not be parsed; callers fall back to empty text.
	ErrParse = errors.New("parse error")
	// ErrIO marks filesystem or object store write failures.
	ErrIO = errors.New("io error")
)

// TransportError describes a failed GET against the public site.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Configurationf wraps a formatted message with ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
