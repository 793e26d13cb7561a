package engine

import (
	"errors"
	"fmt"
)

// ErrorTag classifies a listing or stat failure.
type ErrorTag string

// Failure tags reported by engines.
const (
	ErrorTagNotFound     ErrorTag = "EntryNotFound"
	ErrorTagNotAFolder   ErrorTag = "EntryIsFile"
	ErrorTagAccessDenied ErrorTag = "AccessDenied"
	ErrorTagOffline      ErrorTag = "Offline"
	ErrorTagInternal     ErrorTag = "Internal"
)

// Sentinels usable with errors.Is against any *Error of the matching tag.
var (
	ErrNotFound     = errors.New("entry not found")
	ErrNotAFolder   = errors.New("entry is not a folder")
	ErrAccessDenied = errors.New("access denied")
	ErrOffline      = errors.New("engine offline")
	ErrInternal     = errors.New("internal engine fault")

	// ErrUnknownHandle is returned (wrapped in a NotFound *Error) for handles the Mux does not know.
	ErrUnknownHandle = errors.New("unknown workspace handle")
	// ErrNoIDListing is wrapped when a backend cannot list folders by identifier.
	ErrNoIDListing = errors.New("backend cannot list by id")
)

// Error is a typed engine failure.
type Error struct {
	Tag  ErrorTag
	Path string
	Err  error
}

// Errorf builds an *Error with a formatted cause.
func Errorf(tag ErrorTag, path, format string, args ...any) *Error {
	return &Error{Tag: tag, Path: path, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Tag, e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", e.Tag, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's tag.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Tag)
}

func sentinel(tag ErrorTag) error {
	switch tag {
	case ErrorTagNotFound:
		return ErrNotFound
	case ErrorTagNotAFolder:
		return ErrNotAFolder
	case ErrorTagAccessDenied:
		return ErrAccessDenied
	case ErrorTagOffline:
		return ErrOffline
	default:
		return ErrInternal
	}
}

// TagOf returns the tag of err, or Internal when err is not an *Error.
func TagOf(err error) ErrorTag {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag
	}
	return ErrorTagInternal
}
