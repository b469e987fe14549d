package library

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("entry not found")
	// ErrDuplicateLocation is matched by DuplicateLocationError.
	ErrDuplicateLocation = errors.New("entry exists in more than one location")
	// ErrLocationChange is returned when a save would move an entry.
	ErrLocationChange = errors.New("entry may not change location")
)

// NotFoundError reports an entry absent from both locations, with near-miss
// suggestions when any exist.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("entry %q not found", e.Name)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean: %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DuplicateLocationError reports an entry stored in more than one place.
// It signals corruption; discovery halts rather than picking one copy.
type DuplicateLocationError struct {
	Name  string
	Paths []string
}

func (e *DuplicateLocationError) Error() string {
	return fmt.Sprintf("entry %q exists in more than one location: %s", e.Name, strings.Join(e.Paths, ", "))
}

// Is lets errors.Is match ErrDuplicateLocation.
func (e *DuplicateLocationError) Is(target error) bool {
	return target == ErrDuplicateLocation
}
