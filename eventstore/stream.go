package eventstore

import (
	"errors"
	"strings"
)

const streamNameSeparator = "-"

var (
	// ErrEmptyCategory is returned when a stream name is built or parsed with an empty category.
	ErrEmptyCategory = errors.New("stream category must not be empty")

	// ErrEmptyStreamID is returned when a stream name is built or parsed with an empty instance id.
	ErrEmptyStreamID = errors.New("stream id must not be empty")

	// ErrInvalidStreamName is returned when a raw stream name can not be split into category and id.
	ErrInvalidStreamName = errors.New("stream name must have the form category-id")
)

// CategoryString is a type alias for string, naming the grouping of all entity streams
// of one aggregate type, e.g. "order" for the streams "order-111", "order-222", ...
type CategoryString = string

// StreamName identifies one entity stream as category plus instance identity.
//
// The category must not contain the separator; the id may (UUIDs do).
// It should only be constructed with BuildStreamName or ParseStreamName.
type StreamName struct {
	category string
	id       string
}

// BuildStreamName is a factory method for StreamName.
func BuildStreamName(category CategoryString, id string) (StreamName, error) {
	if category == "" {
		return StreamName{}, ErrEmptyCategory
	}

	if strings.Contains(category, streamNameSeparator) {
		return StreamName{}, ErrInvalidStreamName
	}

	if id == "" {
		return StreamName{}, ErrEmptyStreamID
	}

	return StreamName{category: category, id: id}, nil
}

// ParseStreamName splits a raw stream name at the first separator into category and id.
func ParseStreamName(raw string) (StreamName, error) {
	category, id, found := strings.Cut(raw, streamNameSeparator)
	if !found {
		return StreamName{}, ErrInvalidStreamName
	}

	return BuildStreamName(category, id)
}

func (s StreamName) Category() CategoryString {
	return s.category
}

func (s StreamName) ID() string {
	return s.id
}

func (s StreamName) String() string {
	return s.category + streamNameSeparator + s.id
}

// IsZero reports whether the stream name was never properly constructed.
func (s StreamName) IsZero() bool {
	return s.category == "" && s.id == ""
}
