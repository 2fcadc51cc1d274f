package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies extraction failures.
type ErrorKind string

const (
	ErrTransient ErrorKind = "TRANSIENT"
	ErrQuota     ErrorKind = "QUOTA"
	ErrConfig    ErrorKind = "CONFIG"
	ErrSchema    ErrorKind = "SCHEMA"
)

// ExtractionError is returned by providers and the AI extractor. Only
// ErrConfig changes extractor state; every kind falls back per message.
type ExtractionError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s extraction error (%s): %v", e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s extraction error: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// KindOf returns the kind of an ExtractionError in err's chain, or
// ErrTransient for unclassified errors.
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrTransient
}
