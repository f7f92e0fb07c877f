package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of remote failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors and malformed bodies.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassQuota represents 429 responses and requests refused by the
	// local quota guard.
	ErrorClassQuota ErrorClass = "quota"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// RemoteError is a failed gateway request.
type RemoteError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("remote %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or "" when err is not a RemoteError.
func ClassOf(err error) ErrorClass {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.ErrorClass
	}
	return ""
}

// classifyStatus maps an HTTP status >= 400 to its error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassQuota
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
