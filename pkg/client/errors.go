package client

import (
	"errors"
	"fmt"
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than rate limits.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents quota rejections (GitHub 403 with
	// spent quota, GitLab 429).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts on transient
	// errors are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrNotFound is returned for repositories or resources the API
	// reports as missing (or legally unavailable, status 451).
	ErrNotFound = errors.New("resource does not exist")

	// ErrAuthentication is returned when the API rejects the credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrMalformedResponse is returned when a response body cannot be
	// decoded as the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed API response")

	// ErrNotImplemented is returned by providers whose API does not offer
	// an operation (GitLab has no review comment endpoint, Bitbucket no
	// user listing).
	ErrNotImplemented = errors.New("operation not supported by this provider")
)

// APIError is a fetch failure with provider context. Transient conditions
// never surface as APIError; only terminal ones do.
type APIError struct {
	Provider   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.Provider, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.Provider, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}
