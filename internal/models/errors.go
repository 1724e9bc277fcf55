package models

import "errors"

var (
	// ErrProviderFailure wraps embedding and language-model call failures.
	ErrProviderFailure = errors.New("provider failure")

	ErrNotFound = errors.New("not found")

	ErrInvalidInput = errors.New("invalid input")

	// ErrRequestInProgress is returned when an idempotency key is claimed by a
	// request that has not finished yet.
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")
)
