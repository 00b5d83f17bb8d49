package domain

import "errors"

var (
	// ErrProfileNotFound means no customer history exists for the lookup key.
	ErrProfileNotFound = errors.New("customer profile not found")

	// ErrInvalidClaimData means a numeric claim or profile field could not be coerced.
	ErrInvalidClaimData = errors.New("invalid claim data")

	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)
