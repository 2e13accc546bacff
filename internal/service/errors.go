package service

import "errors"

var (
	// ErrOrderNotFound means the order holding the downgrade's checkout
	// data no longer exists.  The record is moved to error.
	ErrOrderNotFound = errors.New("downgrade order not found")
	// ErrTargetLevelNotFound means the checkout data names no level.
	ErrTargetLevelNotFound = errors.New("downgrade target level not found")
	// ErrCheckoutFailed means the host could not complete the checkout.
	ErrCheckoutFailed = errors.New("asynchronous checkout failed")
	// ErrProcessInFlight is returned when another worker holds the
	// process lock for the same record.
	ErrProcessInFlight = errors.New("downgrade is already being processed")
	// ErrAlreadyProcessed is returned when the record has already been
	// downgraded or has lost its original level.
	ErrAlreadyProcessed = errors.New("downgrade already processed")
)
