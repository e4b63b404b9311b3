package models

import "errors"

var (
	ErrNotFound = errors.New("not found")

	ErrInvalidEvent = errors.New("invalid event")

	// I/O failures that are expected to go away on redelivery.
	ErrTransientStore  = errors.New("transient store error")
	ErrTransientBroker = errors.New("transient broker error")
)
