package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyBooked    = errors.New("user already booked this slot")
	ErrNotBooked        = errors.New("user has not booked this slot")
	ErrCapacityExceeded = errors.New("slot capacity exceeded")
	ErrForbidden        = errors.New("not allowed to act on this booking")
	ErrInvalidInput     = errors.New("invalid input")
)
