package service

import "errors"

// Business outcomes are returned as these sentinels; callers match with errors.Is.
var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrRoomTypeNotFound         = errors.New("room type not found")
	ErrInsufficientAvailability = errors.New("insufficient availability")
	ErrHoldNotFound             = errors.New("hold not found")
	ErrHoldAlreadyResolved      = errors.New("hold already resolved")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrProviderUnreachable      = errors.New("payment provider unreachable")
	ErrAuditWrite               = errors.New("audit write failed")
)
