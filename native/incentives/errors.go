package incentives

import "errors"

var (
	ErrNilState          = errors.New("incentives: state not configured")
	ErrNotConfigured     = errors.New("incentives: distributor identifier not configured")
	ErrDuplicatePool     = errors.New("incentives: pool already registered")
	ErrPoolNotFound      = errors.New("incentives: pool not registered")
	ErrInvalidAmount     = errors.New("incentives: amount must be positive")
	ErrInsufficientStake = errors.New("incentives: withdraw exceeds staked amount")
	ErrVesterNotSet      = errors.New("incentives: reward vester not configured")
)
