package vesting

import "errors"

var (
	ErrNilState             = errors.New("vesting: state not configured")
	ErrTransferNotSet       = errors.New("vesting: token transfer collaborator not configured")
	ErrInvalidAmount        = errors.New("vesting: amount must be positive")
	ErrInsufficientBalance  = errors.New("vesting: amount exceeds withdrawable balance")
	ErrEarlyExitDisallowed  = errors.New("vesting: early exit not permitted for this withdrawal")
	ErrTokenNotRegistered   = errors.New("vesting: reward token not registered")
	ErrDuplicateRewardToken = errors.New("vesting: reward token already registered")
	ErrRewardTransferFailed = errors.New("vesting: reward transfer failed")
)
