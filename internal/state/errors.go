package state

import "errors"

// Error taxonomy shared by every mutating entry point. Callers match with
// errors.Is; wrapping layers add context with fmt.Errorf("...: %w", err).
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidLeverage        = errors.New("invalid leverage")
	ErrInvalidStopLoss        = errors.New("invalid stop-loss/take-profit ordering")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionHealthy        = errors.New("position healthy")
	ErrSystemPaused           = errors.New("system paused")
	ErrCircuitBreakerActive   = errors.New("circuit breaker active")
	ErrOracleUnavailable      = errors.New("oracle unavailable")
)
