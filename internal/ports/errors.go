package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market Data Errors
	ErrDataUnavailable = errors.New("market data unavailable")

	// Exchange Specific Errors
	ErrExchangeUnavailable   = errors.New("exchange API is unavailable")
	ErrConnectionFailed      = errors.New("failed to connect to the exchange")
	ErrRateLimited           = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed  = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys        = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds     = errors.New("insufficient funds for operation")
	ErrExchangeRejected      = errors.New("order rejected by the exchange")
	ErrPositionModeMismatch  = errors.New("order position side does not match exchange position mode")
	ErrOrderNotFound         = errors.New("order not found on the exchange")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionExists        = errors.New("position already open for symbol")
	ErrOrderPlacementFailed  = errors.New("failed to place order")
	ErrOrderCancelFailed     = errors.New("failed to cancel order")
	ErrProtectiveLegFailed   = errors.New("protective order leg failed to place")

	// Strategy Lifecycle Errors
	ErrAlreadyRunning = errors.New("strategy already running for symbol")
	ErrNotRunning     = errors.New("no running strategy for symbol")
	ErrMaxStrategies  = errors.New("maximum concurrent strategies reached")

	// Risk Errors
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrDeleteFailed   = errors.New("database delete failed")
)

// IsTransient reports whether the error is worth a bounded retry: timeouts,
// rate limits and connectivity failures. Rejections are excluded because
// retrying a structurally bad order only burns rate limit.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrExchangeUnavailable)
}

// IsRejected reports whether the exchange refused the order outright
// (bad parameters, margin, position mode). Never retried blindly.
func IsRejected(err error) bool {
	return errors.Is(err, ErrExchangeRejected) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrPositionModeMismatch)
}
