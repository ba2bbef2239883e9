package borderrouter

import "errors"

var (
	// ErrRetryExhausted is returned by RetryController.Failure once the
	// configured maximum number of attempts has been used. No further retry
	// is scheduled until Reset.
	ErrRetryExhausted = errors.New("borderrouter: retry attempts exhausted")

	// ErrInvalidPrefixLength is returned for prefix lengths above 128.
	ErrInvalidPrefixLength = errors.New("borderrouter: prefix length must be 0-128")

	// ErrUnknownStatus is returned for interface statuses the router does not know.
	ErrUnknownStatus = errors.New("borderrouter: unknown interface status")

	// ErrUnknownVariant is returned for unsupported mesh modes or backhaul drivers.
	ErrUnknownVariant = errors.New("borderrouter: unknown variant")
)
