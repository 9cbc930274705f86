package portal

import "errors"

// Transport sentinels returned by the gateway
var (
	// ErrPortalUnavailable is returned when the portal could not be reached
	ErrPortalUnavailable = errors.New("portal: unavailable")
	// ErrPortalRejected is returned for non-2xx answers and acknowledgments without a reference
	ErrPortalRejected = errors.New("portal: delivery rejected")
	// ErrNoSigningKey is returned when neither an explicit nor a master secret is configured
	ErrNoSigningKey = errors.New("portal: no signing key for supplier")
)
