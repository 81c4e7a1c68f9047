package domain

import "errors"

var (
	// ErrStoreUnavailable marks a backend I/O failure in the counter store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPublishFailed marks a failed announcement on the broadcast channel.
	// It never undoes the counter mutation that preceded it.
	ErrPublishFailed = errors.New("publish failed")
	// ErrDecode marks a malformed message received from the broadcast channel.
	ErrDecode = errors.New("decode error")
	// ErrSendFailed marks a broken connection during fan-out.
	ErrSendFailed = errors.New("send failed")
	// ErrSubscriptionLost marks an unrecoverable transport failure of the subscriber.
	ErrSubscriptionLost = errors.New("subscription lost")

	ErrAuthTimeout = errors.New("authentication timeout")
	ErrAuthInvalid = errors.New("invalid credential")
	ErrAuthMissing = errors.New("missing credential")

	// ErrReceiveTimeout is returned by transports when no client frame arrived in time.
	ErrReceiveTimeout = errors.New("receive timeout")

	ErrInvalidEvent       = errors.New("invalid event")
	ErrEventNotFound      = errors.New("event not found")
	ErrHistoryUnavailable = errors.New("event history not configured")
)
