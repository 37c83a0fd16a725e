package vmess

import "errors"

var (
	// ErrRequestTooShort is returned when a decoded request header is
	// shorter than the fixed-field minimum, before the checksum is even
	// checked.
	ErrRequestTooShort = errors.New("vmess: request header shorter than minimum")

	// ErrResponseHeadTooShort is returned when a decrypted response head
	// (or a DynamicPort instruction blob within it) is shorter than its
	// fixed-field minimum.
	ErrResponseHeadTooShort = errors.New("vmess: response head shorter than minimum")

	// ErrResponseAuthMismatch is returned when the response head's
	// auth_code doesn't match the responseV byte sent in the request
	// header, meaning the peer could not have decrypted that header.
	ErrResponseAuthMismatch = errors.New("vmess: response auth_code mismatch")
)
