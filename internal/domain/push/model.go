package push

import (
	"encoding/base64"
	"errors"
	"regexp"
)

var (
	ErrEndpointMismatch = errors.New("endpoint does not belong to this browser's active subscription")
	ErrNotAccepted      = errors.New("backend did not accept the subscription")
	ErrNoSubscription   = errors.New("no active push subscription")
	ErrInvalidVAPIDKey  = errors.New("invalid VAPID public key")
)

// State is the position of this installation in the subscription lifecycle.
type State string

const (
	StateUnsupported       State = "UNSUPPORTED"
	StatePermissionDefault State = "PERMISSION_DEFAULT"
	StatePermissionDenied  State = "PERMISSION_DENIED"
	StatePermissionGranted State = "PERMISSION_GRANTED"
	StateSubscribed        State = "SUBSCRIBED"
)

const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
)

// Keys are the subscription's encryption keys, base64 encoded for transport.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is the transport form sent to POST /notifications/subscribe.
type Subscription struct {
	Endpoint   string `json:"endpoint"`
	Keys       Keys   `json:"keys"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
}

var mobileUA = regexp.MustCompile(`(?i)mobi|android|iphone|ipad|ipod`)

// DeviceInfo derives the coarse device tag from a user agent.
func DeviceInfo(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	if mobileUA.MatchString(userAgent) {
		return DeviceMobile
	}
	return DeviceDesktop
}

// Encode converts a native subscription to its transport form. The endpoint
// passes through unchanged.
func Encode(native *NativeSubscription, userAgent string) *Subscription {
	return &Subscription{
		Endpoint: native.Endpoint,
		Keys: Keys{
			P256dh: base64.StdEncoding.EncodeToString(native.P256dh),
			Auth:   base64.StdEncoding.EncodeToString(native.Auth),
		},
		DeviceInfo: DeviceInfo(userAgent),
	}
}
