package push

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"strings"
)

var urlSafeToStd = strings.NewReplacer("-", "+", "_", "/")

// DecodeApplicationServerKey turns the backend's URL-safe base64 VAPID key
// into the raw bytes the platform subscribe call expects: '-' becomes '+',
// '_' becomes '/', and '=' padding is restored before standard decoding.
// The result must be an uncompressed P-256 point.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVAPIDKey)
	}

	std := urlSafeToStd.Replace(key)
	if rem := len(std) % 4; rem != 0 {
		std += strings.Repeat("=", 4-rem)
	}

	raw, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVAPIDKey, err)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("%w: not an uncompressed P-256 point (%d bytes)", ErrInvalidVAPIDKey, len(raw))
	}
	return raw, nil
}
