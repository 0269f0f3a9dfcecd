package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Twitch EventSub notification headers.
const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"

	messageTypeNotification = "notification"
	messageTypeVerification = "webhook_callback_verification"

	hmacPrefix = "sha256="
)

// hasRequiredHeaders checks that every EventSub header is present.
func hasRequiredHeaders(h http.Header) bool {
	for _, key := range []string{headerMessageID, headerMessageTimestamp, headerMessageSignature, headerMessageType} {
		if h.Get(key) == "" {
			return false
		}
	}
	return true
}

// validSignature verifies the HMAC-SHA256 signature over id+timestamp+body
// using a constant-time comparison.
func validSignature(secret []byte, h http.Header, body []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(h.Get(headerMessageID)))
	mac.Write([]byte(h.Get(headerMessageTimestamp)))
	mac.Write(body)
	expected := hmacPrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(h.Get(headerMessageSignature)))
}
