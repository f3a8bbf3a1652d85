package models

import (
	"strings"
	"time"
)

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a caller-controlled value containing ':' cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// AuthFailureKey is the counter key for failed authentications from one IP.
func AuthFailureKey(ip string) string {
	return "ratelimit:authfail:ip:" + SanitizeKeySegment(ip)
}

// Window is the state of one fixed-window counter.
type Window struct {
	Count   int
	ResetAt time.Time
}
