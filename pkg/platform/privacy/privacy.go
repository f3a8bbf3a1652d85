// Package privacy masks personal data before it reaches logs or the audit trail.
//
// Every function here is idempotent: masking an already-masked value returns
// it unchanged, so callers may mask defensively without corrupting values
// that were masked upstream.
package privacy

import (
	"net/netip"
	"strconv"
	"strings"
)

const mask = "***"

// MaskEmail keeps the first character of the local part and the full domain.
//
//	MaskEmail("john.doe@example.com") == "j***@example.com"
//
// Values without a usable local part or domain are fully masked.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return mask
	}
	local, domain := email[:at], email[at+1:]
	first := []rune(local)[0]
	return string(first) + mask + "@" + domain
}

// MaskIP keeps the network half of an address.
// IPv4 keeps the first two octets ("192.168.***.***"); IPv6 keeps the first
// four hextets. Anything unparseable is fully masked.
func MaskIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	if isMaskedIPv4(ip) || isMaskedIPv6(ip) {
		return ip
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return mask
	}
	addr = addr.Unmap()
	if addr.Is4() {
		octets := strings.Split(addr.String(), ".")
		return octets[0] + "." + octets[1] + "." + mask + "." + mask
	}
	hextets := strings.Split(addr.StringExpanded(), ":")
	return strings.Join(hextets[:4], ":") + ":" + mask
}

// isMaskedIPv4 matches exactly the shape MaskIP produces for IPv4.
func isMaskedIPv4(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 || parts[2] != mask || parts[3] != mask {
		return false
	}
	for _, octet := range parts[:2] {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 || strconv.Itoa(n) != octet {
			return false
		}
	}
	return true
}

// isMaskedIPv6 matches four expanded hextets followed by ":***".
func isMaskedIPv6(ip string) bool {
	prefix, ok := strings.CutSuffix(ip, ":"+mask)
	if !ok {
		return false
	}
	hextets := strings.Split(prefix, ":")
	if len(hextets) != 4 {
		return false
	}
	for _, h := range hextets {
		if len(h) != 4 {
			return false
		}
		if _, err := strconv.ParseUint(h, 16, 16); err != nil {
			return false
		}
	}
	return true
}

// sensitiveKeys are substrings of detail keys whose values must never be
// recorded, whatever the caller passed.
var sensitiveKeys = []string{"authorization", "password", "secret", "plaintext", "cookie"}

// sensitiveExact are keys that are only sensitive as a whole word; prefixes
// such as "hash_prefix" stay allowed.
var sensitiveExact = map[string]bool{"token": true, "hash": true, "digest": true, "bearer": true}

// Redacted replaces values of sensitive detail keys.
const Redacted = "[REDACTED]"

// IsSensitiveKey reports whether a detail key names secret material.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	if sensitiveExact[k] {
		return true
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// ScrubDetails returns a copy of details with sensitive values redacted.
// Nested maps are scrubbed recursively.
func ScrubDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = ScrubDetails(nested)
			continue
		}
		out[k] = v
	}
	return out
}
