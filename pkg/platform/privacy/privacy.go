// Package privacy redacts identifiers before they reach logs or audit sinks.
package privacy

import (
	"fmt"
	"net"
	"strings"
)

// AnonymizeIP zeroes the host portion of an address: the last octet for IPv4,
// everything past the /48 prefix for IPv6. Returns "unknown" for empty input
// and "invalid" for unparseable input.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}

	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

// RedactAddress keeps the 0x prefix, the first four and the last four hex digits
// of a wallet address ("0x1234…abcd"). Short or empty inputs become "unknown".
func RedactAddress(address string) string {
	a := strings.TrimSpace(address)
	if !strings.HasPrefix(strings.ToLower(a), "0x") || len(a) < 12 {
		return "unknown"
	}
	return strings.ToLower(a[:6] + "…" + a[len(a)-4:])
}
