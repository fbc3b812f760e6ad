package address

import (
	"net"
	"strings"
)

const DefaultHost = "0.0.0.0"

// Normalize completes a port-only address with the default host, so ":8080" becomes
// "0.0.0.0:8080". An address without a port is returned as is.
func Normalize(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return DefaultHost + addr
	}

	return addr
}

// IsLocalhost reports whether the address points at the loopback interface.
func IsLocalhost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	if strings.EqualFold(host, "localhost") {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
