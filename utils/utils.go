package utils

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// GetIPFromAddr extracts the IP address from a net.Addr.
func GetIPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("address is nil")
	}

	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			// Maybe it's just an IP without port
			host = addr.String()
		}
		ip = net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
		}
	}
	return ip, nil
}

// IPKey returns the textual IP of addr, or the full address string when no IP
// can be extracted. It is used to key per-client bookkeeping.
func IPKey(addr net.Addr) string {
	ip, err := GetIPFromAddr(addr)
	if err != nil {
		if addr == nil {
			return ""
		}
		return addr.String()
	}
	return ip.String()
}

// ContainsNonASCII checks if a string contains any non-ASCII characters (bytes > 127).
func ContainsNonASCII(s string) bool {
	for _, v := range s {
		if v >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// GenerateID returns a new lexically sortable identifier. Session and
// message ids use it so that log lines and spool files order by time.
func GenerateID() string {
	return ulid.Make().String()
}

// DomainOf returns the part after the last '@' of an address, lower-cased.
func DomainOf(address string) string {
	i := strings.LastIndexByte(address, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(address[i+1:])
}
