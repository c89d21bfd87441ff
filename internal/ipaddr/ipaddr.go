// Package ipaddr provides a family-aware IP endpoint value type used
// throughout the session core for candidate addresses, published
// addresses, and UPnP external addresses.
package ipaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Family identifies the address family of an IpAddr.
type Family int

const (
	// Unspecified marks an IpAddr with no usable address (the zero value).
	Unspecified Family = iota
	V4
	V6
)

func (f Family) String() string {
	switch f {
	case V4:
		return "v4"
	case V6:
		return "v6"
	default:
		return "unspecified"
	}
}

// IpAddr is a discriminated value: either IPv4 or IPv6, carrying address
// bytes and a port. The zero value is Unspecified and reports false when
// used as a boolean (see Defined).
type IpAddr struct {
	family Family
	ip     net.IP
	port   uint16
}

// FromNetIP builds an IpAddr from a stdlib net.IP and port.
func FromNetIP(ip net.IP, port uint16) IpAddr {
	if ip == nil {
		return IpAddr{}
	}
	if v4 := ip.To4(); v4 != nil {
		return IpAddr{family: V4, ip: v4, port: port}
	}
	if v6 := ip.To16(); v6 != nil {
		return IpAddr{family: V6, ip: v6, port: port}
	}
	return IpAddr{}
}

// Parse builds an IpAddr from a string of the form "1.2.3.4", "1.2.3.4:5060",
// "::1", "[::1]:5060", or "host:port" where host is a literal address.
// Malformed input yields an Unspecified (Defined()==false) value; Parse
// never panics or returns an error — callers test Defined() instead.
func Parse(s string) IpAddr {
	s = strings.TrimSpace(s)
	if s == "" {
		return IpAddr{}
	}

	// Try host:port first (handles "1.2.3.4:5060", "[::1]:5060", and
	// "registrar.example.org:5060").
	if host, portStr, err := net.SplitHostPort(s); err == nil {
		n, perr := strconv.ParseUint(portStr, 10, 16)
		if perr != nil {
			return IpAddr{}
		}
		port := uint16(n)
		if ip := net.ParseIP(host); ip != nil {
			return FromNetIP(ip, port)
		}
		if ips, lerr := net.LookupIP(host); lerr == nil && len(ips) > 0 {
			return FromNetIP(ips[0], port)
		}
		return IpAddr{}
	}

	// No port: bare address, possibly bracketed IPv6 without port.
	bare := strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	if ip := net.ParseIP(bare); ip != nil {
		return FromNetIP(ip, 0)
	}
	return IpAddr{}
}

// Defined reports whether the family is v4 or v6 (i.e. the value is
// boolean-truthy).
func (a IpAddr) Defined() bool {
	return a.family == V4 || a.family == V6
}

// Family returns the address family.
func (a IpAddr) Family() Family { return a.family }

// Port returns the port, 0 if unset.
func (a IpAddr) Port() uint16 { return a.port }

// SetPort returns a copy of a with the port replaced.
func (a IpAddr) SetPort(port uint16) IpAddr {
	a.port = port
	return a
}

// IP returns the underlying net.IP, nil if Unspecified.
func (a IpAddr) IP() net.IP { return a.ip }

// ToString formats the address. Port is rendered iff includePort.
// IPv6 addresses are wrapped in brackets whenever a port is rendered, or
// always when forceIPv6Brackets is set. Formatting round-trips through
// Parse for any Defined value.
func (a IpAddr) ToString(includePort, forceIPv6Brackets bool) string {
	if !a.Defined() {
		return ""
	}
	host := a.ip.String()
	brackets := a.family == V6 && (includePort || forceIPv6Brackets)
	if brackets {
		host = "[" + host + "]"
	}
	if includePort {
		return fmt.Sprintf("%s:%d", host, a.port)
	}
	return host
}

// String implements fmt.Stringer, rendering host and port.
func (a IpAddr) String() string {
	return a.ToString(true, false)
}

// Equal reports whether two IpAddr values have the same family, address
// bytes, and port.
func (a IpAddr) Equal(b IpAddr) bool {
	if a.family != b.family {
		return false
	}
	if !a.Defined() {
		return true
	}
	return a.ip.Equal(b.ip) && a.port == b.port
}
