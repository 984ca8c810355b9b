package util

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// BindCandidates returns the addresses to try, in order, when binding a
// listening socket for host. An empty host means every interface: the
// IPv6 wildcard first (dual-stack where the kernel allows it), then the
// IPv4 wildcard.
func BindCandidates(ctx context.Context, host string) ([]net.IP, error) {
	if host == "" {
		return []net.IP{net.IPv6unspecified, net.IPv4zero}, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup for %q: %w", host, err)
	}
	return ips, nil
}

// PeerLabel is the display name given to a client: its IP address, with
// the port appended when withPort is set. IPv4-mapped IPv6 addresses are
// shown in dotted form.
func PeerLabel(ip net.IP, port int, withPort bool) string {
	if withPort {
		return net.JoinHostPort(ip.String(), strconv.Itoa(port))
	}
	return ip.String()
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
