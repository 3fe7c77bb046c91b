package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// privateIPRanges contains CIDR ranges for private/internal networks
var privateIPRanges = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"0.0.0.0/8",
}

// metadataHostnames are cloud metadata endpoints, blocked even when private endpoints are allowed
var metadataHostnames = []string{
	"metadata.google.internal",
	"169.254.169.254",
}

var localHostnames = []string{
	"localhost",
	"localhost.localdomain",
	"ip6-localhost",
	"ip6-loopback",
}

var parsedCIDRs []*net.IPNet

func init() {
	for _, cidr := range privateIPRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			parsedCIDRs = append(parsedCIDRs, network)
		}
	}
}

// IsPrivateIP checks if an IP address is in a private/internal range
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}

	for _, network := range parsedCIDRs {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func matchesHostname(hostname string, list []string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	for _, blocked := range list {
		if hostname == blocked || strings.HasSuffix(hostname, "."+blocked) {
			return true
		}
	}
	return false
}

// ValidateEndpointURL checks the URL of a streaming-endpoint server.
// Only http and https are accepted and cloud metadata hosts are always refused.
// Loopback and private addresses are refused unless allowPrivate is set,
// which is the normal setting for servers running next to the gateway.
func ValidateEndpointURL(rawURL string, allowPrivate bool) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("endpoint URL must use http or https")
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return fmt.Errorf("endpoint URL must have a hostname")
	}

	if matchesHostname(hostname, metadataHostnames) {
		return fmt.Errorf("access to metadata host '%s' is not allowed", hostname)
	}

	if allowPrivate {
		return nil
	}

	if matchesHostname(hostname, localHostnames) {
		return fmt.Errorf("access to internal hostname '%s' is not allowed", hostname)
	}

	if ip := net.ParseIP(hostname); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("access to private IP address '%s' is not allowed", hostname)
	}

	return nil
}
