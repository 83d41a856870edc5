// Package bridge implements the outbound HTTP client for the central
// message fabric: response submission, action progress, completion signals
// and channel/server lookups.
package bridge

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// BuildURL validates a control-plane base URL and joins it with path.
// The control plane is normally a local process, so construction is
// defensive against configuration-driven SSRF: only http/https schemes,
// loopback hosts and valid ports are accepted, and embedded credentials
// and fragments are stripped.
func BuildURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q (must be http or https)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("base URL has no host")
	}
	if !isLoopbackHost(host) {
		return "", fmt.Errorf("host %q is not a loopback address", host)
	}

	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("invalid port %q", port)
		}
	}

	// Drop anything that should never reach the wire.
	u.User = nil
	u.Fragment = ""
	u.RawQuery = ""

	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

// isLoopbackHost accepts localhost and literal loopback IPs
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
