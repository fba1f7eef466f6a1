package health

import (
	"fmt"
	"net"
	"net/url"
	"time"

	cerrdefs "github.com/containerd/errdefs"
)

// defaultPorts are the well-known door ports of the grid storage protocols
var defaultPorts = map[string]string{
	"srm":    "8443",
	"gsiftp": "2811",
	"root":   "1094",
	"xroot":  "1094",
	"http":   "80",
	"dav":    "80",
	"https":  "443",
	"davs":   "443",
}

// ForEndpoint builds the probe for an SE endpoint URL. HTTP and WebDAV
// endpoints get an HTTPChecker, every other protocol a TCPChecker on the
// door's host and port.
func ForEndpoint(endpoint string, timeout time.Duration) (Checker, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, cerrdefs.ErrInvalidArgument)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("endpoint %q has no host: %w", endpoint, cerrdefs.ErrInvalidArgument)
	}

	switch u.Scheme {
	case "http", "https", "dav", "davs":
		probe := *u
		switch u.Scheme {
		case "dav":
			probe.Scheme = "http"
		case "davs":
			probe.Scheme = "https"
		}
		checker := NewHTTPChecker(probe.String())
		if timeout > 0 {
			checker.WithTimeout(timeout)
		}
		return checker, nil
	}

	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}
	if port == "" {
		return nil, fmt.Errorf("no port for endpoint %q: %w", endpoint, cerrdefs.ErrInvalidArgument)
	}
	checker := NewTCPChecker(net.JoinHostPort(u.Hostname(), port))
	if timeout > 0 {
		checker.WithTimeout(timeout)
	}
	return checker, nil
}
