package service

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrMisconfigured marks target failures caused by the deployment rather
// than by the request being served.
var ErrMisconfigured = errors.New("backend misconfigured")

// Target is the resolved outbound destination for one request.
type Target struct {
	URL *url.URL
	// Addr is the host:port dialed.
	Addr string
	// Authority is the Host header value sent to the backend.
	Authority string
}

// TargetError reports a URL that could not be resolved into a Target.
type TargetError struct {
	URL string
	Err error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("resolve target %q: %v", e.URL, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// ResolveTarget builds base + path (+ "?" + rawQuery) and resolves the
// address to dial. A missing host or a scheme other than http/https wraps
// ErrMisconfigured.
func ResolveTarget(base, path, rawQuery string) (*Target, error) {
	raw := base + path
	if rawQuery != "" {
		raw += "?" + rawQuery
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &TargetError{URL: raw, Err: err}
	}
	if u.Hostname() == "" {
		return nil, &TargetError{URL: raw, Err: fmt.Errorf("%w: url has no host", ErrMisconfigured)}
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return nil, &TargetError{URL: raw, Err: fmt.Errorf("%w: unsupported scheme %q", ErrMisconfigured, u.Scheme)}
		}
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &TargetError{URL: raw, Err: fmt.Errorf("%w: unsupported scheme %q", ErrMisconfigured, u.Scheme)}
	}

	return &Target{
		URL:       u,
		Addr:      net.JoinHostPort(u.Hostname(), port),
		Authority: u.Host,
	}, nil
}
