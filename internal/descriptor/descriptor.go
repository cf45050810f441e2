// Package descriptor parses scheme://host:port endpoint strings.
package descriptor

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport is the transport marker selected by the scheme token.
type Transport int

const (
	// Plain is selected by the literal "http" scheme token.
	Plain Transport = iota
	// Secure is selected by any other scheme token. It is recorded but the
	// proxy never performs TLS.
	Secure
)

func (t Transport) String() string {
	if t == Plain {
		return "tcp"
	}
	return "tls"
}

// LoopbackHost is used when a descriptor omits the host.
const LoopbackHost = "127.0.0.1"

// Descriptor is a resolved endpoint. It is immutable after Parse.
type Descriptor struct {
	Scheme    string
	Transport Transport
	Host      string
	Port      uint16

	explicitPort bool
}

// Error reports a malformed endpoint string.
type Error struct {
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("descriptor %q: %s (expected scheme://[host][:port])", e.Input, e.Reason)
}

// DefaultPort returns the port implied by a scheme token.
func DefaultPort(scheme string) uint16 {
	if scheme == "http" {
		return 80
	}
	return 443
}

// Parse turns s into a Descriptor.
func Parse(s string) (Descriptor, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Descriptor{}, &Error{Input: s, Reason: `missing "://"`}
	}

	d := Descriptor{Scheme: scheme, Transport: Secure}
	if scheme == "http" {
		d.Transport = Plain
	}

	host, port := rest, ""
	switch {
	case strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]"):
		host = rest[1 : len(rest)-1]
	case strings.Contains(rest, ":"):
		var err error
		host, port, err = net.SplitHostPort(rest)
		if err != nil {
			return Descriptor{}, &Error{Input: s, Reason: err.Error()}
		}
	}

	d.Host = host
	if d.Host == "" {
		d.Host = LoopbackHost
	}

	if port == "" {
		d.Port = DefaultPort(scheme)
		return d, nil
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return Descriptor{}, &Error{Input: s, Reason: fmt.Sprintf("invalid port %q", port)}
	}
	d.Port = uint16(n)
	d.explicitPort = true
	return d, nil
}

// Addr returns host:port suitable for net.Listen or net.Dial.
func (d Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// BaseURL returns scheme://host[:port]. The port is present only when the
// input string carried one, so the backend authority matches what the
// operator typed.
func (d Descriptor) BaseURL() string {
	if d.explicitPort {
		return d.Scheme + "://" + d.Addr()
	}
	host := d.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return d.Scheme + "://" + host
}

func (d Descriptor) String() string {
	return fmt.Sprintf("transport:%s, host: %s, port: %d", d.Transport, d.Host, d.Port)
}
