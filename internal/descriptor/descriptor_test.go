package descriptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in        string
		host      string
		port      uint16
		transport Transport
		baseURL   string
	}{
		{"http://example.com:8080", "example.com", 8080, Plain, "http://example.com:8080"},
		{"https://backend.local", "backend.local", 443, Secure, "https://backend.local"},
		{"http://:9000", LoopbackHost, 9000, Plain, "http://127.0.0.1:9000"},
		{"http://", LoopbackHost, 80, Plain, "http://127.0.0.1"},
		{"http://localhost", "localhost", 80, Plain, "http://localhost"},
		{"tcp://relay:7000", "relay", 7000, Secure, "tcp://relay:7000"},
		{"http://[::1]:8081", "::1", 8081, Plain, "http://[::1]:8081"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.host, d.Host)
			assert.Equal(t, tt.port, d.Port)
			assert.Equal(t, tt.transport, d.Transport)
			assert.Equal(t, tt.baseURL, d.BaseURL())
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{
		"example.com:8080",
		"",
		"http://host:notaport",
		"http://host:70000",
		"http://host:0",
		"http://a:b:c",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			var de *Error
			assert.True(t, errors.As(err, &de), "want *descriptor.Error, got %T", err)
		})
	}
}

func TestDescriptor_Addr(t *testing.T) {
	d, err := Parse("http://:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", d.Addr())

	d, err = Parse("https://[::1]")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:443", d.Addr())
}

func TestDescriptor_String(t *testing.T) {
	d, err := Parse("https://backend.local")
	require.NoError(t, err)
	assert.Equal(t, "transport:tls, host: backend.local, port: 443", d.String())
}
