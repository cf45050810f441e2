package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"http-forward-go/internal/config"
	"http-forward-go/internal/diag"
	"http-forward-go/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Forward: config.ForwardConfig{DialTimeoutSeconds: 5, IOTimeoutSeconds: 5},
	}
}

func newTestClient(t *testing.T, dialer transport.StreamDialer) *BackendClient {
	t.Helper()
	cfg := testConfig()
	if dialer == nil {
		dialer = NewDialer(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBackendClient(cfg, dialer, diag.New(logger, 64), logger, metrics.New())
}

func stageOf(t *testing.T, err error) string {
	t.Helper()
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StageError", err)
	}
	return se.Stage
}

// rawBackend accepts one connection, reads one request and writes reply verbatim.
func rawBackend(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, req.Body)
		_, _ = io.WriteString(conn, reply)
	}()
	return ln.Addr().String()
}

func roundTrip(t *testing.T, c *BackendClient, addr string, req *http.Request) (*http.Response, error) {
	t.Helper()
	s, err := c.Open(req.Context(), "test-conn", addr)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s.RoundTrip(req)
}

func TestOpen_ConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = newTestClient(t, nil).Open(context.Background(), "c1", addr)
	if err == nil {
		t.Fatal("Open() error = nil, want connect error")
	}
	if got := stageOf(t, err); got != StageConnect {
		t.Errorf("stage = %q, want %q", got, StageConnect)
	}
}

func TestOpen_HandshakeError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	// A stream that is already closed cannot take the I/O deadline.
	dialer := transport.FuncStreamDialer(func(ctx context.Context, addr string) (transport.StreamConn, error) {
		conn, err := (&transport.TCPDialer{}).DialStream(ctx, addr)
		if err != nil {
			return nil, err
		}
		_ = conn.Close()
		return conn, nil
	})

	_, err = newTestClient(t, dialer).Open(context.Background(), "c1", ln.Addr().String())
	if err == nil {
		t.Fatal("Open() error = nil, want handshake error")
	}
	if got := stageOf(t, err); got != StageHandshake {
		t.Errorf("stage = %q, want %q", got, StageHandshake)
	}
}

func TestRoundTrip_NoDefaultUserAgent(t *testing.T) {
	var (
		mu    sync.Mutex
		hasUA bool
		ua    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_, hasUA = r.Header["User-Agent"]
		ua = r.Header.Get("User-Agent")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")
	c := newTestClient(t, nil)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", http.NoBody)
	resp, err := roundTrip(t, c, addr, req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	_ = resp.Body.Close()
	mu.Lock()
	if hasUA {
		t.Errorf("backend saw User-Agent %q, want none", ua)
	}
	mu.Unlock()

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/", http.NoBody)
	req.Header.Set("User-Agent", "caller/1.0")
	resp, err = roundTrip(t, c, addr, req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	_ = resp.Body.Close()
	mu.Lock()
	if ua != "caller/1.0" {
		t.Errorf("User-Agent = %q, want %q", ua, "caller/1.0")
	}
	mu.Unlock()
}

func TestRoundTrip_SkipsInterimResponse(t *testing.T) {
	addr := rawBackend(t, "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok")

	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/", strings.NewReader("x"))
	resp, err := roundTrip(t, newTestClient(t, nil), addr, req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}
}

func TestRoundTrip_SendErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"garbage status line", "not http at all\r\n\r\n"},
		{"status below 100", "HTTP/1.1 099 Odd\r\nContent-Length: 0\r\n\r\n"},
		{"connection closed", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := rawBackend(t, tt.reply)
			req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/", http.NoBody)

			_, err := roundTrip(t, newTestClient(t, nil), addr, req)
			if err == nil {
				t.Fatal("RoundTrip() error = nil, want send error")
			}
			if got := stageOf(t, err); got != StageSend {
				t.Errorf("stage = %q, want %q", got, StageSend)
			}
		})
	}
}

func TestSession_TeardownClosesSocket(t *testing.T) {
	tests := []struct {
		name string
		end  func(s *Session, cancel context.CancelFunc)
	}{
		{"close", func(s *Session, _ context.CancelFunc) { s.Close() }},
		{"inbound cancel", func(_ *Session, cancel context.CancelFunc) { cancel() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				t.Fatalf("Listen: %v", err)
			}
			defer ln.Close()

			eof := make(chan struct{})
			go func() {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
				close(eof)
			}()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s, err := newTestClient(t, nil).Open(ctx, "c1", ln.Addr().String())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()

			tt.end(s, cancel)

			select {
			case <-eof:
			case <-time.After(2 * time.Second):
				t.Fatal("backend socket was not closed")
			}
		})
	}
}

func TestStageError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: StageSend, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(StageError, inner) = false, want true")
	}
	if got := err.Error(); got != "forward send: boom" {
		t.Errorf("Error() = %q, want %q", got, "forward send: boom")
	}
}
