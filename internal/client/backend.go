// Package client opens outbound sessions to the backend, one per request.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"http-forward-go/internal/config"
	"http-forward-go/internal/diag"
	"http-forward-go/internal/metrics"
)

// Outbound stages that can fail.
const (
	StageConnect   = "connect"
	StageHandshake = "handshake"
	StageAssemble  = "assemble"
	StageSend      = "send"
)

// StageError is a failure of one outbound stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("forward %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewDialer returns the dial-per-request TCP dialer used for the backend.
func NewDialer(cfg *config.Config) transport.StreamDialer {
	return &transport.TCPDialer{
		Dialer: net.Dialer{
			Timeout:   cfg.Forward.DialTimeout(),
			KeepAlive: 30 * time.Second,
		},
	}
}

// BackendClient opens a fresh connection to the backend for every request.
// Connections are never pooled or reused.
type BackendClient struct {
	dialer    transport.StreamDialer
	ioTimeout time.Duration
	diag      *diag.Logger
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewBackendClient creates a BackendClient.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, dialer transport.StreamDialer, d *diag.Logger, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	return &BackendClient{
		dialer:    dialer,
		ioTimeout: cfg.Forward.IOTimeout(),
		diag:      d,
		logger:    logger.With("component", "backend_client"),
		metrics:   m,
	}
}

// Open dials addr and binds an HTTP/1.1 client session to the new stream.
//
// The returned session owns a background goroutine that closes the socket
// once the session is closed or ctx is done, whichever comes first. Its
// outcome is only logged. Callers must Close the session.
func (c *BackendClient) Open(ctx context.Context, connID, addr string) (*Session, error) {
	start := time.Now()

	conn, err := c.dialer.DialStream(ctx, addr)
	if err != nil {
		return nil, &StageError{Stage: StageConnect, Err: err}
	}

	s, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, &StageError{Stage: StageHandshake, Err: err}
	}
	s.start = start

	go s.drive(ctx, connID)
	return s, nil
}

func (c *BackendClient) handshake(ctx context.Context, conn transport.StreamConn) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.ioTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.ioTimeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}
	return &Session{
		client: c,
		conn:   conn,
		br:     bufio.NewReader(conn),
		bw:     bufio.NewWriter(conn),
		done:   make(chan struct{}),
	}, nil
}

// Session is one outbound TCP stream carrying exactly one HTTP/1.1 exchange.
type Session struct {
	client *BackendClient
	conn   transport.StreamConn
	br     *bufio.Reader
	bw     *bufio.Writer
	start  time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// RoundTrip writes req and reads the response head. The response body is
// read from the session's stream and must be consumed before Close.
func (s *Session) RoundTrip(req *http.Request) (*http.Response, error) {
	// Request.Write injects a default User-Agent when the key is absent.
	// A present-but-empty key suppresses it so the backend sees only the
	// caller's headers.
	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header["User-Agent"] = nil
	}

	if err := req.Write(s.bw); err != nil {
		return nil, &StageError{Stage: StageSend, Err: err}
	}
	if err := s.bw.Flush(); err != nil {
		return nil, &StageError{Stage: StageSend, Err: err}
	}

	resp, err := s.readResponse(req)
	if err != nil {
		s.observe(req.Method, 0)
		return nil, &StageError{Stage: StageSend, Err: err}
	}
	s.observe(req.Method, resp.StatusCode)
	return resp, nil
}

// readResponse skips interim 1xx responses; 101 is final. Status codes
// outside 100-999 cannot be relayed and are rejected.
func (s *Session) readResponse(req *http.Request) (*http.Response, error) {
	for {
		resp, err := http.ReadResponse(s.br, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 100 || resp.StatusCode > 999 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("invalid backend status code %d", resp.StatusCode)
		}
		if resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
			continue
		}
		return resp, nil
	}
}

func (s *Session) observe(method string, status int) {
	m := s.client.metrics
	if m == nil {
		return
	}
	label := metrics.NormalizeMethod(method)
	m.UpstreamDuration.WithLabelValues(label).Observe(time.Since(s.start).Seconds())
	if status != 0 {
		m.UpstreamResponses.WithLabelValues(label, strconv.Itoa(status)).Inc()
	}
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// drive tears the socket down when the exchange finishes or the inbound
// side goes away.
func (s *Session) drive(ctx context.Context, connID string) {
	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cerr := s.conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	s.client.diag.SessionDone(connID, err)
}
