// Package service implements the per-request forwarding lifecycle.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/net/http/httpguts"

	"http-forward-go/internal/client"
	"http-forward-go/internal/config"
	"http-forward-go/internal/diag"
	"http-forward-go/internal/metrics"
	"http-forward-go/internal/model"
)

// Stages owned by the service; the outbound ones live in package client.
const (
	StageRequestBody  = "request_body"
	StageTarget       = "target"
	StageResponseBody = "response_body"
)

// stageMessages are the envelope bodies returned to the caller per failed stage.
var stageMessages = map[string]string{
	StageRequestBody:      "read from reqBody error",
	StageTarget:           "forward target error",
	client.StageConnect:   "forward connect error",
	client.StageHandshake: "forward handshake error",
	client.StageAssemble:  "assert req error",
	client.StageSend:      "forward request error",
	StageResponseBody:     "read from respBody error",
}

// FailureMessage returns the envelope body for a failed stage.
func FailureMessage(stage string) string {
	if msg, ok := stageMessages[stage]; ok {
		return msg
	}
	return "forward error"
}

// FatalFunc is called when a request reveals a deployment misconfiguration.
// It is expected to begin process shutdown and must not block.
type FatalFunc func(error)

// ForwardService relays requests to the single configured backend.
type ForwardService struct {
	client  *client.BackendClient
	diag    *diag.Logger
	logger  *slog.Logger
	metrics *metrics.Metrics
	base    string
	fatal   FatalFunc
}

// NewForwardService creates a ForwardService. The backend base URL is
// resolved once here so a misconfigured backend fails at startup.
// The metrics parameter is optional.
func NewForwardService(c *client.BackendClient, cfg *config.Config, d *diag.Logger, logger *slog.Logger, m *metrics.Metrics, fatal FatalFunc) (*ForwardService, error) {
	base := cfg.Backend.BaseURL()
	if _, err := ResolveTarget(base, "/", ""); err != nil {
		return nil, fmt.Errorf("forward base url: %w", err)
	}
	if fatal == nil {
		fatal = func(error) {}
	}

	return &ForwardService{
		client:  c,
		diag:    d,
		logger:  logger.With("component", "forward_service"),
		metrics: m,
		base:    base,
		fatal:   fatal,
	}, nil
}

// BaseURL returns the backend base every inbound path is appended to.
func (s *ForwardService) BaseURL() string {
	return s.base
}

// Forward runs one request's relay lifecycle and always returns exactly one
// envelope. Failures never escape as errors; they become diagnostic
// envelopes naming the failed stage. body is the inbound body stream; it is
// drained into req.Body.
func (s *ForwardService) Forward(ctx context.Context, connID string, req *model.InboundRequest, body io.Reader) *model.ResponseEnvelope {
	s.diag.Request(connID, req.Method, requestURI(req))

	reqBody, err := Drain(body, SideRequest)
	if err != nil {
		return s.fail(connID, StageRequestBody, err)
	}
	req.Body = reqBody
	s.diag.Body(connID, "from request", req.Header.Get("Content-Type"), reqBody)

	target, err := ResolveTarget(s.base, req.Path, req.RawQuery)
	if err != nil {
		if errors.Is(err, ErrMisconfigured) {
			s.logger.Error("backend misconfigured", "conn_id", connID, "err", err)
			s.fatal(err)
		}
		return s.fail(connID, StageTarget, err)
	}
	s.diag.Target(connID, target.URL.String())

	sess, err := s.client.Open(ctx, connID, target.Addr)
	if err != nil {
		return s.failStage(connID, err)
	}
	defer sess.Close()

	out, err := assemble(ctx, req, target)
	if err != nil {
		return s.fail(connID, client.StageAssemble, err)
	}
	s.diag.Headers(connID, "forward request", out.Header)

	resp, err := sess.RoundTrip(out)
	if err != nil {
		return s.failStage(connID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	s.diag.Status(connID, resp.StatusCode)
	s.diag.Headers(connID, "forward response", resp.Header)
	contentType := resp.Header.Get("Content-Type")

	respBody, err := Drain(resp.Body, SideResponse)
	if err != nil {
		return s.fail(connID, StageResponseBody, err)
	}
	s.diag.Body(connID, "forward response", contentType, respBody)

	return &model.ResponseEnvelope{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}
}

// assemble builds the outbound request: same method, resolved URL, every
// inbound header except Host, Host set to the backend authority.
func assemble(ctx context.Context, req *model.InboundRequest, target *Target) (*http.Request, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, target.URL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}

	for key, vals := range req.Header {
		if http.CanonicalHeaderKey(key) == "Host" {
			continue
		}
		if !httpguts.ValidHeaderFieldName(key) {
			return nil, fmt.Errorf("invalid header name %q", key)
		}
		for _, v := range vals {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("invalid value for header %q", key)
			}
			out.Header.Add(key, v)
		}
	}
	out.Host = target.Authority

	return out, nil
}

func (s *ForwardService) failStage(connID string, err error) *model.ResponseEnvelope {
	stage := client.StageSend
	var se *client.StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	return s.fail(connID, stage, err)
}

func (s *ForwardService) fail(connID, stage string, err error) *model.ResponseEnvelope {
	s.diag.Failure(connID, stage, err)
	if s.metrics != nil {
		s.metrics.ForwardFailures.WithLabelValues(stage).Inc()
	}
	return model.FailureEnvelope(stage, FailureMessage(stage))
}

func requestURI(req *model.InboundRequest) string {
	if req.RawQuery == "" {
		return req.Path
	}
	return req.Path + "?" + req.RawQuery
}
