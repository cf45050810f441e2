package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"http-forward-go/internal/diag"
	"http-forward-go/internal/model"
	"http-forward-go/internal/service"
)

// ForwardHandler relays every inbound request to the configured backend.
type ForwardHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(svc *service.ForwardService, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		service: svc,
		logger:  logger.With("component", "forward_handler"),
	}
}

// Handle forwards the request and writes back exactly one envelope. It never
// returns an error, so Echo's error handler never writes on its behalf.
func (h *ForwardHandler) Handle(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	in := &model.InboundRequest{
		Method:   req.Method,
		Path:     req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header.Clone(),
	}

	env := h.service.Forward(ctx, diag.ConnID(ctx), in, req.Body)
	h.writeEnvelope(c, req.Method, env)
	return nil
}

// writeEnvelope writes the envelope's status, headers and body and nothing
// else: the server's own Content-Type sniffing and Date header are
// suppressed when the envelope does not carry them.
func (h *ForwardHandler) writeEnvelope(c echo.Context, method string, env *model.ResponseEnvelope) {
	res := c.Response()
	dst := res.Header()

	for key, vals := range env.Header {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	if _, ok := dst["Content-Type"]; !ok {
		dst["Content-Type"] = nil
	}
	if _, ok := dst["Date"]; !ok {
		dst["Date"] = nil
	}
	if method != http.MethodHead && bodyAllowed(env.StatusCode) {
		dst.Set("Content-Length", strconv.Itoa(len(env.Body)))
	}

	res.WriteHeader(env.StatusCode)
	if len(env.Body) == 0 {
		return
	}
	if _, err := res.Write(env.Body); err != nil {
		h.logger.Error("writing response envelope",
			"conn_id", diag.ConnID(c.Request().Context()),
			"err", err,
		)
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
