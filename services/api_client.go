package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yeremiapane/qr-table-ordering/utils"
)

const subdomainHeader = "X-Subdomain"

// APIClient talks JSON to the ordering backend. Every request carries the
// tenant subdomain; staff calls also carry the backend bearer token.
type APIClient struct {
	baseURL          string
	defaultSubdomain string
	staffToken       string
	httpClient       *http.Client
	log              logrus.FieldLogger
}

type APIClientConfig struct {
	BaseURL          string
	DefaultSubdomain string
	StaffToken       string
	Timeout          time.Duration
}

func NewAPIClient(cfg APIClientConfig, log logrus.FieldLogger) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = utils.InfoLogger
	}
	return &APIClient{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		defaultSubdomain: cfg.DefaultSubdomain,
		staffToken:       cfg.StaffToken,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

// envelope is the backend's usual response wrapper. Some endpoints answer
// with the bare object instead.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *APIClient) get(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, out, false)
}

// do sends in as JSON and decodes the response into out. Errors are always
// *utils.ClientError with a kind derived from the HTTP status.
func (c *APIClient) do(ctx context.Context, op, method, path string, in, out any, staff bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return utils.NewValidationError(op, fmt.Sprintf("encode request: %v", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return utils.NewTransportError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sub := c.subdomain(ctx); sub != "" {
		req.Header.Set(subdomainHeader, sub)
	}
	if staff {
		if token := c.bearer(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"op": op, "path": path}).Warn("backend request failed")
		return utils.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.NewTransportError(op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(op, resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := decodeBody(raw, out); err != nil {
		var rejected *rejectedError
		if errors.As(err, &rejected) {
			return &utils.ClientError{Op: op, Kind: utils.ErrValidation, Status: resp.StatusCode, Message: rejected.msg}
		}
		return &utils.ClientError{Op: op, Kind: utils.ErrTransport, Status: resp.StatusCode, Message: "malformed backend response", Err: err}
	}
	return nil
}

func (c *APIClient) subdomain(ctx context.Context) string {
	if sub := TenantFrom(ctx); sub != "" {
		return sub
	}
	return c.defaultSubdomain
}

func (c *APIClient) bearer(ctx context.Context) string {
	if token := bearerFrom(ctx); token != "" {
		return token
	}
	return c.staffToken
}

// decodeBody unwraps {success, data} when present, otherwise decodes the
// whole body. A success=false envelope on a 2xx status is a failure.
func decodeBody(raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.Success != nil && !*env.Success {
			return &rejectedError{msg: firstNonEmpty(env.Message, env.Error, "backend reported failure")}
		}
		if out == nil {
			return nil
		}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			return json.Unmarshal(env.Data, out)
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type rejectedError struct{ msg string }

func (e *rejectedError) Error() string { return e.msg }

func statusError(op string, status int, raw []byte) error {
	var env envelope
	_ = json.Unmarshal(raw, &env)
	msg := firstNonEmpty(env.Message, env.Error, http.StatusText(status))

	var kind error
	switch status {
	case http.StatusNotFound:
		kind = utils.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = utils.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
		kind = utils.ErrDenied
	default:
		kind = utils.ErrTransport
	}
	return &utils.ClientError{Op: op, Kind: kind, Status: status, Message: msg}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
