package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadwire/internal/common"
	"leadwire/internal/domain/breaker"
	"leadwire/internal/domain/events"
	"leadwire/internal/domain/session"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds every call; exceeding it classifies as NETWORK.
	DefaultTimeout = 10 * time.Second

	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// ErrSessionExpired marks the terminal AUTH failure after which the user is
// signed out.
var ErrSessionExpired = errors.New("session expired")

// Request is one logical call. A request is replayed at most once, after a
// token refresh.
type Request struct {
	Method string
	Path   string
	Params url.Values
	Body   any
	// Anonymous requests never carry a bearer token and never trigger a refresh.
	Anonymous bool

	retried bool
}

// Retried reports whether the request has already been replayed after a refresh.
func (r *Request) Retried() bool {
	return r.retried
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client issues authenticated calls against the backend. Access-token expiry
// is invisible to callers: a 401 triggers one shared refresh and a single
// replay. Every outcome is fed to the global breaker.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	creds    *session.Store
	breakers *breaker.Registry
	bus      *events.Bus
	refresh  singleflight.Group
	onLogout func()
}

// New creates a client.
func New(cfg Config, creds *session.Store, breakers *breaker.Registry, bus *events.Bus) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  base,
		http:     &http.Client{Timeout: timeout, Transport: cfg.Transport},
		creds:    creds,
		breakers: breakers,
		bus:      bus,
	}, nil
}

// OnLogout registers a hook that runs once when the session is force-ended.
func (c *Client) OnLogout(fn func()) {
	c.onLogout = fn
}

// Credentials exposes the credential store.
func (c *Client) Credentials() *session.Store {
	return c.creds
}

// Breakers exposes the breaker registry.
func (c *Client) Breakers() *breaker.Registry {
	return c.breakers
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Params: params}, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Delete issues an authenticated DELETE. body may be nil.
func (c *Client) Delete(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path, Body: body}, out)
}

// Do executes req and decodes the response into out (which may be nil).
// Failures are returned as *common.APIError or *common.CooldownError.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	if err := c.breakers.Global().Allow(); err != nil {
		return err
	}

	for {
		token := ""
		if !req.Anonymous {
			token = c.creds.AccessToken(ctx)
		}

		status, body, err := c.send(ctx, req, token)
		class := common.Classify(status, err)
		c.observe(class)

		if status == http.StatusUnauthorized && !req.Anonymous {
			if req.retried {
				c.expireSession(ctx, "unauthorized after token refresh")
				return &common.APIError{
					Class:      common.ClassAuth,
					StatusCode: status,
					Method:     req.Method,
					Path:       req.Path,
					Message:    ErrSessionExpired.Error(),
					Err:        ErrSessionExpired,
				}
			}
			req.retried = true
			if _, err := c.refreshAccessToken(ctx, req, token); err != nil {
				return err
			}
			continue
		}

		if class != "" {
			return newAPIError(req, class, status, body, err)
		}
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := decodeBody(body, out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", req.Method, req.Path, err)
		}
		return nil
	}
}

// observe feeds one outcome into the global breaker.
func (c *Client) observe(class common.ErrorClass) {
	global := c.breakers.Global()
	switch {
	case class == "":
		global.Success()
	case class == common.ClassAuth:
	default:
		global.Record(class)
	}
}

func (c *Client) send(ctx context.Context, req *Request, token string) (int, []byte, error) {
	u := c.baseURL.JoinPath(req.Path)
	if len(req.Params) > 0 {
		u.RawQuery = req.Params.Encode()
	}

	var reader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := uuid.New().String()
	httpReq.Header.Set(requestIDHeader, requestID)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Debug("request failed",
			"method", req.Method,
			"path", req.Path,
			"request_id", requestID,
			"error", err,
			"duration", time.Since(start),
		)
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}

	slog.Debug("request completed",
		"method", req.Method,
		"path", req.Path,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp.StatusCode, body, nil
}

func newAPIError(req *Request, class common.ErrorClass, status int, body []byte, cause error) *common.APIError {
	msg := errorMessage(body)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &common.APIError{
		Class:      class,
		StatusCode: status,
		Method:     req.Method,
		Path:       req.Path,
		Message:    msg,
		Err:        cause,
	}
}

// decodeBody is the single response normalizer. Precedence:
//  1. {"success": ..., "data": X} or {"data": X} envelopes decode X
//  2. anything else decodes as-is
func decodeBody(body []byte, out any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		if data, ok := fields["data"]; ok {
			_, hasSuccess := fields["success"]
			if hasSuccess || len(fields) == 1 {
				return json.Unmarshal(data, out)
			}
		}
	}
	return json.Unmarshal(body, out)
}

// errorMessage extracts a human readable message from an error body.
// Precedence: error.message, error (string), message.
func errorMessage(body []byte) string {
	var fields struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return msg
	}
	if len(fields.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(fields.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(fields.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	return fields.Message
}
