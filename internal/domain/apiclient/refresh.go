package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"leadwire/internal/common"
	"leadwire/internal/domain/events"
	"leadwire/internal/domain/session"
)

const (
	PathLogin   = "/auth/login"
	PathLogout  = "/auth/logout"
	PathRefresh = "/auth/refresh"

	refreshKey = "refresh"
)

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is the body returned by POST /auth/refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// refreshAccessToken returns a usable access token after staleToken was
// rejected. Concurrent callers share one refresh call. A caller whose token
// was already rotated by a finished refresh replays with the current token.
func (c *Client) refreshAccessToken(ctx context.Context, req *Request, staleToken string) (string, error) {
	if current := c.creds.AccessToken(ctx); current != "" && current != staleToken {
		return current, nil
	}

	// The shared refresh outlives any single caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.refresh.DoChan(refreshKey, func() (any, error) {
		// A flight that finished between the check above and DoChan has
		// already rotated the token.
		if current := c.creds.AccessToken(flightCtx); current != "" && current != staleToken {
			return current, nil
		}
		return c.runRefresh(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", newAPIError(req, common.ClassNetwork, 0, nil, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			var apiErr *common.APIError
			if errors.As(res.Err, &apiErr) {
				return "", &common.APIError{
					Class:      apiErr.Class,
					StatusCode: apiErr.StatusCode,
					Method:     req.Method,
					Path:       req.Path,
					Message:    apiErr.Message,
					Err:        apiErr.Err,
				}
			}
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// runRefresh performs the single in-flight refresh. Any failure ends the
// session.
func (c *Client) runRefresh(ctx context.Context) (string, error) {
	ticket := c.creds.BeginRefresh()
	refreshToken := c.creds.RefreshToken(ctx)
	if refreshToken == "" {
		c.expireSession(ctx, "no refresh token")
		return "", sessionExpired(0, nil)
	}

	req := &Request{
		Method:    http.MethodPost,
		Path:      PathRefresh,
		Body:      RefreshRequest{RefreshToken: refreshToken},
		Anonymous: true,
	}
	status, body, err := c.send(ctx, req, "")
	class := common.Classify(status, err)
	c.observe(class)
	if class != "" {
		cause := error(newAPIError(req, class, status, body, err))
		c.expireSession(ctx, "token refresh failed")
		slog.Warn("token refresh failed", "class", class, "status", status, "error", cause)
		return "", sessionExpired(status, cause)
	}

	var resp RefreshResponse
	if err := decodeBody(body, &resp); err != nil || resp.AccessToken == "" {
		if err == nil {
			err = errors.New("refresh response carried no access token")
		}
		c.expireSession(ctx, "token refresh returned no token")
		return "", sessionExpired(status, err)
	}

	if err := c.creds.CommitRefresh(ctx, ticket, resp.AccessToken); err != nil {
		if errors.Is(err, session.ErrStaleRefresh) {
			// The session changed while refreshing (logout or a new login).
			if current := c.creds.AccessToken(ctx); current != "" {
				return current, nil
			}
			return "", sessionExpired(status, err)
		}
		return "", fmt.Errorf("storing refreshed token: %w", err)
	}

	slog.Info("access token refreshed")
	return resp.AccessToken, nil
}

// expireSession clears credentials and announces the logout. Only the call
// that actually ended the session publishes.
func (c *Client) expireSession(ctx context.Context, reason string) {
	cleared, err := c.creds.Clear(ctx)
	if err != nil {
		slog.Error("failed to clear credentials", "error", err)
	}
	if !cleared {
		return
	}
	slog.Warn("session expired, signing out", "reason", reason)
	c.bus.Publish(events.Event{Topic: events.TopicSessionExpired, Payload: reason})
	if c.onLogout != nil {
		c.onLogout()
	}
}

func sessionExpired(status int, cause error) *common.APIError {
	if cause == nil {
		cause = ErrSessionExpired
	} else {
		cause = fmt.Errorf("%w: %w", ErrSessionExpired, cause)
	}
	return &common.APIError{
		Class:      common.ClassAuth,
		StatusCode: status,
		Method:     http.MethodPost,
		Path:       PathRefresh,
		Message:    ErrSessionExpired.Error(),
		Err:        cause,
	}
}

// TokenPair is returned by the login endpoint.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges an email for a token pair and starts a session.
func (c *Client) Login(ctx context.Context, email string) error {
	var pair TokenPair
	req := &Request{
		Method:    http.MethodPost,
		Path:      PathLogin,
		Body:      map[string]string{"email": email},
		Anonymous: true,
	}
	if err := c.Do(ctx, req, &pair); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return fmt.Errorf("logging in: incomplete token pair")
	}
	return c.creds.SetSession(ctx, session.Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Logout revokes the refresh token on a best-effort basis and always clears
// local credentials.
func (c *Client) Logout(ctx context.Context) error {
	if refreshToken := c.creds.RefreshToken(ctx); refreshToken != "" {
		req := &Request{
			Method:    http.MethodPost,
			Path:      PathLogout,
			Body:      RefreshRequest{RefreshToken: refreshToken},
			Anonymous: true,
		}
		if err := c.Do(ctx, req, nil); err != nil {
			slog.Warn("server-side logout failed", "error", err)
		}
	}
	if _, err := c.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}
