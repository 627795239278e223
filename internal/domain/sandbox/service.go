package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"leadwire/internal/common"

	"github.com/google/uuid"
)

// Service implements the backend side of the session and subscription
// lifecycle for local development.
type Service struct {
	tokens   *TokenIssuer
	store    SubscriptionStore
	limiter  TestPushLimiter
	enqueuer Enqueuer
	vapidKey string
	now      func() time.Time
}

func NewService(tokens *TokenIssuer, store SubscriptionStore, limiter TestPushLimiter, enqueuer Enqueuer, vapidPublicKey string) *Service {
	return &Service{
		tokens:   tokens,
		store:    store,
		limiter:  limiter,
		enqueuer: enqueuer,
		vapidKey: vapidPublicKey,
		now:      time.Now,
	}
}

// UserID derives a stable user id from an email address.
func UserID(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "usr_" + hex.EncodeToString(sum[:8])
}

// Login signs in any well-formed email. The sandbox has no passwords.
func (s *Service) Login(_ context.Context, email string) (*TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	pair, err := s.tokens.IssuePair(UserID(email), email)
	if err != nil {
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}
	slog.Info("user logged in", "user_id", UserID(email))
	return pair, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is not rotated.
func (s *Service) Refresh(_ context.Context, refreshToken string) (string, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", common.NewUnauthorizedError("invalid refresh token")
	}
	access, err := s.tokens.IssueAccess(claims)
	if err != nil {
		return "", fmt.Errorf("issuing access token: %w", err)
	}
	return access, nil
}

// Logout revokes the refresh token. Unknown or expired tokens are ignored.
func (s *Service) Logout(_ context.Context, refreshToken string) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return
	}
	s.tokens.Revoke(claims)
	slog.Info("user logged out", "user_id", claims.Subject)
}

// VAPIDPublicKey returns the URL-safe base64 application server key.
func (s *Service) VAPIDPublicKey() (string, error) {
	if s.vapidKey == "" {
		return "", errors.New("vapid public key is not configured")
	}
	return s.vapidKey, nil
}

// Subscribe stores the subscription for the user. Re-subscribing the same
// endpoint updates it in place.
func (s *Service) Subscribe(ctx context.Context, userID string, req *SubscribeRequest) (bool, error) {
	now := s.now().UTC()
	sub := &Subscription{
		ID:         uuid.NewString(),
		UserID:     userID,
		Endpoint:   req.Endpoint,
		P256dh:     req.Keys.P256dh,
		Auth:       req.Keys.Auth,
		DeviceInfo: req.DeviceInfo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Upsert(ctx, sub); err != nil {
		return false, fmt.Errorf("storing subscription: %w", err)
	}
	slog.Info("push subscription stored", "user_id", userID, "endpoint", req.Endpoint, "device", req.DeviceInfo)
	return true, nil
}

// Unsubscribe removes one endpoint, or all of the user's subscriptions when
// endpoint is empty.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) (bool, error) {
	var (
		n   int
		err error
	)
	if endpoint == "" {
		n, err = s.store.DeleteAll(ctx, userID)
	} else {
		n, err = s.store.Delete(ctx, userID, endpoint)
	}
	if err != nil {
		return false, fmt.Errorf("removing subscription: %w", err)
	}
	slog.Info("push subscription removed", "user_id", userID, "endpoint", endpoint, "removed", n)
	return n > 0, nil
}

// SendTest queues a test push for each of the user's subscriptions.
func (s *Service) SendTest(ctx context.Context, userID string, req *TestRequest) (int, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			// Fail open when Redis is down.
			slog.Error("test push rate limit check failed, proceeding without limit", "user_id", userID, "error", err)
		} else if !allowed {
			return 0, common.NewRateLimitError("too many test notifications, try again later")
		}
	}

	subs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, common.NewValidationError("no push subscriptions for this user")
	}

	raw, err := json.Marshal(testPayload(req))
	if err != nil {
		return 0, fmt.Errorf("encoding test payload: %w", err)
	}

	queued := 0
	for _, sub := range subs {
		if err := s.enqueuer.EnqueueDelivery(ctx, raw); err != nil {
			slog.Error("failed to queue test push", "user_id", userID, "endpoint", sub.Endpoint, "error", err)
			continue
		}
		queued++
	}
	if queued == 0 {
		return 0, fmt.Errorf("queueing test push: no delivery could be queued")
	}
	slog.Info("test push queued", "user_id", userID, "deliveries", queued)
	return queued, nil
}

func testPayload(req *TestRequest) map[string]any {
	title := req.Title
	if title == "" {
		title = "Test notification"
	}
	body := req.Body
	if body == "" {
		body = "Push notifications are working."
	}
	data := map[string]any{}
	if req.URL != "" {
		data["url"] = req.URL
	}
	if req.LeadID != "" {
		data["leadId"] = req.LeadID
	}
	return map[string]any{
		"notification": map[string]any{"title": title, "body": body},
		"data":         data,
	}
}
