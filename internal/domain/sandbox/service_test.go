package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"leadwire/internal/common"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newMemStore() *memStore { return &memStore{subs: map[string]*Subscription{}} }

func (s *memStore) Upsert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.Endpoint] = sub
	return nil
}

func (s *memStore) Delete(_ context.Context, userID, endpoint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[endpoint]; ok && sub.UserID == userID {
		delete(s.subs, endpoint)
		return 1, nil
	}
	return 0, nil
}

func (s *memStore) DeleteAll(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, sub := range s.subs {
		if sub.UserID == userID {
			delete(s.subs, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

type recordingEnqueuer struct {
	payloads [][]byte
	err      error
}

func (e *recordingEnqueuer) EnqueueDelivery(_ context.Context, raw []byte) error {
	if e.err != nil {
		return e.err
	}
	e.payloads = append(e.payloads, raw)
	return nil
}

type countingLimiter struct {
	max, seen int
	err       error
}

func (l *countingLimiter) Allow(context.Context, string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.seen++
	return l.seen <= l.max, nil
}

func TestTokenIssuer(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Minute, time.Hour)
	pair, err := ti.IssuePair("usr_1", "a@example.com")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ti.VerifyAccess(pair.AccessToken)
	if err != nil || claims.Subject != "usr_1" {
		t.Fatalf("VerifyAccess = %+v, %v", claims, err)
	}
	if _, err := ti.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("refresh token accepted as access token: %v", err)
	}
	if _, err := ti.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("access token accepted as refresh token: %v", err)
	}

	other := NewTokenIssuer("other-secret", time.Minute, time.Hour)
	if _, err := other.VerifyAccess(pair.AccessToken); err == nil {
		t.Error("token verified with the wrong secret")
	}

	refresh, err := ti.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	ti.Revoke(refresh)
	if _, err := ti.VerifyRefresh(pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("revoked refresh token error = %v", err)
	}
}

func TestTokenIssuer_Expiry(t *testing.T) {
	now := time.Now()
	ti := NewTokenIssuer("secret", time.Minute, time.Hour)
	ti.now = func() time.Time { return now }
	pair, _ := ti.IssuePair("usr_1", "")

	ti.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := ti.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired access token error = %v", err)
	}
	if _, err := ti.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Errorf("refresh token expired too early: %v", err)
	}
}

func newTestService(limiter TestPushLimiter, enq *recordingEnqueuer) (*Service, *memStore) {
	store := newMemStore()
	svc := NewService(NewTokenIssuer("secret", time.Minute, time.Hour), store, limiter, enq, "BPublicKey")
	return svc, store
}

func TestService_LoginRefreshLogout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil, &recordingEnqueuer{})

	pair, err := svc.Login(ctx, " Someone@Example.com ")
	if err != nil {
		t.Fatal(err)
	}
	access, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil || access == "" {
		t.Fatalf("Refresh = %q, %v", access, err)
	}
	claims, _ := svc.tokens.VerifyAccess(access)
	if claims.Subject != UserID("someone@example.com") {
		t.Errorf("subject = %s", claims.Subject)
	}

	svc.Logout(ctx, pair.RefreshToken)
	var unauthorized *common.UnauthorizedError
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.As(err, &unauthorized) {
		t.Errorf("refresh after logout error = %v, want UnauthorizedError", err)
	}
	if _, err := svc.Refresh(ctx, "garbage"); !errors.As(err, &unauthorized) {
		t.Errorf("garbage refresh error = %v", err)
	}
}

func TestService_SubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(nil, &recordingEnqueuer{})
	req := &SubscribeRequest{Endpoint: "https://push.example.com/1", Keys: SubscriptionKeys{P256dh: "AQ==", Auth: "Ag=="}, DeviceInfo: "desktop"}

	if ok, err := svc.Subscribe(ctx, "u1", req); err != nil || !ok {
		t.Fatalf("Subscribe = %v, %v", ok, err)
	}
	if ok, _ := svc.Subscribe(ctx, "u1", req); !ok {
		t.Fatal("re-subscribe failed")
	}
	if len(store.subs) != 1 {
		t.Fatalf("stored %d subscriptions, want 1", len(store.subs))
	}

	if ok, _ := svc.Unsubscribe(ctx, "u2", req.Endpoint); ok {
		t.Error("another user removed the subscription")
	}
	if ok, _ := svc.Unsubscribe(ctx, "u1", req.Endpoint); !ok {
		t.Error("Unsubscribe reported nothing removed")
	}
	if ok, _ := svc.Unsubscribe(ctx, "u1", ""); ok {
		t.Error("Unsubscribe all reported removal from an empty set")
	}
}

func TestService_SendTest(t *testing.T) {
	ctx := context.Background()
	enq := &recordingEnqueuer{}
	limiter := &countingLimiter{max: 1}
	svc, _ := newTestService(limiter, enq)

	var validation *common.ValidationError
	if _, err := svc.SendTest(ctx, "u1", &TestRequest{}); !errors.As(err, &validation) {
		t.Fatalf("SendTest without subscriptions error = %v", err)
	}

	limiter.seen = 0
	_, _ = svc.Subscribe(ctx, "u1", &SubscribeRequest{Endpoint: "https://push.example.com/1"})
	n, err := svc.SendTest(ctx, "u1", &TestRequest{Title: "Ping", LeadID: "42", URL: "/leads/42"})
	if err != nil || n != 1 {
		t.Fatalf("SendTest = %d, %v", n, err)
	}

	var payload struct {
		Notification struct{ Title, Body string }
		Data         map[string]string
	}
	if err := json.Unmarshal(enq.payloads[0], &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Notification.Title != "Ping" || payload.Data["leadId"] != "42" || payload.Data["url"] != "/leads/42" {
		t.Errorf("payload = %s", enq.payloads[0])
	}

	var limited *common.RateLimitError
	if _, err := svc.SendTest(ctx, "u1", &TestRequest{}); !errors.As(err, &limited) {
		t.Errorf("second SendTest error = %v, want RateLimitError", err)
	}

	// Limiter outage fails open.
	limiter.err = errors.New("redis down")
	if _, err := svc.SendTest(ctx, "u1", &TestRequest{}); err != nil {
		t.Errorf("SendTest with limiter outage: %v", err)
	}
}

func TestUserID(t *testing.T) {
	if UserID("A@Example.com") != UserID(" a@example.com") {
		t.Error("user id must ignore case and whitespace")
	}
	if UserID("a@example.com") == UserID("b@example.com") {
		t.Error("distinct emails collided")
	}
}
