package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadwire/internal/common"
	"leadwire/internal/domain/breaker"
	"leadwire/internal/domain/events"
	"leadwire/internal/domain/session"
	"leadwire/internal/infra/localstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	client *Client
	store  *session.Store
	bus    *events.Bus
	reg    *breaker.Registry
	clock  *testClock
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	bus := events.NewBus()
	reg := breaker.NewRegistry(breaker.GlobalDefaults(), breaker.LocalDefaults(), bus, breaker.WithClock(clock.Now))
	store := session.NewStore(localstore.NewMemory())

	client, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, store, reg, bus)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{client: client, store: store, bus: bus, reg: reg, clock: clock}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

// tokenBackend accepts only the token it last issued.
type tokenBackend struct {
	refreshCalls atomic.Int32
	refreshDelay time.Duration
	refreshFails bool
	validToken   atomic.Value
}

func newTokenBackend() *tokenBackend {
	b := &tokenBackend{}
	b.validToken.Store("fresh-token")
	return b
}

func (b *tokenBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case PathRefresh:
		b.refreshCalls.Add(1)
		time.Sleep(b.refreshDelay)
		var body RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if b.refreshFails || body.RefreshToken != "refresh-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": map[string]any{"code": 401, "message": "refresh token revoked"}})
			return
		}
		writeJSON(w, http.StatusOK, envelope(RefreshResponse{AccessToken: b.validToken.Load().(string)}))
	case "/leads":
		if r.Header.Get("Authorization") != "Bearer "+b.validToken.Load().(string) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, envelope(map[string]any{"items": []string{"lead-42"}}))
	default:
		http.NotFound(w, r)
	}
}

type leadPage struct {
	Items []string `json:"items"`
}

func TestClient_ConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	t.Parallel()
	backend := newTokenBackend()
	backend.refreshDelay = 100 * time.Millisecond
	f := newFixture(t, backend)
	ctx := context.Background()
	_ = f.store.SetSession(ctx, session.Credentials{AccessToken: "expired", RefreshToken: "refresh-1"})

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var page leadPage
			if err := f.client.Get(ctx, "/leads", nil, &page); err != nil {
				errs <- err
				return
			}
			if len(page.Items) != 1 || page.Items[0] != "lead-42" {
				errs <- errors.New("unexpected page")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("request failed: %v", err)
	}

	if n := backend.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", n)
	}
	if got := f.store.AccessToken(ctx); got != "fresh-token" {
		t.Fatalf("refreshed token not persisted, got %q", got)
	}
	if got := f.store.RefreshToken(ctx); got != "refresh-1" {
		t.Fatalf("refresh token should be kept, got %q", got)
	}
}

func TestClient_RefreshFailureClearsCredentialsOnce(t *testing.T) {
	t.Parallel()
	backend := newTokenBackend()
	backend.refreshFails = true
	backend.refreshDelay = 50 * time.Millisecond
	f := newFixture(t, backend)
	ctx := context.Background()
	_ = f.store.SetSession(ctx, session.Credentials{AccessToken: "expired", RefreshToken: "refresh-1"})

	var expired atomic.Int32
	f.bus.Subscribe(events.TopicSessionExpired, func(events.Event) { expired.Add(1) })
	var logouts atomic.Int32
	f.client.OnLogout(func() { logouts.Add(1) })

	const callers = 10
	var wg sync.WaitGroup
	var authErrors atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.client.Get(ctx, "/leads", nil, nil)
			if common.ClassOf(err) == common.ClassAuth && errors.Is(err, ErrSessionExpired) {
				authErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	// A request issued after the logout fails the same way.
	if err := f.client.Get(ctx, "/leads", nil, nil); common.ClassOf(err) != common.ClassAuth {
		t.Fatalf("subsequent request should fail AUTH, got %v", err)
	}

	if authErrors.Load() != callers {
		t.Fatalf("expected %d AUTH errors, got %d", callers, authErrors.Load())
	}
	if expired.Load() != 1 || logouts.Load() != 1 {
		t.Fatalf("credentials must be cleared exactly once (events=%d logouts=%d)", expired.Load(), logouts.Load())
	}
	if f.store.SignedIn(ctx) {
		t.Fatal("credentials should be cleared")
	}
}

func TestClient_SecondUnauthorizedIsFatal(t *testing.T) {
	t.Parallel()
	var refreshCalls, leadCalls atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathRefresh:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: "still-bad"})
		default:
			leadCalls.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]any{})
		}
	}))
	ctx := context.Background()
	_ = f.store.SetSession(ctx, session.Credentials{AccessToken: "expired", RefreshToken: "refresh-1"})

	req := &Request{Method: http.MethodGet, Path: "/leads"}
	err := f.client.Do(ctx, req, nil)
	if common.ClassOf(err) != common.ClassAuth {
		t.Fatalf("expected AUTH, got %v", err)
	}
	if !req.Retried() {
		t.Fatal("request should be marked retried")
	}
	if refreshCalls.Load() != 1 || leadCalls.Load() != 2 {
		t.Fatalf("expected 1 refresh and 2 attempts, got %d and %d", refreshCalls.Load(), leadCalls.Load())
	}
	if f.store.SignedIn(ctx) {
		t.Fatal("fatal AUTH should sign out")
	}
}

func TestClient_ForbiddenDoesNotRefresh(t *testing.T) {
	t.Parallel()
	var refreshCalls atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathRefresh {
			refreshCalls.Add(1)
		}
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "not your lead"})
	}))
	ctx := context.Background()
	_ = f.store.SetSession(ctx, session.Credentials{AccessToken: "a", RefreshToken: "r"})

	err := f.client.Get(ctx, "/leads/7", nil, nil)
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || apiErr.Class != common.ClassAuth || apiErr.Message != "not your lead" {
		t.Fatalf("unexpected error %v", err)
	}
	if refreshCalls.Load() != 0 || !f.store.SignedIn(ctx) {
		t.Fatal("403 must not refresh or sign out")
	}
}

func TestClient_ClientErrorLeavesBreakerAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": map[string]any{"code": 422, "message": "phone is invalid"}})
	}))
	issues := 0
	f.bus.Subscribe(events.TopicConnectionIssue, func(events.Event) { issues++ })

	f.reg.Global().Record(common.ClassNetwork)
	err := f.client.Post(context.Background(), "/leads", map[string]string{"phone": "x"}, nil)

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) || apiErr.Class != common.ClassClient || apiErr.Message != "phone is invalid" {
		t.Fatalf("unexpected error %v", err)
	}
	if n := f.reg.Global().Snapshot().Count; n != 0 {
		t.Fatalf("CLIENT error should reset, not increment, got %d", n)
	}
	if issues != 0 {
		t.Fatal("CLIENT error must not raise the connectivity dialog")
	}
}

func TestClient_GlobalCooldownShortCircuits(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{})
	}))
	ctx := context.Background()

	threshold := breaker.GlobalDefaults().CooldownThreshold
	for i := 0; i < threshold; i++ {
		if err := f.client.Get(ctx, "/leads", nil, nil); common.ClassOf(err) != common.ClassServer {
			t.Fatalf("call %d: expected SERVER, got %v", i, err)
		}
	}

	err := f.client.Get(ctx, "/leads", nil, nil)
	var cooldown *common.CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if int(hits.Load()) != threshold {
		t.Fatalf("cooldown must not reach the network, got %d hits", hits.Load())
	}

	f.clock.Advance(breaker.GlobalDefaults().Cooldown)
	f.client.Get(ctx, "/leads", nil, nil)
	if int(hits.Load()) != threshold+1 {
		t.Fatalf("expected exactly one call after cooldown, got %d hits", hits.Load())
	}
}

func TestClient_TimeoutIsNetwork(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	reg := breaker.NewRegistry(breaker.GlobalDefaults(), breaker.LocalDefaults(), nil)
	client, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond},
		session.NewStore(localstore.NewMemory()), reg, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = client.Get(context.Background(), "/leads", nil, nil)
	if common.ClassOf(err) != common.ClassNetwork {
		t.Fatalf("expected NETWORK, got %v", err)
	}
	if reg.Global().Snapshot().Count != 1 {
		t.Fatal("timeout should count toward the global breaker")
	}
}

func TestClient_NotFoundClassified(t *testing.T) {
	t.Parallel()
	f := newFixture(t, http.NotFoundHandler())
	err := f.client.Get(context.Background(), "/missing", nil, nil)
	if common.ClassOf(err) != common.ClassNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if f.reg.Global().State() != breaker.StateOpen {
		t.Fatalf("NOT_FOUND should open the global breaker, got %s", f.reg.Global().State())
	}
}

func TestClient_HeadersAndQuery(t *testing.T) {
	t.Parallel()
	type seen struct {
		auth, requestID, query, contentType string
	}
	got := make(chan seen, 2)
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{
			auth:        r.Header.Get("Authorization"),
			requestID:   r.Header.Get(requestIDHeader),
			query:       r.URL.RawQuery,
			contentType: r.Header.Get("Content-Type"),
		}
		writeJSON(w, http.StatusOK, map[string]any{"publicKey": "k"})
	}))
	ctx := context.Background()
	_ = f.store.SetSession(ctx, session.Credentials{AccessToken: "tok", RefreshToken: "r"})

	if err := f.client.Get(ctx, "/leads", map[string][]string{"page": {"2"}}, nil); err != nil {
		t.Fatal(err)
	}
	s := <-got
	if s.auth != "Bearer tok" || s.requestID == "" || s.query != "page=2" || s.contentType != "" {
		t.Fatalf("unexpected request %+v", s)
	}

	if err := f.client.Do(ctx, &Request{Method: http.MethodGet, Path: "/notifications/vapid-public-key", Anonymous: true}, nil); err != nil {
		t.Fatal(err)
	}
	if s := <-got; s.auth != "" {
		t.Fatalf("anonymous request carried a token: %q", s.auth)
	}
}

func TestClient_NoTokenIsNotAnError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("no token should be attached when signed out")
		}
		writeJSON(w, http.StatusOK, envelope(map[string]any{"ok": true}))
	}))
	var out struct {
		OK bool `json:"ok"`
	}
	if err := f.client.Get(context.Background(), "/health", nil, &out); err != nil || !out.OK {
		t.Fatalf("unexpected result %+v %v", out, err)
	}
}

func TestClient_Login(t *testing.T) {
	t.Parallel()
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelope(TokenPair{AccessToken: "a1", RefreshToken: "r1"}))
	}))
	ctx := context.Background()
	if err := f.client.Login(ctx, "agent@example.com"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if f.store.AccessToken(ctx) != "a1" || f.store.RefreshToken(ctx) != "r1" {
		t.Fatal("login should store the token pair")
	}
	if err := f.client.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if f.store.SignedIn(ctx) {
		t.Fatal("logout should clear credentials")
	}
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()
	type key struct {
		PublicKey string `json:"publicKey"`
	}
	cases := map[string]string{
		`{"success":true,"data":{"publicKey":"a"}}`: "a",
		`{"data":{"publicKey":"b"}}`:                "b",
		`{"publicKey":"c"}`:                         "c",
		`{"publicKey":"d","data":{"publicKey":"x"}}`: "d",
	}
	for body, want := range cases {
		var k key
		if err := decodeBody([]byte(body), &k); err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if k.PublicKey != want {
			t.Errorf("%s: got %q, want %q", body, k.PublicKey, want)
		}
	}
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	t.Parallel()
	reg := breaker.NewRegistry(breaker.GlobalDefaults(), breaker.LocalDefaults(), nil)
	if _, err := New(Config{BaseURL: "/api"}, session.NewStore(localstore.NewMemory()), reg, nil); err == nil {
		t.Fatal("expected an error for a relative base url")
	}
}
