package headless

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"leadwire/internal/domain/events"
	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/push"
	"leadwire/internal/infra/localstore"
)

type staticBackend struct {
	key      string
	received []*push.Subscription
}

func (b *staticBackend) VAPIDPublicKey(context.Context) (string, error) { return b.key, nil }

func (b *staticBackend) Subscribe(_ context.Context, sub *push.Subscription) (bool, error) {
	b.received = append(b.received, sub)
	return true, nil
}

func (b *staticBackend) Unsubscribe(context.Context, string) (bool, error) { return true, nil }

func serverKey(t *testing.T) []byte {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv.PublicKey().Bytes()
}

func TestPlatform_PermissionPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := localstore.NewFile(dir, "https://app.example.com")
	if err != nil {
		t.Fatal(err)
	}
	p := New(store, Config{})
	if got := p.Permission(); got != push.PermissionDefault {
		t.Fatalf("initial permission = %s", got)
	}
	if _, err := p.RequestPermission(ctx); err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}

	reopened, _ := localstore.NewFile(dir, "https://app.example.com")
	if got := New(reopened, Config{}).Permission(); got != push.PermissionGranted {
		t.Errorf("permission after reopen = %s, want granted", got)
	}
}

func TestPlatform_PromptAnswer(t *testing.T) {
	p := New(localstore.NewMemory(), Config{
		Prompt: func(context.Context) (push.Permission, error) { return push.PermissionDenied, nil },
	})
	got, err := p.RequestPermission(context.Background())
	if err != nil || got != push.PermissionDenied {
		t.Fatalf("RequestPermission() = %s, %v", got, err)
	}
	if p.Permitted() {
		t.Error("Permitted() after denial")
	}
}

func TestRegistration_Subscribe(t *testing.T) {
	ctx := context.Background()
	p := New(localstore.NewMemory(), Config{EndpointBase: "https://push.example.com/send/"})
	if err := p.SetPermission(ctx, push.PermissionGranted); err != nil {
		t.Fatal(err)
	}
	reg, err := p.RegisterServiceWorker(ctx, "/sw.js", "/")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := p.RegisterServiceWorker(ctx, "/sw.js", "/")
	if reg != again {
		t.Error("registration not reused")
	}

	if _, err := reg.Subscribe(ctx, []byte{1, 2, 3}); err == nil {
		t.Error("expected invalid server key to be rejected")
	}

	sub, err := reg.Subscribe(ctx, serverKey(t))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !strings.HasPrefix(sub.Endpoint, "https://push.example.com/send/") || strings.Contains(sub.Endpoint, "send//") {
		t.Errorf("endpoint = %s", sub.Endpoint)
	}
	if len(sub.P256dh) != 65 || sub.P256dh[0] != 4 {
		t.Errorf("p256dh must be an uncompressed point, got %d bytes", len(sub.P256dh))
	}
	if len(sub.Auth) != authSecretSize {
		t.Errorf("auth secret = %d bytes", len(sub.Auth))
	}

	current, err := reg.Subscription(ctx)
	if err != nil || current == nil || current.Endpoint != sub.Endpoint {
		t.Fatalf("Subscription() = %+v, %v", current, err)
	}

	ok, err := reg.Unsubscribe(ctx)
	if err != nil || !ok {
		t.Fatalf("Unsubscribe() = %v, %v", ok, err)
	}
	if ok, _ := reg.Unsubscribe(ctx); ok {
		t.Error("second Unsubscribe reported a subscription")
	}
}

func TestRegistration_PostMessage(t *testing.T) {
	var got []notification.WorkerMessage
	p := New(localstore.NewMemory(), Config{
		Messenger: func(_ context.Context, msg notification.WorkerMessage) error {
			got = append(got, msg)
			return nil
		},
	})
	reg, _ := p.RegisterServiceWorker(context.Background(), "/sw.js", "/")
	if err := reg.PostMessage(context.Background(), notification.WorkerMessage{Type: notification.MessageSkipWaiting}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != notification.MessageSkipWaiting {
		t.Errorf("messages = %+v", got)
	}
}

func TestPlatform_DisplayReplacesByTag(t *testing.T) {
	ctx := context.Background()
	p := New(localstore.NewMemory(), Config{})
	if err := p.Show(ctx, &notification.Payload{Tag: "lead-1"}); err == nil {
		t.Fatal("Show must fail without permission")
	}
	_ = p.SetPermission(ctx, push.PermissionGranted)

	_ = p.Show(ctx, &notification.Payload{Tag: "lead-1", Title: "first"})
	_ = p.Show(ctx, &notification.Payload{Tag: "lead-1", Title: "second"})
	_ = p.Show(ctx, &notification.Payload{Tag: "lead-2", Title: "other"})

	tray := p.Tray()
	if len(tray) != 2 || tray[0].Title != "second" {
		t.Errorf("tray = %+v", tray)
	}
}

func TestPlatform_Clients(t *testing.T) {
	ctx := context.Background()
	p := New(localstore.NewMemory(), Config{})
	controlled := p.AddWindow("https://app.example.com/leads", true)
	p.AddWindow("https://app.example.com/leads/42", false)

	all, _ := p.MatchAll(ctx, true)
	only, _ := p.MatchAll(ctx, false)
	if len(all) != 2 || len(only) != 1 || only[0].ID() != controlled.ID() {
		t.Errorf("MatchAll: all=%d controlled=%d", len(all), len(only))
	}

	router, err := notification.NewRouter("https://app.example.com", "/", p)
	if err != nil {
		t.Fatal(err)
	}
	res, err := router.Route(ctx, &notification.Payload{Data: map[string]any{"url": "/leads/42?from=push"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != notification.ActionFocused {
		t.Errorf("action = %s, the uncontrolled window must match", res.Action)
	}
	if controlled.Focused() {
		t.Error("focus did not move")
	}

	res, _ = router.Route(ctx, &notification.Payload{Data: map[string]any{"url": "/settings"}})
	if res.Action != notification.ActionOpened {
		t.Errorf("action = %s, want opened", res.Action)
	}
}

func TestPlatform_EndToEndSubscribe(t *testing.T) {
	ctx := context.Background()
	p := New(localstore.NewMemory(), Config{EndpointBase: "https://push.example.com"})
	backend := &staticBackend{key: base64.RawURLEncoding.EncodeToString(serverKey(t))}
	prefs := push.NewPreferences(localstore.NewMemory())
	m := push.NewManager(p, backend, prefs, events.NewBus(), push.Config{})

	sub, err := m.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.DeviceInfo != push.DeviceDesktop {
		t.Errorf("deviceInfo = %s", sub.DeviceInfo)
	}
	raw, err := base64.StdEncoding.DecodeString(sub.Keys.P256dh)
	if err != nil || len(raw) != 65 {
		t.Errorf("p256dh transport encoding broken: %v", err)
	}
	if state, _ := m.State(ctx); state != push.StateSubscribed {
		t.Errorf("state = %s", state)
	}
}
