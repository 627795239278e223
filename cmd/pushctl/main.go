package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"leadwire/internal/common"
	"leadwire/internal/config"
	"leadwire/internal/domain/apiclient"
	"leadwire/internal/domain/breaker"
	"leadwire/internal/domain/events"
	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/push"
	"leadwire/internal/domain/session"
	"leadwire/internal/infra/headless"
	"leadwire/internal/infra/localstore"
	"leadwire/internal/infra/queue"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var app *cli.App

var (
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
	emailFlag = &cli.StringFlag{
		Name:     "email",
		Usage:    "Email address to sign in with",
		Required: true,
	}
	titleFlag = &cli.StringFlag{
		Name:  "title",
		Usage: "Notification title",
	}
	bodyFlag = &cli.StringFlag{
		Name:  "body",
		Usage: "Notification body",
	}
	paramFlag = &cli.StringSliceFlag{
		Name:  "param",
		Usage: "Query parameter as key=value, repeatable",
	}
	retryFlag = &cli.IntFlag{
		Name:  "retry",
		Usage: "Retry a failed fetch this many times",
	}
	tagFlag = &cli.StringFlag{
		Name:  "tag",
		Usage: "Notification tag",
	}
	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "Page the notification points at",
	}
)

// env is everything a command needs, wired once per invocation.
type env struct {
	client   *apiclient.Client
	platform *headless.Platform
	manager  *push.Manager
	enqueuer *queue.Enqueuer
	close    func()
}

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "pushctl - drive the leadwire push client from a terminal"
	app.Flags = []cli.Flag{debugFlag}
	app.Before = func(c *cli.Context) error {
		initLogger(c.Bool(debugFlag.Name))
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:   "login",
			Usage:  "Sign in and store the session",
			Flags:  []cli.Flag{emailFlag},
			Action: withEnv(login),
		},
		{
			Name:   "logout",
			Usage:  "Revoke the refresh token and clear the session",
			Action: withEnv(logout),
		},
		{
			Name:   "status",
			Usage:  "Show session, permission and subscription state",
			Action: withEnv(status),
		},
		{
			Name:      "permission",
			Usage:     "Answer the notification permission prompt",
			ArgsUsage: "<default|granted|denied>",
			Action:    withEnv(permission),
		},
		{
			Name:   "subscribe",
			Usage:  "Subscribe this browser to push notifications",
			Action: withEnv(subscribe),
		},
		{
			Name:      "unsubscribe",
			Usage:     "Remove the push subscription",
			ArgsUsage: "[endpoint]",
			Action:    withEnv(unsubscribe),
		},
		{
			Name:   "send-test",
			Usage:  "Ask the backend to push a test notification",
			Flags:  []cli.Flag{titleFlag, bodyFlag},
			Action: withEnv(sendTest),
		},
		{
			Name:   "skip-waiting",
			Usage:  "Activate a waiting service worker",
			Action: withEnv(skipWaiting),
		},
		{
			Name:   "click",
			Usage:  "Simulate a click on a notification",
			Flags:  []cli.Flag{tagFlag, urlFlag},
			Action: withEnv(click),
		},
		{
			Name:      "get",
			Usage:     "Fetch a backend path through the circuit breakers",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{paramFlag, retryFlag},
			Action:    withEnv(get),
		},
	}
}

func initLogger(debug bool) {
	logLevel := slog.LevelWarn
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()
		return explain(fn(c, e))
	}
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	storage, err := localstore.Open(cfg.Storage.Backend, cfg.Storage.Dir, cfg.API.Origin, &redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	enqueuer := queue.NewEnqueuer(asynqClient, cfg.Queue.MaxRetry)

	bus := events.NewBus()
	bus.Subscribe(events.TopicConnectionIssue, func(ev events.Event) {
		fmt.Fprintf(os.Stderr, "connection issue (%s)\n", ev.Scope)
	})
	bus.Subscribe(events.TopicSessionExpired, func(events.Event) {
		fmt.Fprintln(os.Stderr, "session expired, run `pushctl login` again")
	})

	cooldown := time.Duration(cfg.Breaker.CooldownSec) * time.Second
	breakers := breaker.NewRegistry(
		breaker.Config{OpenThreshold: cfg.Breaker.GlobalOpenThreshold, CooldownThreshold: cfg.Breaker.GlobalCooldownThreshold, Cooldown: cooldown},
		breaker.Config{OpenThreshold: cfg.Breaker.LocalOpenThreshold, CooldownThreshold: cfg.Breaker.LocalCooldownThreshold, Cooldown: cooldown},
		bus,
	)
	creds := session.NewStore(storage)
	if err := creds.Load(context.Background()); err != nil {
		slog.Warn("stored session unreadable", "error", err)
	}
	client, err := apiclient.New(apiclient.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout()}, creds, breakers, bus)
	if err != nil {
		asynqClient.Close()
		return nil, err
	}

	platform := headless.New(storage, headless.Config{
		EndpointBase: cfg.Push.EndpointBase,
		Messenger:    enqueuer.EnqueueMessage,
	})
	manager := push.NewManager(platform, push.NewAPIBackend(client), push.NewPreferences(storage), bus, push.Config{
		ServiceWorkerURL: cfg.Push.ServiceWorkerURL,
		Scope:            cfg.Push.Scope,
	})

	return &env{
		client:   client,
		platform: platform,
		manager:  manager,
		enqueuer: enqueuer,
		close:    func() { asynqClient.Close() },
	}, nil
}

// explain turns the error classes a user can act on into plain messages.
func explain(err error) error {
	if err == nil {
		return nil
	}
	var cooldown *common.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return cli.Exit(cooldown.Error(), 2)
	case errors.Is(err, common.ErrUnsupported):
		return cli.Exit("push notifications are not supported here", 3)
	case errors.Is(err, common.ErrPermissionDenied):
		return cli.Exit("notification permission denied; run `pushctl permission default` to ask again", 3)
	case common.IsFatalAuth(err):
		return cli.Exit("not signed in: "+err.Error(), 4)
	}
	return err
}

func login(c *cli.Context, e *env) error {
	if err := e.client.Login(c.Context, c.String(emailFlag.Name)); err != nil {
		return err
	}
	fmt.Println("signed in")
	return nil
}

func logout(c *cli.Context, e *env) error {
	if err := e.client.Logout(c.Context); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func status(c *cli.Context, e *env) error {
	state, err := e.manager.State(c.Context)
	if err != nil {
		return err
	}
	enabled, err := e.manager.Preferences().Enabled(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("signed in:     %t\n", e.client.Credentials().SignedIn(c.Context))
	fmt.Printf("permission:    %s\n", e.platform.Permission())
	fmt.Printf("push state:    %s\n", state)
	fmt.Printf("notifications: %s\n", onOff(enabled))
	return nil
}

func permission(c *cli.Context, e *env) error {
	perm := push.Permission(c.Args().First())
	switch perm {
	case push.PermissionDefault, push.PermissionGranted, push.PermissionDenied:
	default:
		return cli.Exit("permission must be default, granted or denied", 1)
	}
	if err := e.platform.SetPermission(c.Context, perm); err != nil {
		return err
	}
	fmt.Println("permission:", perm)
	return nil
}

func subscribe(c *cli.Context, e *env) error {
	sub, err := e.manager.Subscribe(c.Context)
	if err != nil {
		return err
	}
	fmt.Println("subscribed:", sub.Endpoint)
	return nil
}

func unsubscribe(c *cli.Context, e *env) error {
	if err := e.manager.Unsubscribe(c.Context, c.Args().First()); err != nil {
		if errors.Is(err, push.ErrEndpointMismatch) {
			return cli.Exit("endpoint does not match this browser's subscription", 1)
		}
		return err
	}
	fmt.Println("unsubscribed")
	return nil
}

func sendTest(c *cli.Context, e *env) error {
	queued, err := push.NewAPIBackend(e.client).SendTest(c.Context, c.String(titleFlag.Name), c.String(bodyFlag.Name))
	if err != nil {
		return err
	}
	fmt.Println("queued:", queued)
	return nil
}

func skipWaiting(c *cli.Context, e *env) error {
	if err := e.manager.SkipWaiting(c.Context); err != nil {
		return err
	}
	fmt.Println("skip-waiting sent")
	return nil
}

func click(c *cli.Context, e *env) error {
	p := &notification.Payload{
		Title: notification.DefaultTitle,
		Tag:   c.String(tagFlag.Name),
		Data:  map[string]any{},
	}
	if target := c.String(urlFlag.Name); target != "" {
		p.Data["url"] = target
	}
	if err := e.enqueuer.EnqueueClick(c.Context, p); err != nil {
		return err
	}
	fmt.Println("click queued:", p.URL())
	return nil
}

func get(c *cli.Context, e *env) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("usage: pushctl get <path>", 1)
	}
	params := url.Values{}
	for _, kv := range c.StringSlice(paramFlag.Name) {
		k, v, _ := strings.Cut(kv, "=")
		params.Add(k, v)
	}

	q := breaker.NewQuery(e.client.Breakers(), path, params.Encode(), func(ctx context.Context, encoded string) (json.RawMessage, error) {
		values, err := url.ParseQuery(encoded)
		if err != nil {
			return nil, err
		}
		var out json.RawMessage
		if err := e.client.Get(ctx, path, values, &out); err != nil {
			return nil, err
		}
		return out, nil
	})

	data, err := q.Fetch(c.Context)
	for i := 0; err != nil && i < c.Int(retryFlag.Name); i++ {
		view := q.View()
		if view.Cooldown > 0 {
			break
		}
		slog.Info("retrying fetch", "path", path, "attempt", i+1, "dialog", view.Dialog)
		data, err = q.Retry(c.Context)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
