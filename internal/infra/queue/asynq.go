package queue

import (
	"context"
	"fmt"
	"time"

	"leadwire/internal/domain/notification"
	"leadwire/internal/domain/sandbox"

	"github.com/hibiken/asynq"
)

// QueuePush is the queue carrying events into the service-worker process.
const QueuePush = "push"

// RedisOpt builds the asynq connection options.
func RedisOpt(redisAddr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	}
}

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(RedisOpt(redisAddr, password, db))
}

// NewServer creates a new asynq server connected to Redis.
func NewServer(redisAddr, password string, db int, concurrency int) *asynq.Server {
	return asynq.NewServer(
		RedisOpt(redisAddr, password, db),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueuePush: 10, // priority weight
				"default": 1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, 40s, 80s
				return time.Duration(5*(1<<uint(n-1))) * time.Second
			},
		},
	)
}

// NewServeMux routes push tasks to the service worker.
func NewServeMux(sw *notification.ServiceWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(notification.TaskTypeDeliver, sw.ProcessDeliverTask)
	mux.HandleFunc(notification.TaskTypeClick, sw.ProcessClickTask)
	mux.HandleFunc(notification.TaskTypeMessage, sw.ProcessMessageTask)
	return mux
}

// Enqueuer puts push tasks on the queue.
type Enqueuer struct {
	client   *asynq.Client
	maxRetry int
}

var _ sandbox.Enqueuer = (*Enqueuer)(nil)

func NewEnqueuer(client *asynq.Client, maxRetry int) *Enqueuer {
	return &Enqueuer{client: client, maxRetry: maxRetry}
}

// EnqueueDelivery enqueues a raw push payload.
func (e *Enqueuer) EnqueueDelivery(ctx context.Context, raw []byte) error {
	return e.enqueue(ctx, notification.NewDeliverTask(raw))
}

// EnqueueClick enqueues a notification click.
func (e *Enqueuer) EnqueueClick(ctx context.Context, p *notification.Payload) error {
	task, err := notification.NewClickTask(p)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return e.enqueue(ctx, task)
}

// EnqueueMessage enqueues a page to worker message. Messages are not retried.
func (e *Enqueuer) EnqueueMessage(ctx context.Context, msg notification.WorkerMessage) error {
	task, err := notification.NewMessageTask(msg)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Queue(QueuePush)); err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}
	return nil
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) error {
	_, err := e.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(e.maxRetry),
		asynq.Queue(QueuePush),
	)
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}
	return nil
}
