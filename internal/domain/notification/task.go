package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeDeliver carries a raw push payload to the service worker.
	TaskTypeDeliver = "push:deliver"
	// TaskTypeClick carries a canonical payload whose notification was clicked.
	TaskTypeClick = "push:click"
	// TaskTypeMessage carries a page to worker message.
	TaskTypeMessage = "push:message"
)

// NewDeliverTask wraps raw exactly as the push service would hand it over.
func NewDeliverTask(raw []byte) *asynq.Task {
	return asynq.NewTask(TaskTypeDeliver, raw)
}

// NewClickTask creates a click task for p.
func NewClickTask(p *Payload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling click payload: %w", err)
	}
	return asynq.NewTask(TaskTypeClick, data), nil
}

// ParseClickPayload deserializes a click task payload.
func ParseClickPayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling click payload: %w", err)
	}
	return &p, nil
}

// NewMessageTask creates a message task for msg.
func NewMessageTask(msg WorkerMessage) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling worker message: %w", err)
	}
	return asynq.NewTask(TaskTypeMessage, data), nil
}

// ProcessDeliverTask handles a push:deliver task.
func (sw *ServiceWorker) ProcessDeliverTask(ctx context.Context, task *asynq.Task) error {
	_, err := sw.HandlePush(ctx, task.Payload())
	return err
}

// ProcessClickTask handles a push:click task. A malformed payload is not
// retried.
func (sw *ServiceWorker) ProcessClickTask(ctx context.Context, task *asynq.Task) error {
	p, err := ParseClickPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	_, err = sw.HandleClick(ctx, p)
	return err
}

// ProcessMessageTask handles a push:message task.
func (sw *ServiceWorker) ProcessMessageTask(ctx context.Context, task *asynq.Task) error {
	var msg WorkerMessage
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		return fmt.Errorf("unmarshaling worker message: %w: %w", err, asynq.SkipRetry)
	}
	sw.HandleMessage(ctx, msg)
	return nil
}
