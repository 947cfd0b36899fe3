package messaging

import (
	"context"
	"errors"
	"time"
)

const (
	RetrainQueue    = "retrain_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var ErrQueueClosed = errors.New("queue is closed")

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type RetrainTaskPayload struct {
	Trigger     string
	RequestTime time.Time
}

type Publisher interface {
	PublishRetrainTask(ctx context.Context, payload RetrainTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
