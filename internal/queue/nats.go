package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ecobiomax/normaIA/internal/retry"
)

const (
	subjectPrefix = "normaia.tasks."
	taskIDHeader  = "Normaia-Task-Id"
)

// NATSQueue publishes tasks on core NATS subjects. Workers of the same task
// type share a queue group, so each delivery is handled once.
type NATSQueue struct {
	log       *slog.Logger
	nc        *nats.Conn
	retryBase time.Duration
}

func NewNATS(log *slog.Logger, nc *nats.Conn) *NATSQueue {
	return &NATSQueue{log: log, nc: nc, retryBase: time.Second}
}

func subject(t TaskType) string { return subjectPrefix + string(t) }

func group(t TaskType) string { return "normaia-" + string(t) }

func (q *NATSQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	msg := nats.NewMsg(subject(task.Type))
	msg.Header.Set(taskIDHeader, task.ID.String())
	msg.Data = body
	return q.nc.PublishMsg(msg)
}

// Worker handles tasks of taskType one at a time until ctx is done.
func (q *NATSQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := q.nc.ChanQueueSubscribe(subject(taskType), group(taskType), msgs)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject(taskType), err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			q.log.Warn("unsubscribe failed", "subject", sub.Subject, "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			q.handle(ctx, msg, handler)
		}
	}
}

func (q *NATSQueue) handle(ctx context.Context, msg *nats.Msg, handler Handler) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.log.Error("failed to decode task", "subject", msg.Subject, "task_id", msg.Header.Get(taskIDHeader), "err", err)
		return
	}

	if wait := time.Until(task.NotBefore); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	err := handler(ctx, task)
	if err == nil {
		return
	}
	next, ok := NextAttempt(task, time.Now(), q.retryBase)
	if !ok {
		q.log.Error("task permanently failed", "id", task.ID, "type", task.Type, "attempts", next.Attempts, "err", err)
		return
	}
	if enqErr := q.Enqueue(ctx, next); enqErr != nil {
		q.log.Error("failed to re-enqueue task", "id", task.ID, "type", task.Type, "original_err", err, "enqueue_err", enqErr)
		return
	}
	q.log.Warn("task failed, re-enqueued", "id", task.ID, "type", task.Type, "attempt", next.Attempts, "not_before", next.NotBefore, "err", err)
}

// NextAttempt records a failed attempt and schedules the retry with
// exponential backoff. It reports false once MaxAttempts is reached.
func NextAttempt(task Task, now time.Time, base time.Duration) (Task, bool) {
	task.Attempts++
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = DefaultMaxAttempts
	}
	if task.Attempts >= task.MaxAttempts {
		return task, false
	}
	task.NotBefore = now.Add(retry.ExponentialBackoff(task.Attempts, base))
	return task, true
}
