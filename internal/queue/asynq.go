package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/your-org/photoproc/internal/config"
)

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

type AsynqProducer struct {
	client      *asynq.Client
	inspector   *asynq.Inspector
	queue       string
	maxAttempts int
	timeout     time.Duration
}

func NewAsynqProducer(cfg config.RedisConfig, q config.QueueConfig, jobTimeout time.Duration) *AsynqProducer {
	opt := redisOpt(cfg)
	return &AsynqProducer{
		client:      asynq.NewClient(opt),
		inspector:   asynq.NewInspector(opt),
		queue:       q.Name,
		maxAttempts: max(q.MaxAttempts, 1),
		timeout:     jobTimeout,
	}
}

func (p *AsynqProducer) Enqueue(ctx context.Context, photoID uuid.UUID) error {
	payload, err := encodeTask(photoID)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxAttempts - 1),
	}
	if p.timeout > 0 {
		opts = append(opts, asynq.Timeout(p.timeout))
	}
	info, err := p.client.EnqueueContext(ctx, asynq.NewTask(TaskProcessPhoto, payload), opts...)
	if err != nil {
		return fmt.Errorf("enqueue photo task: %w", err)
	}
	slog.Debug("photo task queued", "photo_id", photoID, "task_id", info.ID)
	return nil
}

// QueueDepth returns pending plus scheduled retries in the queue.
func (p *AsynqProducer) QueueDepth(context.Context) (uint64, error) {
	q, err := p.inspector.GetQueueInfo(p.queue)
	if err != nil {
		return 0, err
	}
	return uint64(q.Pending + q.Retry + q.Scheduled), nil
}

func (p *AsynqProducer) Ping(context.Context) error {
	if _, err := p.inspector.Queues(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (p *AsynqProducer) Close() {
	_ = p.client.Close()
	_ = p.inspector.Close()
}

// AsynqConsumer runs photo tasks on an asynq server. asynq's retry set
// carries backoff; its archive holds dead letters.
type AsynqConsumer struct {
	opt     asynq.RedisClientOpt
	queue   string
	workers int
	policy  Policy
	srv     *asynq.Server
}

func NewAsynqConsumer(cfg config.RedisConfig, q config.QueueConfig, policy Policy) *AsynqConsumer {
	return &AsynqConsumer{
		opt:     redisOpt(cfg),
		queue:   q.Name,
		workers: max(q.WorkerCount, 1),
		policy:  policy,
	}
}

func (c *AsynqConsumer) Start(ctx context.Context, h Handler) error {
	c.srv = asynq.NewServer(c.opt, asynq.Config{
		Concurrency: c.workers,
		Queues:      map[string]int{c.queue: 1},
		BaseContext: func() context.Context { return ctx },
		RetryDelayFunc: func(n int, err error, _ *asynq.Task) time.Duration {
			_, delay := c.policy.decide(n+1, err)
			return delay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(c.onError),
		Logger:       slogAdapter{},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessPhoto, func(ctx context.Context, t *asynq.Task) error {
		task, err := decodeTask(t.Payload())
		if err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		retried, _ := asynq.GetRetryCount(ctx)
		err = h(ctx, Delivery{Task: task, Attempt: retried + 1})
		if err != nil && c.policy.Retryable != nil && !c.policy.Retryable(err) {
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return err
	})

	if err := c.srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	slog.Info("photo consumer started", "backend", "asynq", "queue", c.queue, "workers", c.workers)
	return nil
}

func (c *AsynqConsumer) onError(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry && !errors.Is(err, asynq.SkipRetry) {
		return
	}
	task, derr := decodeTask(t.Payload())
	if derr != nil {
		return
	}
	c.policy.deadLetter(ctx, Delivery{Task: task, Attempt: retried + 1}, err)
	slog.Error("photo task dead-lettered", "photo_id", task.PhotoID, "attempts", retried+1, "error", err)
}

func (c *AsynqConsumer) Close() {
	if c.srv != nil {
		c.srv.Shutdown()
	}
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Info(args ...any)  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Error(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Fatal(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
