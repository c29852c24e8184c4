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
	"github.com/nats-io/nats.go/jetstream"
)

const (
	PhotosStreamName     = "PHOTOS"
	PhotosSubject        = "photos.process"
	DeadLetterStreamName = "DEADLETTER"
	DeadLetterSubject    = "photos.deadletter"
)

func connectNATS(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type NATSProducer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewNATSProducer(natsURL string) (*NATSProducer, error) {
	nc, js, err := connectNATS(natsURL)
	if err != nil {
		return nil, err
	}
	return &NATSProducer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *NATSProducer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        PhotosStreamName,
			Subjects:    []string{PhotosSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  30 * time.Second,
			Description: "Photo post-processing jobs",
		},
		{
			Name:        DeadLetterStreamName,
			Subjects:    []string{DeadLetterSubject},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Description: "Photo jobs that exhausted their retries or cannot succeed",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Enqueue publishes a process-photo task. Publishing the same id twice
// within the stream's duplicate window stores it once.
func (p *NATSProducer) Enqueue(ctx context.Context, photoID uuid.UUID) error {
	payload, err := encodeTask(photoID)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(ctx, PhotosSubject, payload, jetstream.WithMsgID(photoID.String())); err != nil {
		return fmt.Errorf("publish photo task: %w", err)
	}
	return nil
}

func (p *NATSProducer) PublishDeadLetter(ctx context.Context, dl DeadLetter) error {
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if _, err := p.js.Publish(ctx, DeadLetterSubject, payload); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the PHOTOS stream.
func (p *NATSProducer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *NATSProducer) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *NATSProducer) Close() {
	p.nc.Close()
}

type NATSConsumer struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	name     string
	workers  int
	ackWait  time.Duration
	policy   Policy
	deadPub  *NATSProducer
	deadWait time.Duration
}

type NATSConsumerConfig struct {
	URL         string
	Name        string
	WorkerCount int
	AckWait     time.Duration
	Policy      Policy
}

func NewNATSConsumer(cfg NATSConsumerConfig) (*NATSConsumer, error) {
	nc, js, err := connectNATS(cfg.URL)
	if err != nil {
		return nil, err
	}
	workers := max(cfg.WorkerCount, 1)
	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 2 * time.Minute
	}
	return &NATSConsumer{
		nc:       nc,
		js:       js,
		name:     cfg.Name,
		workers:  workers,
		ackWait:  ackWait,
		policy:   cfg.Policy,
		deadPub:  &NATSProducer{nc: nc, js: js},
		deadWait: 5 * time.Second,
	}, nil
}

// Start consumes photo tasks from the PHOTOS stream with a durable consumer
// and a fixed pool of workers.
func (c *NATSConsumer) Start(ctx context.Context, h Handler) error {
	stream, err := c.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", PhotosStreamName, err)
	}

	// One spare delivery lets a crash during the final attempt still reach
	// the dead-letter channel.
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          c.name,
		Durable:       c.name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.ackWait,
		MaxDeliver:    c.policy.maxAttempts() + 1,
		FilterSubject: PhotosSubject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.name, err)
	}

	msgCh := make(chan jetstream.Msg, c.workers*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(c.workers, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch photo tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < c.workers; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				c.handle(ctx, workerID, msg, h)
			}
		}(i)
	}

	slog.Info("photo consumer started", "consumer", c.name, "workers", c.workers)
	return nil
}

func (c *NATSConsumer) handle(ctx context.Context, workerID int, msg jetstream.Msg, h Handler) {
	task, err := decodeTask(msg.Data())
	if err != nil {
		slog.Error("drop malformed photo task", "worker", workerID, "error", err)
		_ = msg.Term()
		return
	}

	attempt := 1
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}
	d := Delivery{Task: task, Attempt: attempt}

	if attempt > c.policy.maxAttempts() {
		c.deadLetter(ctx, msg, d, errors.New("worker lost during final attempt"))
		return
	}

	herr := h(ctx, d)
	switch v, delay := c.policy.decide(attempt, herr); v {
	case ack:
		_ = msg.Ack()
	case retry:
		slog.Warn("photo task retry scheduled", "worker", workerID, "photo_id", task.PhotoID,
			"attempt", attempt, "delay", delay, "error", herr)
		_ = msg.NakWithDelay(delay)
	case deadLetter:
		c.deadLetter(ctx, msg, d, herr)
	}
}

func (c *NATSConsumer) deadLetter(ctx context.Context, msg jetstream.Msg, d Delivery, err error) {
	dl := c.policy.deadLetter(ctx, d, err)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.deadWait)
	defer cancel()
	if perr := c.deadPub.PublishDeadLetter(pubCtx, dl); perr != nil {
		slog.Error("publish dead letter", "photo_id", d.PhotoID, "error", perr)
	}
	slog.Error("photo task dead-lettered", "photo_id", d.PhotoID, "attempts", d.Attempt, "error", err)
	_ = msg.Term()
}

// ConsumeDeadLetters streams new dead letters to fn, for the ops feed.
func (c *NATSConsumer) ConsumeDeadLetters(ctx context.Context, consumerName string, fn func(DeadLetter)) error {
	stream, err := c.js.Stream(ctx, DeadLetterStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", DeadLetterStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: DeadLetterSubject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var dl DeadLetter
				if err := json.Unmarshal(msg.Data(), &dl); err != nil {
					slog.Error("decode dead letter", "error", err)
					_ = msg.Term()
					continue
				}
				fn(dl)
				_ = msg.Ack()
			}
		}
	}()

	slog.Info("dead letter consumer started", "consumer", consumerName)
	return nil
}

func (c *NATSConsumer) Close() {
	c.nc.Close()
}
