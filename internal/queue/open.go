package queue

import (
	"context"
	"fmt"

	"github.com/your-org/photoproc/internal/config"
)

// Broker is a producer that can also report backlog and health.
type Broker interface {
	Producer
	QueueDepth(ctx context.Context) (uint64, error)
	Ping(ctx context.Context) error
}

// OpenProducer connects the configured backend. For NATS the streams are
// created as well.
func OpenProducer(ctx context.Context, cfg *config.Config) (Broker, error) {
	switch cfg.Queue.Backend {
	case "asynq":
		return NewAsynqProducer(cfg.Redis, cfg.Queue, cfg.Processing.JobTimeout), nil
	case "nats":
		p, err := NewNATSProducer(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureStreams(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// OpenConsumer builds the configured consumer. name identifies the durable
// NATS consumer and is ignored by asynq.
func OpenConsumer(cfg *config.Config, name string, policy Policy) (Consumer, error) {
	switch cfg.Queue.Backend {
	case "asynq":
		return NewAsynqConsumer(cfg.Redis, cfg.Queue, policy), nil
	case "nats":
		c, err := NewNATSConsumer(NATSConsumerConfig{
			URL:         cfg.NATS.URL,
			Name:        name,
			WorkerCount: cfg.Queue.WorkerCount,
			AckWait:     cfg.Queue.AckWait,
			Policy:      policy,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
