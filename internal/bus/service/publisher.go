package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	busdomain "github.com/nsiitk/killbill/internal/bus/domain"
	"github.com/nsiitk/killbill/internal/clock"
	"github.com/nsiitk/killbill/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "killbill",
	Subsystem: "bus",
	Name:      "published_total",
	Help:      "Outbox messages published, by result.",
}, []string{"result"})

// Publisher drains the transactional outbox onto the in-process bus.
// Delivery is at least once; consumers de-duplicate on event id.
type Publisher struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   busdomain.Repository
	pubsub *gochannel.GoChannel

	pollInterval time.Duration
	batchSize    int
}

type PublisherParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   *config.Config
	Repo  busdomain.Repository
}

func NewPublisher(p PublisherParam) *Publisher {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:          true,
			OutputChannelBuffer: int64(p.Cfg.Bus.OutputBuffer),
		},
		watermill.NopLogger{},
	)

	return &Publisher{
		db:           p.DB,
		log:          p.Log.Named("bus.publisher"),
		clock:        p.Clock,
		repo:         p.Repo,
		pubsub:       pubsub,
		pollInterval: p.Cfg.Dispatcher.PollInterval,
		batchSize:    p.Cfg.Dispatcher.BatchSize,
	}
}

// Subscribe hands out the consumer side of the bus.
func (p *Publisher) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.pubsub.Subscribe(ctx, topic)
}

// Drain publishes unpublished outbox rows. Failures are logged and retried
// on the next cycle; the committed event log is the source of truth.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	pending, err := p.repo.Unpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range pending {
		wm := message.NewMessage(msg.ID.String(), []byte(msg.Payload))
		wm.Metadata.Set("kind", string(msg.Kind))
		if msg.UserToken != "" {
			wm.Metadata.Set("user_token", msg.UserToken)
		}

		if err := p.pubsub.Publish(msg.Topic, wm); err != nil {
			publishedTotal.WithLabelValues("error").Inc()
			p.log.Warn("failed to publish outbox message, will retry",
				zap.String("outbox_id", msg.ID.String()),
				zap.Error(err))
			continue
		}

		if err := p.repo.MarkPublished(ctx, p.db, msg.ID, p.clock.Now(ctx)); err != nil {
			// The message went out; the row stays pending and the next drain
			// re-publishes it. At-least-once, not exactly-once.
			publishedTotal.WithLabelValues("requeued").Inc()
			p.log.Warn("published but failed to mark outbox row",
				zap.String("outbox_id", msg.ID.String()),
				zap.Error(err))
			published++
			continue
		}
		publishedTotal.WithLabelValues("ok").Inc()
		published++
	}
	return published, nil
}

// RunForever drains the outbox until the context ends.
func (p *Publisher) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil {
				p.log.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) Close() error {
	return p.pubsub.Close()
}
