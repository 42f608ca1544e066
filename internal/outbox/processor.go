package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
	kafkaInfra "storefront/internal/infrastructure/kafka"
	"storefront/internal/metrics"
	"storefront/internal/repository/outbox_repo"
)

type ProcessorConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Processor publishes pending outbox rows to Kafka. A batch is claimed with
// SKIP LOCKED inside one transaction, so several replicas can run it.
type Processor struct {
	tx            domain.TxManager
	outboxRepo    outbox_repo.OutboxRepository
	kafkaProducer kafkaInfra.Producer
	cfg           ProcessorConfig
	metrics       *metrics.Metrics
	logger        *zap.Logger

	shutdownSignal chan struct{}
	shutdownOnce   sync.Once
	done           chan struct{}
}

func NewProcessor(
	tx domain.TxManager,
	outboxRepo outbox_repo.OutboxRepository,
	kafkaProducer kafkaInfra.Producer,
	cfg ProcessorConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Processor{
		tx:             tx,
		outboxRepo:     outboxRepo,
		kafkaProducer:  kafkaProducer,
		cfg:            cfg,
		metrics:        m,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start polls until ctx is cancelled or Stop is called. It blocks.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor...", zap.Duration("poll_interval", p.cfg.PollInterval))
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped by context.")
			return
		case <-p.shutdownSignal:
			p.logger.Info("Outbox processor stopped.")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Outbox batch failed", zap.Error(err))
			}
		}
	}
}

// Stop signals Start to return and waits for the current batch to finish.
func (p *Processor) Stop() {
	p.shutdownOnce.Do(func() {
		p.logger.Info("Signaling outbox processor to stop...")
		close(p.shutdownSignal)
	})
	<-p.done
}

// ProcessBatch publishes up to BatchSize pending messages and returns how many
// were sent.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	if p.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PollTimeout)
		defer cancel()
	}

	var sent int
	err := p.tx.WithinTx(ctx, func(ctx context.Context, q domain.Querier) error {
		messages, err := p.outboxRepo.GetPendingMessagesTx(ctx, q, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			p.logger.Debug("No pending outbox messages found.")
			return nil
		}
		p.logger.Debug("Found pending outbox messages", zap.Int("count", len(messages)))

		for _, msg := range messages {
			if err := p.kafkaProducer.Produce(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
				p.metrics.ObserveOutbox("failed")
				p.logger.Warn("Failed to send outbox message to Kafka",
					zap.String("message_id", msg.ID),
					zap.String("message_type", msg.MessageType),
					zap.String("topic", msg.Topic),
					zap.Int("attempts", msg.Attempts+1),
					zap.Error(err))
				if err := p.outboxRepo.MarkAttemptFailedTx(ctx, q, msg.ID, p.cfg.MaxAttempts); err != nil {
					return err
				}
				continue
			}
			if err := p.outboxRepo.MarkSentTx(ctx, q, msg.ID); err != nil {
				return err
			}
			p.metrics.ObserveOutbox("sent")
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		p.logger.Info("Outbox messages published", zap.Int("count", sent))
	}
	return sent, nil
}
