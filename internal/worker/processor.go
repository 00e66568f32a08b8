package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/intentbridge/relay/internal/dispatch"
	"github.com/intentbridge/relay/internal/metrics"
	"github.com/intentbridge/relay/internal/normalize"
	"github.com/intentbridge/relay/internal/queue"
)

// Processor is the job handler: normalize the raw event, then dispatch it.
type Processor struct {
	normalizer *normalize.Normalizer
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewProcessor wires the normalizer and dispatcher into a pool Handler.
func NewProcessor(n *normalize.Normalizer, d *dispatch.Dispatcher, logger *slog.Logger, mtr *metrics.Metrics) *Processor {
	return &Processor{normalizer: n, dispatcher: d, logger: logger, metrics: mtr}
}

// Process handles one leased job. Rejections (unsupported entity or chain,
// malformed records, relayer 4xx) return nil so the job is acknowledged and
// never retried; only transient dispatch failures propagate as errors.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	ce, err := p.normalizer.Normalize(&job.Raw)
	if err != nil {
		if errors.Is(err, normalize.ErrUnsupportedEntity) || errors.Is(err, normalize.ErrUnsupportedChain) {
			p.logger.Warn("event ignored", "job_id", job.ID, "reason", err)
		} else {
			// Malformed record: a retry would see the same bytes.
			p.logger.Error("event unprocessable", "job_id", job.ID, "error", err)
			p.metrics.Errors()
		}
		return nil
	}

	if err := p.dispatcher.Dispatch(ctx, ce); err != nil {
		if errors.Is(err, dispatch.ErrClientRejected) {
			p.logger.Warn("relayer rejected event",
				"job_id", job.ID,
				"idempotency_key", ce.DeliveryKey(),
				"error", err)
			p.metrics.DispatchRejected()
			return nil
		}
		return err
	}

	p.metrics.EventsDispatched()
	p.logger.Info("event relayed",
		"job_id", job.ID,
		"event_type", string(ce.EventType),
		"chain", ce.Chain,
		"idempotency_key", ce.DeliveryKey())
	return nil
}
