// Package ingest feeds documents consumed from Kafka through the detector
// and publishes a SimilarityEvent for every document found similar to an
// earlier one.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/detector"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/tracing"
)

// Publisher sends similarity events downstream. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Consumer drives a detector from a Kafka topic.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New wraps a Kafka consumer built with Handler.
func New(kafkaConsumer *kafka.Consumer) *Consumer {
	return &Consumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("ingest-consumer"),
	}
}

// Start consumes until ctx is cancelled or a fatal error occurs.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("ingest consumer starting")
	return c.consumer.Start(ctx)
}

// Handler returns a MessageHandler adding each DocumentEvent to det.
// Malformed messages are counted and skipped. A failing index wraps
// kafka.ErrFatal so consuming stops before more ids are consumed. pub and m
// may be nil.
func Handler(det *detector.Detector, pub Publisher, m *metrics.Metrics) kafka.MessageHandler {
	log := logger.WithComponent("ingest-consumer")
	count := func(status string) {
		if m != nil {
			m.IngestMessagesTotal.WithLabelValues(status).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[kafka.DocumentEvent](value)
		if err != nil {
			log.Error("failed to decode document event", "error", err, "key", string(key))
			count("malformed")
			return nil
		}

		traceID := string(key)
		if traceID == "" {
			traceID = event.Source
		}
		ctx, span := tracing.StartSpan(ctx, "ingest_document", traceID)
		defer func() {
			span.End()
			span.Log(ctx, log)
		}()

		addCtx, addSpan := tracing.StartChildSpan(ctx, "add_document")
		res, err := det.AddDocument(addCtx, event.Text)
		addSpan.SetAttr("doc_id", res.ID)
		addSpan.SetAttr("candidates", res.Candidates)
		addSpan.End()
		if err != nil {
			count("failed")
			return fmt.Errorf("%w: adding document from %q: %w", kafka.ErrFatal, event.Source, err)
		}
		count("ok")
		log.Debug("document checked",
			"doc_id", res.ID,
			"source", event.Source,
			"similar", res.Similar,
			"master", res.Master,
		)
		if !res.Similar || pub == nil {
			return nil
		}

		out := kafka.SimilarityEvent{
			DocumentID: res.ID,
			Source:     event.Source,
			MasterID:   res.Master,
			Distance:   res.Distance,
			Duplicate:  res.Duplicate,
		}
		pubCtx, pubSpan := tracing.StartChildSpan(ctx, "publish_similarity")
		err = pub.Publish(pubCtx, kafka.Event{Key: strconv.Itoa(res.Master), Value: out})
		pubSpan.End()
		if err != nil {
			count("publish_failed")
			return fmt.Errorf("publishing similarity of document %d: %w", res.ID, err)
		}
		return nil
	}
}
