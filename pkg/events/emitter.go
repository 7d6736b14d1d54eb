// Package events handles event emission for match set changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/kafka"
	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// Emitter handles match event emission
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// MatchesReplaced emits a match.replaced event after a match set write.
func (e *Emitter) MatchesReplaced(ctx context.Context, customerID string, best *models.Match, total int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MatchesReplaced")
	defer span.End()

	event := &kafka.MatchEvent{
		EventType:  "match.replaced",
		CustomerID: customerID,
		MatchCount: total,
	}
	if best != nil {
		score := best.ScoreTotal
		event.BestTaxID = best.TaxID
		event.BestScore = &score
		event.AddressSource = best.AddressSource
	}

	if err := e.producer.PublishMatchEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit match.replaced event")
		return err
	}

	return nil
}

// MatchesRefined emits a match.refined event after a refinement improved a set.
func (e *Emitter) MatchesRefined(ctx context.Context, customerID string, best *models.Match, total int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.MatchesRefined")
	defer span.End()

	event := &kafka.MatchEvent{
		EventType:  "match.refined",
		CustomerID: customerID,
		MatchCount: total,
	}
	if best != nil {
		score := best.ScoreTotal
		event.BestTaxID = best.TaxID
		event.BestScore = &score
		event.AddressSource = best.AddressSource
	}

	if err := e.producer.PublishMatchEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit match.refined event")
		return err
	}

	return nil
}
