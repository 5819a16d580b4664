package scheduler

import (
	"context"

	"banksync/internal/core"
	"banksync/internal/log"
)

// EventPublisher receives one event per finished execution.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev core.JobEvent) error
}

// LogPublisher writes job events to the structured log. It is the fallback
// when no broker is configured.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishJobEvent(ctx context.Context, ev core.JobEvent) error {
	p.logger.InfoContext(ctx, "Job event",
		log.FieldJobName, ev.JobName,
		log.FieldRunID, ev.RunID,
		log.FieldLogID, ev.LogID,
		"status", ev.Status,
		"forced", ev.Forced,
		log.FieldDuration, ev.DurationMs)
	return nil
}

// MultiPublisher fans an event out to several publishers and returns the
// first error after trying them all.
type MultiPublisher []EventPublisher

func (m MultiPublisher) PublishJobEvent(ctx context.Context, ev core.JobEvent) error {
	var first error
	for _, p := range m {
		if err := p.PublishJobEvent(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
