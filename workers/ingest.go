// Package workers holds the long-running background loops: queue ingestion
// and stale-execution recovery.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"propflow/pipeline"
	"propflow/queue"
)

// Source is the message stream the ingest worker drains. Satisfied by
// *queue.Consumer; tests use a channel-backed fake.
type Source interface {
	Fetch(ctx context.Context) (*queue.Message, error)
	Commit(ctx context.Context, msg *queue.Message) error
}

// IngestWorker consumes trigger messages and drives them through the
// orchestrator. A message is committed once its execution reaches a
// decision, including terminal failure; only infrastructure errors leave
// the offset uncommitted for redelivery.
type IngestWorker struct {
	source        Source
	orchestrator  *pipeline.Orchestrator
	listingsTopic string
	reportsTopic  string
}

func NewIngestWorker(source Source, orchestrator *pipeline.Orchestrator, listingsTopic, reportsTopic string) *IngestWorker {
	return &IngestWorker{
		source:        source,
		orchestrator:  orchestrator,
		listingsTopic: listingsTopic,
		reportsTopic:  reportsTopic,
	}
}

// Run blocks until the context ends.
func (w *IngestWorker) Run(ctx context.Context) {
	log.Printf("Ingest worker started (topics: %s, %s)", w.listingsTopic, w.reportsTopic)

	for {
		msg, err := w.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Println("Ingest worker stopped")
				return
			}
			log.Printf("Ingest fetch error: %v", err)
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			// Leave uncommitted; the execution name makes redelivery safe.
			log.Printf("Ingest handling failed for %s/%s: %v", msg.Topic, msg.Key, err)
			continue
		}

		if err := w.source.Commit(ctx, msg); err != nil {
			log.Printf("Ingest commit failed for %s/%s: %v", msg.Topic, msg.Key, err)
		}
	}
}

func (w *IngestWorker) handle(ctx context.Context, msg *queue.Message) error {
	switch msg.Topic {
	case w.listingsTopic:
		var trigger pipeline.ListingTrigger
		if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
			// Undecodable payloads can never succeed; log and commit.
			log.Printf("Ingest: dropping malformed listing trigger %s: %v", msg.Key, err)
			return nil
		}
		return w.orchestrator.StartListing(ctx, trigger)
	case w.reportsTopic:
		var trigger pipeline.ReportTrigger
		if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
			log.Printf("Ingest: dropping malformed report trigger %s: %v", msg.Key, err)
			return nil
		}
		return w.orchestrator.StartReport(ctx, trigger)
	default:
		log.Printf("Ingest: ignoring message on unexpected topic %s", msg.Topic)
		return nil
	}
}
