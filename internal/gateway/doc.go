// Package gateway wires the helpdesk-gateway components together.
//
// # Overview
//
// The gateway package is the composition root of the service. It builds every
// long-lived component from a config.Config and owns their lifecycle:
//
//   - dedupe.Deduplicator, optionally backed by Redis or DynamoDB
//   - debounce.Debouncer, coalescing bursts per channel and user
//   - activity.Monitor, sending the idle reminder and closing idle threads
//   - conversation.Store, the bounded per-thread history
//   - pipeline.Orchestrator, which answers settled messages
//   - cache.ResponseCache, shared through the configured backend
//
// # Inbound Path
//
// Transports hand events to Ingest:
//
//  1. The event id is claimed; duplicates are dropped.
//  2. The text is buffered under the channel and user debounce key. The
//     burst's first message fixes its thread key and reply target.
//  3. The thread is marked as processing under that thread key.
//  4. When the burst settles, the combined text is submitted to the pipeline,
//     which clears the processing flag when it finishes.
//
// The webhook handler publishes to the queue when one is configured, and the
// queue consumer calls Ingest. Without a queue the handler calls Ingest
// directly.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - POST /api/events - Submit a chat event
//   - POST /api/threads/close - Close a thread early
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Cancelling ctx stops intake, settles pending bursts, waits for in-flight
// pipeline runs and closes the backends.
package gateway
