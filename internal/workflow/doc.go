// Package workflow advances queue jobs through the configured processing
// stages.
//
// The Manager polls the queue, reclaims stale work via heartbeats, and
// feeds jobs into registered stage handlers (preparer, generator,
// collector) while capturing progress and failure metadata. It also
// aggregates queue stats, calls stage health checks, and emits
// notifications when jobs and queue runs start or complete.
//
// Add new lifecycle stages by extending StageSet, updating the queue
// status enums, and teaching the manager how to transition jobs; this
// package is the authoritative home for that coordination logic.
package workflow
