// Package notifications pushes job lifecycle events to an ntfy topic.
//
// Without a configured topic every method is a no-op, so callers never need
// to guard notification sends. Job, queue, and error event categories can be
// toggled independently to keep a busy queue from flooding the topic.
package notifications
