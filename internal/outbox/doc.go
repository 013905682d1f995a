// Package outbox delivers outbound chat messages to the hub in strict FIFO
// order. A single worker sends one message at a time; a message that fails
// delivery is retried in place with a linearly growing delay, so retries never
// reorder the queue. Delivery exhaustion marks the message failed and reports
// the last transport or server error to the caller.
package outbox
