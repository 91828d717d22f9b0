// Package notifier delivers one text to a list of chat recipients.
//
// # Fan-out
//
// Notify attempts every recipient in order, pacing sends with a token bucket.
// A failure for one recipient is logged, counted and published on the event
// bus; it never aborts the remaining sends and is never retried. The caller
// gets a Result with sent/failed counts, not an error: delivery is attempted,
// not confirmed.
//
// # Alerts
//
// Alert routes operator messages (unexpected failures in the poller) to the
// configured operator chats through the same fan-out.
//
// # History
//
// A bounded in-memory history of recent fan-outs backs the /status command.
package notifier
