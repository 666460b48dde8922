// Package notifier delivers chore notifications asynchronously.
//
// Callers enqueue a Notification; a small worker pool hands it to every
// registered Sender (Home Assistant push, Telegram chat) under a shared
// token-bucket rate limit, retrying failed sends with jittered exponential
// backoff.
//
// # Dedup
//
// The pipeline remembers the last notification sent per (target, tag). An
// identical notification for the same pair within DedupWindow is dropped,
// so repeated resyncs do not re-buzz phones. A different payload (including
// a clear) always goes through.
package notifier
