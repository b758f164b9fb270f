// Package notifier delivers outbound chat messages (period announcements,
// reminders, digests, calendar notices) through a bounded queue.
//
// Workers share one token-bucket limiter so bursts never exceed the
// platform's send rate. Failed sends retry with exponential backoff, and a
// RateLimitedError from the adapter overrides the computed delay.
//
// # Dedup
//
// Each notification carries a key. Explicit keys such as
// "period:2025-07-01:1" make an announcement idempotent across restarts when
// PersistDedup is on; otherwise the key is a hash of target and text.
package notifier
