// Package cache memoizes raw upstream responses across runs.
//
// Lookups go through two tiers. Concurrent requests for the same key collapse
// onto a single in-flight fetch whose result is shared. Completed responses
// persist in a BadgerDB store keyed by a hash of the request identity, and an
// entry older than the configured TTL counts as a miss and is overwritten
// after refetch — inside one process just as across restarts, so a long-lived
// daemon refreshes its entries on the same rhythm as repeated one-shot runs.
//
// The cache is a performance layer, not a source of truth: losing it only
// costs refetches, and a failed fetch is never stored durably.
package cache
