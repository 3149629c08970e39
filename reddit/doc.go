// Package reddit provides the upstream API client and payload extraction for
// the harvest pipeline.
//
// The Client type issues rate-limited HTTP requests against the public JSON
// endpoints of a single collection (subreddit):
//   - Listing: the current hot posts, parameterized by limit
//   - Detail: a single post plus its comment tree
//
// All requests share one rate gate so the mandatory inter-request delay and
// backoff state hold globally, no matter how many goroutines call in.
//
// The Extractor type turns raw JSON payloads into domain records. Parsing is
// tolerant: a missing or malformed field is logged and defaulted, never fatal
// to the batch. Filtering happens here and not downstream: moderation-bot
// authors, deleted or removed comment bodies, and image extensions outside the
// accepted set are dropped before anything reaches storage.
package reddit
