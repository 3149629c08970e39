// Package pipeline orchestrates one harvest pass over the upstream API.
//
// A pass is a dependency graph of named stages:
//   - fetch the hot listing and persist the posts it names
//   - resolve every stored post's detail payload through the response cache
//   - upsert refreshed scores, kept comments and image references
//   - select the pending image references whose posts clear the thresholds
//   - download the selection and mark each finished reference
//
// A failed stage skips the stages downstream of it but never aborts the
// pass; independent stages still run, and per-post detail failures are
// isolated so one bad payload cannot starve the rest. Re-running a pass is
// safe: upserts are idempotent, detail responses resolve from the durable
// cache inside the TTL window, and finished downloads are never repeated.
package pipeline
