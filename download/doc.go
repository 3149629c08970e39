// Package download fetches selected image references to local disk.
//
// Transfers stream into a temporary ".part" file and are renamed into
// place only after the payload size checks out and the bytes decode as
// the image format the reference claims, so a half-written or bogus file
// is never addressable by its final name. Transient failures retry with
// exponential backoff; batches fan out over a bounded worker pool with
// progress reporting, and one failed transfer never stops the others.
package download
