// Copyright 2025 EntoMLgist Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage defines the persistence abstraction for harvested posts,
// comments, and image references.
//
// The Store interface decouples the pipeline from the backing database so
// that different backends (PostgreSQL, in-memory) can be used
// interchangeably.
//
// # Backends
//
// Every backend satisfies storage.Store, asserted at compile time:
//
//	var _ storage.Store = (*postgres.Store)(nil)
//
// Callers hold the interface, not a concrete backend, so tests swap in the
// in-memory implementation without modification.
//
// # Idempotence
//
// Every write operation is an upsert. The pipeline runs repeatedly against
// the same collection, so re-submitting records it has seen before is the
// normal case, not an error. The conflict policies are part of the
// interface contract:
//
//   - Posts: refreshed scores win only when they are at least as recent as
//     the stored row; DiscoveredAt is never overwritten.
//   - Comments: body and score are merged in place.
//   - Image references: URL and extension are refreshed only while the
//     reference is not downloaded. Downloaded is a one-way flag.
//
// # Thread Safety
//
// All Store implementations must be thread-safe and support concurrent
// access from multiple goroutines.
//
// # Context Support
//
// All Store methods accept context.Context for cancellation and timeout
// support.
package storage
