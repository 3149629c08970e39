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


// Package postgres implements storage.Store on PostgreSQL using pgx.
//
// Batched writes run inside explicit transactions, one per call, and every
// statement is an upsert with the conflict policy the storage package
// documents. The schema is created on demand by EnsureSchema, which
// NewStore runs automatically; the initdb command exposes it directly.
//
// Threshold selection is pushed into the database: a single query joins
// pending image references against their posts and a grouped comment
// count, so candidate selection never issues per-post queries.
package postgres
