// Package memstore provides an in-memory storage.Store.
//
// The implementation mirrors the PostgreSQL backend's conflict policies
// and referential checks so it can stand in for it in tests and in
// single-run invocations that do not need durability.
package memstore
