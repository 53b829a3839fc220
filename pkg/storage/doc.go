// Package storage persists playbook fact caches and run records in an
// embedded BoltDB database. The store is single-writer and safe for
// concurrent readers, matching bbolt's transaction model.
package storage
