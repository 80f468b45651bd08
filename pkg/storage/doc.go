// Package storage opens the shared backing connections: the PostgreSQL
// pool every store runs on, and the optional Redis client backing the
// distributed rate-limit counters.
package storage
