// Package cache provides a byte-bounded LRU cache.
//
// Entries are charged against a resource.Controller when one is supplied, so
// cached data competes with other consumers for the same memory ceiling. A
// Set that the controller refuses is dropped rather than blocking.
package cache
