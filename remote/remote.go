// Package remote defines the boundary to the backing key-value store:
// the RemoteStore interface, list pagination types, and the error
// taxonomy shared by every layer above it.
package remote

import "context"

// RemoteStore is the narrow interface the backing store must expose.
// Implementations may fail transiently; callers are expected to retry
// through the request manager, never directly.
type RemoteStore interface {
	// Get returns the value for key in store. A missing key is not an
	// error: found=false with a nil error.
	Get(ctx context.Context, store, key string) (value []byte, found bool, err error)

	// Set writes value under key in store, replacing any previous value.
	Set(ctx context.Context, store, key string, value []byte) error

	// Delete removes key from store. Deleting an absent key is not an error.
	Delete(ctx context.Context, store, key string) error

	// List returns one page of keys matching q. An empty NextCursor in the
	// returned page means the listing is complete.
	List(ctx context.Context, store string, q ListQuery) (ListPage, error)
}

// ListQuery selects a page of keys.
type ListQuery struct {
	Prefix string // empty = all keys
	Cursor string // opaque continuation token; empty = first page
	Limit  int    // max keys per page; <= 0 means store default
}

// ListPage is one page of a key listing.
type ListPage struct {
	Keys       []string
	NextCursor string // empty when there are no further pages
}
