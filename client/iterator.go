package client

import (
	"context"

	"github.com/IvanBrykalov/gatedstore/remote"
	"github.com/IvanBrykalov/gatedstore/request"
)

// KeyIterator walks the keys of one store lazily, one budgeted page fetch at
// a time. Usage follows the bufio.Scanner pattern:
//
//	it := c.List(ctx, "players", "p")
//	for it.Next() {
//		use(it.Key())
//	}
//	if err := it.Err(); err != nil { ... }
//
// Reset rewinds to the first page, so the sequence is restartable.
type KeyIterator struct {
	c      *Client
	ctx    context.Context
	store  string
	prefix string
	co     callOptions

	page    []string
	i       int
	cursor  string
	started bool
	done    bool
	err     error
}

// Next advances to the next key, fetching the next page when the current one
// is exhausted. It returns false at the end of the sequence or on error.
func (it *KeyIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.i >= len(it.page) {
		if it.done {
			return false
		}
		if !it.fetch() {
			return false
		}
	}
	it.i++
	return true
}

// Key returns the key Next advanced to.
func (it *KeyIterator) Key() string { return it.page[it.i-1] }

// Err returns the first error the iteration hit, if any.
func (it *KeyIterator) Err() error { return it.err }

// Reset rewinds the iterator to the first page and clears any error.
func (it *KeyIterator) Reset() {
	it.page, it.i = nil, 0
	it.cursor = ""
	it.started = false
	it.done = false
	it.err = nil
}

// fetch loads one page through the request manager. Returns false when the
// sequence ended or errored.
func (it *KeyIterator) fetch() bool {
	if it.started && it.cursor == "" {
		it.done = true
		return false
	}
	res, err := it.c.req.Submit(it.ctx, request.Operation{
		Verb:        request.VerbList,
		Store:       it.store,
		Priority:    it.co.priority,
		MaxAttempts: it.co.maxAttempts,
		Query: remote.ListQuery{
			Prefix: it.prefix,
			Cursor: it.cursor,
			Limit:  it.co.pageSize,
		},
	})
	if err != nil {
		it.err = err
		return false
	}
	it.started = true
	it.page, it.i = res.Page.Keys, 0
	it.cursor = res.Page.NextCursor
	if it.cursor == "" && len(it.page) == 0 {
		it.done = true
		return false
	}
	return true
}
