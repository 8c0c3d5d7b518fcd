package query

import (
	"context"
)

// Pages is the value of an infinite query: the pages loaded so far and the
// cursor each one was fetched with.
type Pages[T any] struct {
	Pages   [][]T
	Cursors []string
}

// Items returns every loaded item in page order.
func (p Pages[T]) Items() []T {
	n := 0
	for _, page := range p.Pages {
		n += len(page)
	}
	out := make([]T, 0, n)
	for _, page := range p.Pages {
		out = append(out, page...)
	}
	return out
}

// PageFunc loads the page after cursor. The empty cursor requests the first
// page.
type PageFunc[T any] func(ctx context.Context, cursor string) ([]T, error)

// NextCursorFunc derives the cursor of the page following last. It returns
// false when last was the final page.
type NextCursorFunc[T any] func(last []T) (string, bool)

// LastID uses the id of the last item as the next cursor. An empty page ends
// pagination.
func LastID[T any](id func(T) string) NextCursorFunc[T] {
	return func(last []T) (string, bool) {
		if len(last) == 0 {
			return "", false
		}
		return id(last[len(last)-1]), true
	}
}

// Infinite is a paginated query stored under a single key.
type Infinite[T any] struct {
	c     *Client
	key   Key
	fetch PageFunc[T]
	next  NextCursorFunc[T]
}

// NewInfinite binds a paginated query to key.
func NewInfinite[T any](c *Client, key Key, fetch PageFunc[T], next NextCursorFunc[T]) *Infinite[T] {
	return &Infinite[T]{c: c, key: key, fetch: fetch, next: next}
}

// Key returns the cache key holding the pages.
func (q *Infinite[T]) Key() Key {
	return q.key
}

// Get returns the loaded pages, fetching the first page on first use. Stale
// pages are served while every loaded page is refetched from the first
// cursor in the background.
func (q *Infinite[T]) Get(ctx context.Context) (Pages[T], error) {
	return Query(ctx, q.c, q.key, q.refetch)
}

// refetch reloads as many pages as are cached, at least one.
func (q *Infinite[T]) refetch(ctx context.Context) (Pages[T], error) {
	want := 1
	if old, ok := q.cached(); ok && len(old.Pages) > want {
		want = len(old.Pages)
	}

	var out Pages[T]
	cursor := ""
	for i := 0; i < want; i++ {
		page, err := q.fetch(ctx, cursor)
		if err != nil {
			return Pages[T]{}, err
		}
		out.Pages = append(out.Pages, page)
		out.Cursors = append(out.Cursors, cursor)
		next, more := q.next(page)
		if !more {
			break
		}
		cursor = next
	}
	return out, nil
}

// HasNextPage reports whether the last loaded page may be followed by
// another.
func (q *Infinite[T]) HasNextPage() bool {
	p, ok := q.cached()
	if !ok || len(p.Pages) == 0 {
		return false
	}
	_, more := q.next(p.Pages[len(p.Pages)-1])
	return more
}

// IsFetchingNextPage reports whether a next-page fetch is in flight.
func (q *Infinite[T]) IsFetchingNextPage() bool {
	return q.c.isFetchingNext(q.key)
}

// FetchNextPage loads the page after the last loaded one and appends it.
// The returned bool is false when nothing was fetched: a next-page fetch was
// already in flight or the last page ended pagination. A failed fetch leaves
// the key in error state with its pages kept.
func (q *Infinite[T]) FetchNextPage(ctx context.Context) (Pages[T], bool, error) {
	current, err := q.Get(ctx)
	if err != nil {
		return Pages[T]{}, false, err
	}
	if len(current.Pages) == 0 {
		return current, false, nil
	}
	cursor, more := q.next(current.Pages[len(current.Pages)-1])
	if !more {
		return current, false, nil
	}
	if !q.c.beginNext(q.key) {
		return current, false, nil
	}
	defer q.c.endNext(q.key)

	page, err := q.fetch(ctx, cursor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return current, false, ctxErr
		}
		q.c.fail(q.key, err)
		return current, false, err
	}

	result := current
	appended := q.c.amend(q.key, func(old any) (any, bool) {
		p, ok := old.(Pages[T])
		if !ok || len(p.Pages) == 0 {
			return nil, false
		}
		// A refetch may have replaced the pages while this one was loading.
		if last, more := q.next(p.Pages[len(p.Pages)-1]); !more || last != cursor {
			return nil, false
		}
		p.Pages = append(append([][]T(nil), p.Pages...), page)
		p.Cursors = append(append([]string(nil), p.Cursors...), cursor)
		result = p
		return p, true
	})
	if !appended {
		if p, ok := q.cached(); ok {
			result = p
		}
	}
	return result, appended, nil
}

func (q *Infinite[T]) cached() (Pages[T], bool) {
	v, ok := q.c.GetQueryData(q.key)
	if !ok {
		return Pages[T]{}, false
	}
	p, ok := v.(Pages[T])
	return p, ok
}
