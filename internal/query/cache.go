// Package query is the client's query/mutation cache. Reads are memoized by
// key, concurrent reads of the same key share one remote call, stale entries
// are served while a background refetch runs, and mutations invalidate the
// keys they affect.
//
// Per key the status moves idle -> pending -> success | error. A success
// entry becomes stale when it is invalidated or older than the configured
// stale time; reading a stale entry returns the cached value immediately and
// starts a refetch. Canceling a caller's context never records an error: the
// caller gets ctx.Err() and the entry keeps its previous status.
package query

import (
	"context"
	"errors"
	"sync"
	"time"

	appErrors "snapgram/internal/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Status is the fetch status of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// State is a copy of one entry as seen at a point in time.
type State struct {
	Status    Status
	Data      any
	Err       error
	Stale     bool
	Fetching  bool
	UpdatedAt time.Time
}

// Options configures a Client.
type Options struct {
	// StaleTime is how long a fetched value counts as fresh. Zero makes every
	// value stale as soon as it is stored; negative disables age-based
	// staleness so only invalidation marks entries stale.
	StaleTime time.Duration
}

// FetchFunc loads the value of one key.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	key       Key
	status    Status
	data      any
	err       error
	stale     bool
	updatedAt time.Time
	// gen is bumped on every invalidation so a fetch that started before it
	// stores its result as stale.
	gen uint64
	// appended is bumped when a page is added in place, so a fetch that
	// started before it does not replace the longer value.
	appended uint64

	fetching bool
	detached bool
	waiters  int
	cancel   context.CancelFunc

	fetchingNext bool
}

// Client holds the cache entries of one signed-in session.
type Client struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	staleTime time.Duration
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates a Client. metrics may be nil.
func New(opts Options, metrics *Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Client{
		entries:   make(map[string]*entry),
		staleTime: opts.StaleTime,
		metrics:   metrics,
		logger:    logger.Named("query"),
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
	}
}

// SetStaleTime changes the stale time for later reads.
func (c *Client) SetStaleTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleTime = d
}

// Close cancels background refetches and waits for them to return.
func (c *Client) Close() {
	c.stop()
	c.wg.Wait()
}

// ============================================================================
// READS
// ============================================================================

// Fetch returns the value of key, calling fn only when no usable value is
// cached and no fetch for key is already pending.
func (c *Client) Fetch(ctx context.Context, key Key, fn FetchFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := key.String()

	c.mu.Lock()
	e := c.entryLocked(key, id)
	if e.status == StatusSuccess {
		data := e.data
		if !c.isStaleLocked(e) {
			c.mu.Unlock()
			c.metrics.hit()
			return data, nil
		}
		refetch := !e.fetching
		c.mu.Unlock()
		c.metrics.staleServe()
		if refetch {
			c.revalidate(key, fn)
		}
		return data, nil
	}
	if e.fetching {
		c.metrics.dedupWait()
	} else {
		c.metrics.miss()
	}
	e.waiters++
	c.mu.Unlock()

	return c.wait(ctx, key, id, fn)
}

// Query is the typed form of Client.Fetch.
func Query[T any](ctx context.Context, c *Client, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) { return fn(ctx) })
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](key, v)
}

func cast[T any](key Key, v any) (T, error) {
	if v == nil {
		var zero T
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, appErrors.Internal("QUERY_TYPE_MISMATCH", "Cached value has an unexpected type.").
			WithContext("key", key.String()).Build()
	}
	return t, nil
}

// wait joins or starts the shared fetch for id and waits for it or for ctx.
func (c *Client) wait(ctx context.Context, key Key, id string, fn FetchFunc) (any, error) {
	for attempt := 0; ; attempt++ {
		ch := c.group.DoChan(id, func() (any, error) { return c.run(key, id, fn, false) })
		select {
		case res := <-ch:
			// The shared fetch was canceled because its other waiters left
			// while this caller was joining. Start a new one.
			if attempt == 0 && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && c.ctx.Err() == nil {
				continue
			}
			c.leave(id)
			return res.Val, res.Err
		case <-ctx.Done():
			c.leave(id)
			return nil, ctx.Err()
		}
	}
}

// leave drops one waiter. The last waiter to leave cancels a fetch nobody
// is waiting for any more.
func (c *Client) leave(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[id]
	if e == nil || e.waiters == 0 {
		return
	}
	e.waiters--
	if e.waiters == 0 && e.fetching && !e.detached && e.cancel != nil {
		e.cancel()
	}
}

// revalidate refetches key in the background on the client's lifetime
// context.
func (c *Client) revalidate(key Key, fn FetchFunc) {
	if c.ctx.Err() != nil {
		return
	}
	id := key.String()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ch := c.group.DoChan(id, func() (any, error) { return c.run(key, id, fn, true) })
		select {
		case <-ch:
		case <-c.ctx.Done():
		}
	}()
}

// run performs one remote fetch and records its outcome.
func (c *Client) run(key Key, id string, fn FetchFunc, detached bool) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key, id)
	// A reader that lost the race with a completed fetch reuses its value.
	if !detached && e.status == StatusSuccess && !c.isStaleLocked(e) {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	fctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	prev := e.status
	if e.status != StatusSuccess {
		e.status = StatusPending
	}
	e.fetching, e.detached, e.cancel = true, detached, cancel
	gen, appended := e.gen, e.appended
	if !detached && e.waiters == 0 {
		cancel()
	}
	c.mu.Unlock()

	data, err := fn(fctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[id] != e {
		// Removed while fetching.
		return data, err
	}
	e.fetching, e.detached, e.cancel = false, false, nil

	if err != nil && fctx.Err() != nil {
		e.status = prev
		return nil, fctx.Err()
	}
	if err != nil {
		e.status = StatusError
		e.err = err
		c.metrics.fetchError(key.Name())
		c.logger.Debug("query failed", zap.String("key", key.Name()), zap.Error(err))
		return nil, err
	}

	if e.appended != appended && e.data != nil {
		// The value grew while this fetch ran. Keep it and leave it stale
		// so the next read refetches every loaded page.
		e.status = StatusSuccess
		e.err = nil
		e.stale = true
		return e.data, nil
	}

	e.status = StatusSuccess
	e.data = data
	e.err = nil
	e.updatedAt = c.now()
	e.stale = e.gen != gen
	return data, nil
}

func (c *Client) entryLocked(key Key, id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: key}
		c.entries[id] = e
	}
	return e
}

func (c *Client) isStaleLocked(e *entry) bool {
	if e.stale {
		return true
	}
	if c.staleTime < 0 {
		return false
	}
	return c.now().Sub(e.updatedAt) >= c.staleTime
}

// ============================================================================
// DIRECT ACCESS
// ============================================================================

// State returns the current state of key.
func (c *Client) State(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return State{Status: StatusIdle}
	}
	return State{
		Status:    e.status,
		Data:      e.data,
		Err:       e.err,
		Stale:     e.status == StatusSuccess && c.isStaleLocked(e),
		Fetching:  e.fetching,
		UpdatedAt: e.updatedAt,
	}
}

// GetQueryData returns the cached value of key, if any.
func (c *Client) GetQueryData(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.data == nil {
		return nil, false
	}
	return e.data, true
}

// SetQueryData stores data as the fresh value of key. A fetch of key still
// in flight stores its result as stale.
func (c *Client) SetQueryData(key Key, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, data)
}

// UpdateQueryData replaces the cached value of key with fn(old). Nothing is
// stored when key holds no value or fn returns false.
func (c *Client) UpdateQueryData(key Key, fn func(old any) (any, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.data == nil {
		return false
	}
	next, ok := fn(e.data)
	if !ok {
		return false
	}
	c.setLocked(key, next)
	return true
}

func (c *Client) setLocked(key Key, data any) {
	e := c.entryLocked(key, key.String())
	e.status = StatusSuccess
	e.data = data
	e.err = nil
	e.stale = false
	e.updatedAt = c.now()
	e.gen++
}

// Invalidate marks every entry whose key starts with prefix as stale and
// returns how many entries it touched.
func (c *Client) Invalidate(prefix Key) int {
	c.mu.Lock()
	n := 0
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.gen++
		if e.status == StatusSuccess {
			e.stale = true
		}
		n++
	}
	c.mu.Unlock()

	c.metrics.invalidated(n)
	if n > 0 {
		c.logger.Debug("queries invalidated", zap.String("prefix", prefix.String()), zap.Int("count", n))
	}
	return n
}

// Remove deletes every entry whose key starts with prefix, canceling their
// fetches.
func (c *Client) Remove(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			c.dropLocked(id, e)
		}
	}
}

// Clear deletes every entry.
func (c *Client) Clear() {
	c.Remove(Key{})
}

func (c *Client) dropLocked(id string, e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	delete(c.entries, id)
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

type savedEntry struct {
	key       Key
	exists    bool
	status    Status
	data      any
	err       error
	stale     bool
	updatedAt time.Time
}

// Snapshot records the state of a set of keys so an optimistic change can
// be undone.
type Snapshot struct {
	c       *Client
	entries []savedEntry
}

// Snapshot captures keys as they are now.
func (c *Client) Snapshot(keys ...Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{c: c, entries: make([]savedEntry, 0, len(keys))}
	for _, key := range keys {
		saved := savedEntry{key: key}
		if e, ok := c.entries[key.String()]; ok {
			saved.exists = true
			saved.status = e.status
			saved.data = e.data
			saved.err = e.err
			saved.stale = e.stale
			saved.updatedAt = e.updatedAt
		}
		s.entries = append(s.entries, saved)
	}
	return s
}

// Restore puts the captured keys back as they were.
func (s Snapshot) Restore() {
	if s.c == nil {
		return
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, saved := range s.entries {
		id := saved.key.String()
		if !saved.exists {
			if e, ok := c.entries[id]; ok && !e.fetching {
				delete(c.entries, id)
			}
			continue
		}
		e := c.entryLocked(saved.key, id)
		e.status = saved.status
		e.data = saved.data
		e.err = saved.err
		e.stale = saved.stale
		e.updatedAt = saved.updatedAt
		e.gen++
	}
}

// amend replaces the value of key in place. Unlike UpdateQueryData it keeps
// the entry's freshness, so an invalidated entry stays stale.
func (c *Client) amend(key Key, fn func(old any) (any, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || e.data == nil {
		return false
	}
	next, ok := fn(e.data)
	if !ok {
		return false
	}
	e.data = next
	e.status = StatusSuccess
	e.err = nil
	e.appended++
	return true
}

// fail records err on key while keeping its cached value.
func (c *Client) fail(key Key, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key, key.String())
	e.status = StatusError
	e.err = err
	c.metrics.fetchError(key.Name())
}

// beginNext claims the next-page slot of key. It returns false when a
// next-page fetch is already in flight. A background refetch in flight is
// canceled; the entry stays stale and the next read refetches it.
func (c *Client) beginNext(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key, key.String())
	if e.fetchingNext {
		return false
	}
	e.fetchingNext = true
	if e.fetching && e.detached && e.cancel != nil {
		e.cancel()
	}
	return true
}

func (c *Client) endNext(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key.String()]; ok {
		e.fetchingNext = false
	}
}

func (c *Client) isFetchingNext(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return ok && e.fetchingNext
}
