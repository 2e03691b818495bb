package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// backend abstracts Transport for the store and coordinator.
type backend interface {
	Do(ctx context.Context, operation string, variables any) (json.RawMessage, []OperationError, error)
}

// Result is a point-in-time snapshot of a cache entry: the last committed
// data, whether a request is in flight, and the entry's own error. Errors
// are isolated per entry so one failing accessor never poisons another.
type Result struct {
	Data    json.RawMessage
	Items   []json.RawMessage // list accessors only
	Loading bool
	Err     error
}

// ListOptions controls how a list response merges into the accumulated set.
type ListOptions struct {
	// Append concatenates the response to the existing items (infinite
	// scroll). Entries whose id is already accumulated are skipped.
	Append bool
	// Clear replaces the accumulated set with the response (fresh search).
	Clear bool
}

type listItem struct {
	id  string
	raw json.RawMessage
}

// cacheEntry is the unit of caching: one entry per operation + normalized
// arguments. All mutation happens inside Store methods under Store.mu.
type cacheEntry struct {
	data    json.RawMessage
	items   []listItem
	isList  bool
	loading bool
	err     error

	// epoch is a monotonically increasing request counter. A response may
	// only commit when its originating epoch is still the entry's latest;
	// anything lower lost the race and is discarded (last-request-wins).
	epoch uint64

	// refetch re-issues the most recent request for this entry.
	refetch func(ctx context.Context) error
}

// Store is the consistency-aware read/write cache over the clinical API.
// Concurrent identical first reads are coalesced; overlapping re-reads of
// the same entry resolve by request epoch, never by response arrival order.
type Store struct {
	backend backend
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
	group   singleflight.Group
}

func newStore(b backend, logger *slog.Logger) *Store {
	return &Store{
		backend: b,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
	}
}

// QueryKey computes the cache key for an operation and its arguments.
// Arguments are normalized through JSON so field order never matters.
func QueryKey(operation string, variables any) string {
	normalized, err := normalizeVariables(variables)
	if err != nil {
		// Unserializable arguments cannot be cached coherently; the raw
		// fallback still yields a usable, if pessimistic, key.
		return operation + ":" + fmt.Sprintf("%v", variables)
	}
	return operation + ":" + normalized
}

func normalizeVariables(variables any) (string, error) {
	if variables == nil {
		return "", nil
	}
	raw, err := json.Marshal(variables)
	if err != nil {
		return "", err
	}
	// Round-trip through a generic value so map key order is canonical.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

// Query reads one operation, serving cached data when present. Concurrent
// callers for the same key share a single request.
func (s *Store) Query(ctx context.Context, operation string, variables any) (json.RawMessage, error) {
	key := QueryKey(operation, variables)

	s.mu.Lock()
	if entry, ok := s.entries[key]; ok && entry.data != nil {
		data := entry.data
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.issue(ctx, key, operation, variables)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// Refetch re-issues the most recent request committed under key. Keys for
// entries never fetched are a no-op: there is nothing to make consistent.
func (s *Store) Refetch(ctx context.Context, key string) error {
	s.mu.Lock()
	entry, ok := s.entries[key]
	var refetch func(ctx context.Context) error
	if ok {
		refetch = entry.refetch
	}
	s.mu.Unlock()

	if refetch == nil {
		return nil
	}
	return refetch(ctx)
}

// Snapshot returns the current state of the entry for operation+variables.
func (s *Store) Snapshot(operation string, variables any) Result {
	return s.SnapshotKey(QueryKey(operation, variables))
}

// SnapshotKey returns the current state of the entry under key.
func (s *Store) SnapshotKey(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Result{}
	}
	res := Result{
		Data:    entry.data,
		Loading: entry.loading,
		Err:     entry.err,
	}
	if entry.isList {
		res.Items = make([]json.RawMessage, len(entry.items))
		for i, item := range entry.items {
			res.Items[i] = item.raw
		}
	}
	return res
}

// Clear drops every cache entry. In-flight responses for dropped entries
// are discarded when they resolve. Invoked on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		entry.epoch++ // orphan any in-flight response
		delete(s.entries, key)
	}
}

// issue performs one request against the backend and commits the result
// under the last-request-wins epoch rule.
func (s *Store) issue(ctx context.Context, key, operation string, variables any) (json.RawMessage, error) {
	entry, myEpoch := s.begin(key, operation, variables)

	data, opErrs, err := s.backend.Do(ctx, operation, variables)

	s.mu.Lock()
	defer s.mu.Unlock()

	if myEpoch < entry.epoch {
		s.logger.Debug("stale response discarded",
			slog.String("key", key),
			slog.Uint64("response_epoch", myEpoch),
			slog.Uint64("current_epoch", entry.epoch))
		return nil, newError(KindStaleResponse, key, ErrStaleResponse)
	}

	entry.loading = false
	if err != nil {
		// Keep prior data: stale-while-revalidate, the consumer decides.
		entry.err = err
		return nil, err
	}
	if len(opErrs) > 0 {
		entry.err = opErrs[0]
	} else {
		entry.err = nil
	}
	if data != nil {
		entry.data = data
	}
	return entry.data, entry.err
}

// begin registers a fresh request epoch for key and marks it loading.
func (s *Store) begin(key, operation string, variables any) (*cacheEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = &cacheEntry{}
		s.entries[key] = entry
	}
	entry.epoch++
	entry.loading = true
	entry.refetch = func(ctx context.Context) error {
		_, err := s.issue(ctx, key, operation, variables)
		return err
	}
	return entry, entry.epoch
}

// QueryList reads a list operation and merges the response into the entry's
// accumulated items. keyVariables identify the logical accessor (and are
// what affectedQueryKeys reference); variables carry the full request
// including pagination and live filter arguments. Rapidly re-issued lookups
// under the same key are raced by epoch: only the most recent commits.
func (s *Store) QueryList(ctx context.Context, operation string, keyVariables, variables any, opts ListOptions) ([]json.RawMessage, error) {
	key := QueryKey(operation, keyVariables)
	entry, myEpoch := s.beginList(key, operation, keyVariables, variables, opts)

	data, opErrs, err := s.backend.Do(ctx, operation, variables)

	s.mu.Lock()
	defer s.mu.Unlock()

	if myEpoch < entry.epoch {
		s.logger.Debug("stale response discarded",
			slog.String("key", key),
			slog.Uint64("response_epoch", myEpoch),
			slog.Uint64("current_epoch", entry.epoch))
		return nil, newError(KindStaleResponse, key, ErrStaleResponse)
	}

	entry.loading = false
	if err != nil {
		entry.err = err
		return nil, err
	}
	if len(opErrs) > 0 {
		entry.err = opErrs[0]
	} else {
		entry.err = nil
	}

	incoming, err := decodeListItems(data)
	if err != nil {
		entry.err = err
		return nil, err
	}

	if opts.Append && !opts.Clear {
		seen := make(map[string]bool, len(entry.items))
		for _, item := range entry.items {
			seen[item.id] = true
		}
		for _, item := range incoming {
			if item.id != "" && seen[item.id] {
				continue
			}
			seen[item.id] = true
			entry.items = append(entry.items, item)
		}
	} else {
		// Replace, deduplicating within the fresh result itself.
		seen := make(map[string]bool, len(incoming))
		replaced := make([]listItem, 0, len(incoming))
		for _, item := range incoming {
			if item.id != "" && seen[item.id] {
				continue
			}
			seen[item.id] = true
			replaced = append(replaced, item)
		}
		entry.items = replaced
	}

	out := make([]json.RawMessage, len(entry.items))
	for i, item := range entry.items {
		out[i] = item.raw
	}
	return out, entry.err
}

func (s *Store) beginList(key, operation string, keyVariables, variables any, opts ListOptions) (*cacheEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = &cacheEntry{isList: true}
		s.entries[key] = entry
	}
	entry.isList = true
	entry.epoch++
	entry.loading = true
	entry.refetch = func(ctx context.Context) error {
		_, err := s.QueryList(ctx, operation, keyVariables, variables, opts)
		return err
	}
	return entry, entry.epoch
}

func decodeListItems(data json.RawMessage) ([]listItem, error) {
	if data == nil {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	items := make([]listItem, 0, len(raws))
	for _, raw := range raws {
		var withID struct {
			ID string `json:"id"`
		}
		// Items without an id still accumulate; they just cannot dedupe.
		_ = json.Unmarshal(raw, &withID)
		items = append(items, listItem{id: withID.ID, raw: raw})
	}
	return items, nil
}
