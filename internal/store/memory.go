package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Client over a fixed set of buckets. It mimics the
// S3 delimiter listing and supports failure injection.
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]map[string]ObjectMeta
	created  map[string]time.Time
	pageSize int
	maxBatch int

	listFailures   map[string][]error
	deleteFailures map[string][]error
	batchFailures  []error
	listCalls      map[string]int
	deleteCalls    int
	listHook       func(path, token string)
}

// NewMemory creates an empty in-memory store.
func NewMemory(pageSize int) *Memory {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Memory{
		buckets:        make(map[string]map[string]ObjectMeta),
		created:        make(map[string]time.Time),
		pageSize:       pageSize,
		maxBatch:       maxS3DeleteBatch,
		listFailures:   make(map[string][]error),
		deleteFailures: make(map[string][]error),
		listCalls:      make(map[string]int),
	}
}

// SetMaxDeleteBatch overrides the batch limit.
func (m *Memory) SetMaxDeleteBatch(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBatch = n
}

// AddBucket creates an empty bucket.
func (m *Memory) AddBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addBucketLocked(name)
}

func (m *Memory) addBucketLocked(name string) map[string]ObjectMeta {
	b, ok := m.buckets[name]
	if !ok {
		b = make(map[string]ObjectMeta)
		m.buckets[name] = b
		m.created[name] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return b
}

// Put stores an object at "bucket/key", creating the bucket when needed.
func (m *Memory) Put(path string, size int64, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, key := SplitPath(path)
	m.addBucketLocked(bucket)[key] = ObjectMeta{Size: size, Modified: modified}
}

// Remove deletes an object or a whole bucket behind the navigator's back.
func (m *Memory) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, key := SplitPath(path)
	if key == "" {
		delete(m.buckets, bucket)
		return
	}
	delete(m.buckets[bucket], key)
}

// Exists reports whether an object is stored at path.
func (m *Memory) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, key := SplitPath(path)
	_, ok := m.buckets[bucket][key]
	return ok
}

// FailList makes the next calls listing path return errs, one per call.
func (m *Memory) FailList(path string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFailures[path] = append(m.listFailures[path], errs...)
}

// FailDelete makes the next attempts to delete "bucket/key" fail, one error
// per attempt.
func (m *Memory) FailDelete(path string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteFailures[path] = append(m.deleteFailures[path], errs...)
}

// FailBatch makes the next DeleteBatch calls fail as a whole.
func (m *Memory) FailBatch(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchFailures = append(m.batchFailures, errs...)
}

// SetListHook installs a function called at the start of every List call,
// outside the store lock.
func (m *Memory) SetListHook(fn func(path, token string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHook = fn
}

// ListCalls returns how many List calls hit path.
func (m *Memory) ListCalls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls[path]
}

// DeleteCalls returns how many DeleteBatch calls were made.
func (m *Memory) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

// List implements Client.
func (m *Memory) List(ctx context.Context, path, token string) (ListingPage, error) {
	m.mu.Lock()
	hook := m.listHook
	m.mu.Unlock()
	if hook != nil {
		hook(path, token)
	}
	if err := ctx.Err(); err != nil {
		return ListingPage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls[path]++

	if errs := m.listFailures[path]; len(errs) > 0 {
		m.listFailures[path] = errs[1:]
		return ListingPage{}, NewError(KindOf(errs[0]), "list", path, errs[0])
	}

	offset := 0
	if token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(token, "off:"))
		if err != nil || !strings.HasPrefix(token, "off:") || n < 0 {
			return ListingPage{}, NewError(KindInvalid, "list", path, fmt.Errorf("malformed continuation token %q", token))
		}
		offset = n
	}

	var items []Item
	if path == "" {
		items = m.bucketItemsLocked()
	} else {
		var err error
		items, err = m.prefixItemsLocked(path)
		if err != nil {
			return ListingPage{}, err
		}
	}

	if offset > len(items) {
		return ListingPage{}, NewError(KindInvalid, "list", path, fmt.Errorf("continuation token past end"))
	}
	end := offset + m.pageSize
	if end > len(items) {
		end = len(items)
	}
	page := ListingPage{Items: items[offset:end], IsLast: end == len(items)}
	if !page.IsLast {
		page.NextToken = "off:" + strconv.Itoa(end)
	}
	return page, nil
}

func (m *Memory) bucketItemsLocked() []Item {
	items := make([]Item, 0, len(m.buckets))
	for name := range m.buckets {
		items = append(items, Item{Type: TypeBucket, Path: name, Name: name, Modified: m.created[name]})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items
}

func (m *Memory) prefixItemsLocked(path string) ([]Item, error) {
	bucket, prefix := SplitPath(path)
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, NewError(KindNotFound, "list", path, fmt.Errorf("NoSuchBucket: %s", bucket))
	}

	seen := make(map[string]struct{})
	var items []Item
	for key, meta := range objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			p := prefix + rest[:i+1]
			if _, dup := seen[p]; dup || i == 0 {
				continue
			}
			seen[p] = struct{}{}
			items = append(items, Item{Type: TypeDirectory, Path: JoinPath(bucket, p), Name: rest[:i]})
			continue
		}
		items = append(items, Item{
			Type:      TypeObject,
			Path:      JoinPath(bucket, key),
			Name:      rest,
			Size:      meta.Size,
			Modified:  meta.Modified,
			NeedsHead: meta.Modified.IsZero(),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// DeleteBatch implements Client.
func (m *Memory) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]DeleteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++

	if len(keys) > m.maxBatch {
		return nil, NewError(KindInvalid, "delete", bucket, fmt.Errorf("batch of %d keys exceeds limit %d", len(keys), m.maxBatch))
	}
	if len(m.batchFailures) > 0 {
		err := m.batchFailures[0]
		m.batchFailures = m.batchFailures[1:]
		return nil, NewError(KindOf(err), "delete", bucket, err)
	}

	objects := m.buckets[bucket]
	outcomes := make([]DeleteOutcome, 0, len(keys))
	for _, k := range keys {
		path := JoinPath(bucket, k)
		if errs := m.deleteFailures[path]; len(errs) > 0 {
			m.deleteFailures[path] = errs[1:]
			outcomes = append(outcomes, DeleteOutcome{Key: k, Err: NewError(KindOf(errs[0]), "delete", path, errs[0])})
			continue
		}
		// S3 reports deleting a missing key as success.
		delete(objects, k)
		outcomes = append(outcomes, DeleteOutcome{Key: k})
	}
	return outcomes, nil
}

// Head implements Client.
func (m *Memory) Head(ctx context.Context, bucket, key string) (ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return ObjectMeta{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.buckets[bucket][key]
	if !ok {
		return ObjectMeta{}, NewError(KindNotFound, "head", JoinPath(bucket, key), fmt.Errorf("NoSuchKey"))
	}
	if meta.Modified.IsZero() {
		meta.Modified = m.created[bucket]
	}
	return meta, nil
}

// MaxDeleteBatch implements Client.
func (m *Memory) MaxDeleteBatch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxBatch
}
