package cache

import (
	"context"
	"sort"
	"sync"
)

const layerMemory = "memory"

// MemoryStorage keeps partitions in process memory. Contents are lost on
// restart.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	order      []string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]*memoryPartition),
	}
}

// Open returns the named partition, creating it if absent.
func (s *MemoryStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{
		name:    name,
		entries: make(map[Key]*Entry),
	}
	s.partitions[name] = p
	s.order = append(s.order, name)
	return p, nil
}

// Has reports whether the named partition exists.
func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[name]
	return ok, nil
}

// Delete removes the named partition.
func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	PartitionsDeleted.WithLabelValues(layerMemory).Inc()
	return true, nil
}

// Keys lists partition names in creation order.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStorage) lookup(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[name]
	if !ok {
		return nil, ErrCacheMiss
	}
	return p, nil
}

// Match searches all partitions in creation order.
func (s *MemoryStorage) Match(ctx context.Context, req *Request) (*Response, error) {
	return matchInOrder(ctx, s, req)
}

type memoryPartition struct {
	name string

	mu      sync.RWMutex
	entries map[Key]*Entry
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	entry, ok := p.entries[KeyFor(req)]
	p.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}
	CacheHits.WithLabelValues(layerMemory).Inc()
	return EntryToResponse(entry), nil
}

func (p *memoryPartition) Put(ctx context.Context, req *Request, resp *Response) error {
	return p.PutAll(ctx, []Pair{{Request: req, Response: resp}})
}

func (p *memoryPartition) PutAll(ctx context.Context, pairs []Pair) error {
	keys := make([]Key, 0, len(pairs))
	entries := make([]*Entry, 0, len(pairs))
	for _, pair := range pairs {
		key, entry, err := snapshot(pair.Request, pair.Response)
		if err != nil {
			CacheErrors.WithLabelValues(layerMemory, "put").Inc()
			return err
		}
		keys = append(keys, key)
		entries = append(entries, entry)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, key := range keys {
		p.entries[key] = entries[i]
	}
	CacheWrites.WithLabelValues(layerMemory).Add(float64(len(keys)))
	return nil
}

func (p *memoryPartition) Delete(ctx context.Context, req *Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := KeyFor(req)
	if _, ok := p.entries[key]; !ok {
		return false, nil
	}
	delete(p.entries, key)
	return true, nil
}

func (p *memoryPartition) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]Key, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].URL < keys[j].URL })
	return keys, nil
}
