package database

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryDoc struct {
	seq  int64
	data bson.M
}

type memorySubscriber struct {
	mu     sync.Mutex
	queue  []Snapshot
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscriber) push(snap Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscriber) run(ctx context.Context, fn func(Snapshot)) {
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, snap := range pending {
			select {
			case <-s.done:
				return
			default:
			}
			fn(snap)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
		}
	}
}

// MemoryStore is an in-process MetadataStore. Documents go through the
// same bson encoding as MongoStore, so models round-trip identically.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	collections map[string]map[string]*memoryDoc
	subscribers map[string][]*memorySubscriber
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memoryDoc),
		subscribers: make(map[string][]*memorySubscriber),
	}
}

func (m *MemoryStore) CreateDocument(ctx context.Context, collection string, data interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := Encode(data)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, id, doc)
	return id, nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	return &Document{ID: id, Data: cloneDoc(doc.data)}, nil
}

func (m *MemoryStore) SetDocument(ctx context.Context, collection, id string, data interface{}, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := Encode(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.collections[collection][id]; ok && merge {
		merged := cloneDoc(existing.data)
		for k, v := range doc {
			merged[k] = v
		}
		doc = merged
	}
	m.put(collection, id, doc)
	return nil
}

func (m *MemoryStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := make(map[string]interface{}, len(fields))
	for path, value := range fields {
		if value == DeleteField {
			encoded[path] = DeleteField
			continue
		}
		v, err := encodeValue(value)
		if err != nil {
			return err
		}
		encoded[path] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	doc := cloneDoc(existing.data)
	for path, value := range encoded {
		if value == DeleteField {
			unsetPath(doc, path)
			continue
		}
		setPath(doc, path, value)
	}
	m.put(collection, id, doc)
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[collection][id]
	if !ok {
		return nil
	}
	delete(m.collections[collection], id)
	m.broadcast(collection, Change{Type: ChangeRemoved, Document: Document{ID: id, Data: cloneDoc(existing.data)}})
	return nil
}

func (m *MemoryStore) QueryEquals(ctx context.Context, collection string, filters []FieldFilter, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make([]interface{}, len(filters))
	for i, f := range filters {
		v, err := encodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		wanted[i] = v
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Document
	for _, id := range m.orderedIDs(collection) {
		doc := m.collections[collection][id]
		matched := true
		for i, f := range filters {
			got, ok := getPath(doc.data, f.Field)
			if !ok || !reflect.DeepEqual(got, wanted[i]) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		results = append(results, Document{ID: id, Data: cloneDoc(doc.data)})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryStore) SubscribeCollection(ctx context.Context, collection string, fn func(Snapshot)) (func(), error) {
	sub := &memorySubscriber{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	initial := Snapshot{Collection: collection}
	for _, id := range m.orderedIDs(collection) {
		initial.Changes = append(initial.Changes, Change{
			Type:     ChangeAdded,
			Document: Document{ID: id, Data: cloneDoc(m.collections[collection][id].data)},
		})
	}
	sub.push(initial)
	m.subscribers[collection] = append(m.subscribers[collection], sub)
	m.mu.Unlock()

	go sub.run(ctx, fn)

	cancel := func() {
		sub.stop()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[collection]
		for i, s := range subs {
			if s == sub {
				m.subscribers[collection] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return cancel, nil
}

// put stores doc and notifies subscribers. Callers hold m.mu.
func (m *MemoryStore) put(collection, id string, doc bson.M) {
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]*memoryDoc)
		m.collections[collection] = coll
	}

	change := ChangeModified
	existing, ok := coll[id]
	if !ok {
		m.seq++
		existing = &memoryDoc{seq: m.seq}
		coll[id] = existing
		change = ChangeAdded
	}
	existing.data = doc
	m.broadcast(collection, Change{Type: change, Document: Document{ID: id, Data: cloneDoc(doc)}})
}

func (m *MemoryStore) broadcast(collection string, change Change) {
	for _, sub := range m.subscribers[collection] {
		sub.push(Snapshot{Collection: collection, Changes: []Change{change}})
	}
}

// orderedIDs returns ids in insertion order. Callers hold m.mu.
func (m *MemoryStore) orderedIDs(collection string) []string {
	coll := m.collections[collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return coll[ids[i]].seq < coll[ids[j]].seq })
	return ids
}

func cloneDoc(doc bson.M) bson.M {
	if doc == nil {
		return bson.M{}
	}
	cloned, err := Encode(doc)
	if err != nil {
		out := make(bson.M, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	return cloned
}

// asMap views an embedded document as a map. Decoding can yield bson.M,
// plain maps or ordered bson.D depending on the codec path.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]interface{}:
		return t, true
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

func getPath(doc bson.M, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setPath(doc bson.M, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = bson.M{}
		}
		current[part] = next
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			return
		}
		if _, isD := current[part].(primitive.D); isD {
			current[part] = next
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}
