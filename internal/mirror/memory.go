package mirror

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
)

const watchBuffer = 16

// MemoryStore keeps documents in process. Documents are stored encoded so
// readers never share memory with writers.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	watchers map[string]map[int]chan Change
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string][]byte),
		watchers: make(map[string]map[int]chan Change),
	}
}

func (m *MemoryStore) Get(_ context.Context, token string) (*Payload, error) {
	m.mu.Lock()
	data, ok := m.docs[token]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return DecodePayload(data)
}

func (m *MemoryStore) Set(_ context.Context, token string, p Payload) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.docs[token]; ok && bytes.Equal(prev, data) {
		return nil
	}
	m.docs[token] = data
	m.broadcast(token, data)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[token]; !ok {
		return nil
	}
	delete(m.docs, token)
	m.broadcast(token, nil)
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context, token string) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.watchers[token] == nil {
		m.watchers[token] = make(map[int]chan Change)
	}
	m.watchers[token][id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[token], id)
		if len(m.watchers[token]) == 0 {
			delete(m.watchers, token)
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// broadcast is called with mu held. Nil data announces a delete.
// Every change carries the whole document, so a watcher that falls behind
// loses the oldest queued update, never the newest.
func (m *MemoryStore) broadcast(token string, data []byte) {
	for _, ch := range m.watchers[token] {
		c := Change{Deleted: data == nil}
		if data != nil {
			p, err := DecodePayload(data)
			if err != nil {
				log.Printf("Warning: mirror document %s is invalid: %v", token, err)
				return
			}
			c.Payload = p
		}
		select {
		case ch <- c:
			continue
		default:
		}
		// Only this method sends, under mu, so one receive makes room
		select {
		case <-ch:
			log.Printf("Warning: mirror watcher for %s is behind, dropping oldest change", token)
		default:
		}
		ch <- c
	}
}
