package queue

import (
	"context"
	"sync"
)

// MemoryPublisher collects published messages in memory, for tests and
// single-process embedding.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string][][]byte)}
}

func (p *MemoryPublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]byte(nil), payload...)
	p.messages[queue] = append(p.messages[queue], cp)
	return nil
}

// Messages returns the payloads published to queue, in order.
func (p *MemoryPublisher) Messages(queue string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.messages[queue]))
	copy(out, p.messages[queue])
	return out
}
