package ops

import (
	"context"
	"strings"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/spantree/api"
)

// MemBus links servers running in the same process. Each server gets its
// own relay; messages are handed to the receiving server's loop in order.
type MemBus struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

func NewMemBus() *MemBus {
	return &MemBus{servers: make(map[string]*Server)}
}

func (b *MemBus) Register(s *Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servers[strings.ToLower(s.Name())] = s
}

func (b *MemBus) deliver(ctx context.Context, hop string, m api.Message) error {
	b.mu.RLock()
	s, ok := b.servers[strings.ToLower(hop)]
	b.mu.RUnlock()
	if !ok {
		return errors.Wrap(ErrNoRoute, "server not on bus", j.KV("hop", hop))
	}
	return s.Receive(ctx, m)
}

// Relay returns an outbox delivering over the bus. The caller runs it.
func (b *MemBus) Relay() *Outbox {
	return NewOutbox(b.deliver)
}
