package ops

import (
	"context"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/api"
)

// SendFunc delivers one message to a directly linked server.
type SendFunc func(ctx context.Context, hop string, m api.Message) error

type queued struct {
	hop string
	m   api.Message
}

// Outbox queues relay messages so the daemon loop never waits on a peer.
// Messages leave in the order they were queued. Failed sends are logged and
// dropped.
type Outbox struct {
	send SendFunc

	mu     sync.Mutex
	queue  []queued
	notify chan struct{}
}

func NewOutbox(send SendFunc) *Outbox {
	return &Outbox{
		send:   send,
		notify: make(chan struct{}, 1),
	}
}

// Send queues m for hop and returns immediately.
func (o *Outbox) Send(_ context.Context, hop string, m api.Message) error {
	o.mu.Lock()
	o.queue = append(o.queue, queued{hop: hop, m: m})
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

func (o *Outbox) take() []queued {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queue
	o.queue = nil
	return q
}

// Len returns the number of messages waiting to be sent.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Run drains the queue until ctx is done.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		for _, q := range o.take() {
			err := o.send(ctx, q.hop, q.m)
			if err != nil {
				relayCount.WithLabelValues(string(q.m.Kind), relayFailed).Inc()
				log.Error(ctx, errors.Wrap(err, "relay send", j.MKV{"hop": q.hop, "dest": q.m.Dest}))
				continue
			}
			relayCount.WithLabelValues(string(q.m.Kind), relaySent).Inc()
		}
		select {
		case <-o.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ Relay = (*Outbox)(nil)
