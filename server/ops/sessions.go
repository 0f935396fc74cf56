package ops

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var ErrSessionFull = errors.New("session buffer full", j.C("ERR_47c9e2a1d08b6f35"))

// Sessions holds the users attached to this server and the lines waiting to
// be read by each.
type Sessions struct {
	sid    string
	buffer int
	seq    atomic.Int64

	mu   sync.Mutex
	open map[string]chan string
}

// NewSessions creates a session registry for server sid. Each session
// buffers up to buffer unread lines.
func NewSessions(sid string, buffer int) *Sessions {
	return &Sessions{
		sid:    sid,
		buffer: buffer,
		open:   make(map[string]chan string),
	}
}

// Open registers a new user and returns its uid, the lines written to it,
// and a func to close the session.
func (s *Sessions) Open() (string, <-chan string, func()) {
	uid := fmt.Sprintf("%s%06d", s.sid, s.seq.Add(1))
	ch := make(chan string, s.buffer)

	s.mu.Lock()
	s.open[uid] = ch
	s.mu.Unlock()

	return uid, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.open, uid)
	}
}

// WriteLine never blocks; a session that stops reading loses lines.
func (s *Sessions) WriteLine(_ context.Context, uid string, line string) error {
	s.mu.Lock()
	ch, ok := s.open[uid]
	s.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrNoSession, "", j.KV("uid", uid))
	}
	select {
	case ch <- line:
		return nil
	default:
		return errors.Wrap(ErrSessionFull, "", j.KV("uid", uid))
	}
}

var _ UserSink = (*Sessions)(nil)
