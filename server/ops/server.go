package ops

import (
	"context"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/ops/config"
	"github.com/luno/spantree/server/ops/topology"
)

var (
	ErrNoRoute   = errors.New("no route to server", j.C("ERR_0e7a5c29b4d1f863"))
	ErrNoSession = errors.New("no such session", j.C("ERR_b82f4d06e9a1c357"))
	ErrHopLimit  = errors.New("relay hop limit reached", j.C("ERR_3f86a0d2c7e194b5"))
)

// Relay delivers a message to a directly linked server.
type Relay interface {
	Send(ctx context.Context, hop string, m api.Message) error
}

// UserSink writes a reply line to a user attached to this server.
type UserSink interface {
	WriteLine(ctx context.Context, uid string, line string) error
}

type event struct {
	f    func(ctx context.Context) error
	done chan error
}

// Server owns the local view of the network. Every read and write of the
// tree happens on the Run loop, one event at a time.
type Server struct {
	cfg      config.Config
	tree     *topology.Tree
	renderer topology.Renderer
	relay    Relay
	sink     UserSink
	now      func() time.Time

	events chan event
}

type Option func(*Server)

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
		s.renderer.Now = now
	}
}

func NewServer(cfg config.Config, relay Relay, sink UserSink, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:   cfg,
		relay: relay,
		sink:  sink,
		now:   time.Now,
		renderer: topology.Renderer{
			Rows:  cfg.Map.Rows,
			Width: cfg.Map.Width,
			Policy: topology.Policy{
				HideULines: cfg.Options.HideULines,
				FlatLinks:  cfg.Options.FlatLinks,
			},
		},
		events: make(chan event, 100),
	}
	for _, opt := range opts {
		opt(s)
	}
	tree, err := topology.NewTree(topology.NodeInfo{
		Name: cfg.Server.Name,
		ID:   cfg.Server.ID,
		Age:  s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.tree = tree
	treeServers.Set(1)
	return s, nil
}

func (s *Server) Name() string {
	return s.cfg.Server.Name
}

func (s *Server) isLocal(server string) bool {
	return strings.EqualFold(server, s.cfg.Server.Name)
}

// Run processes events until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case e := <-s.events:
			err := e.f(ctx)
			if e.done != nil {
				e.done <- err
			} else if err != nil {
				log.Error(ctx, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// do runs f on the loop and waits for its result.
func (s *Server) do(ctx context.Context, f func(ctx context.Context) error) error {
	done := make(chan error, 1)
	select {
	case s.events <- event{f: f, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues f on the loop without waiting for it to run.
func (s *Server) post(ctx context.Context, f func(ctx context.Context) error) error {
	select {
	case s.events <- event{f: f}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query runs a topology query for a user attached to this server.
func (s *Server) Query(ctx context.Context, req api.Requester, mask string) error {
	if req.Server == "" {
		req.Server = s.Name()
	}
	return s.do(ctx, func(ctx context.Context) error {
		return s.handleTopologyQuery(ctx, req, mask)
	})
}

// HandleLine parses a client command line and runs it for req.
func (s *Server) HandleLine(ctx context.Context, req api.Requester, line string) error {
	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrUnknownCommand) {
		name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
		return s.sink.WriteLine(ctx, req.UID,
			numeric(s.Name(), ErrUnknownCmd, req.Nick, strings.ToUpper(name)+" Unknown command"))
	} else if err != nil {
		return err
	}
	return s.Query(ctx, req, cmd.Target)
}

// Receive accepts a message relayed from a linked server. It returns once
// the message is queued.
func (s *Server) Receive(ctx context.Context, m api.Message) error {
	return s.post(ctx, func(ctx context.Context) error {
		return s.handleMessage(ctx, m)
	})
}

// Link attaches a newly linked server below parent.
func (s *Server) Link(ctx context.Context, parent string, info topology.NodeInfo, rtt time.Duration) error {
	return s.do(ctx, func(ctx context.Context) error {
		if info.Age.IsZero() {
			info.Age = s.now()
		}
		info.ULine = s.cfg.IsULine(info.Name)
		n, err := s.tree.Attach(parent, info)
		if err != nil {
			return err
		}
		n.RTT = rtt
		treeServers.Set(float64(s.tree.Len()))
		log.Info(ctx, "server linked", j.MKV{"server": n.Name, "parent": parent})
		return nil
	})
}

// Unlink removes a server and everything behind it, returning how many
// servers were lost.
func (s *Server) Unlink(ctx context.Context, name string) (int, error) {
	var lost int
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		lost, err = s.tree.Detach(name)
		if err != nil {
			return err
		}
		treeServers.Set(float64(s.tree.Len()))
		log.Info(ctx, "server unlinked", j.MKV{"server": name, "lost": lost})
		return nil
	})
	return lost, err
}

// AddUsers applies client count changes reported for servers. Changes for
// servers no longer in the tree, usually lost in a split after the change was
// recorded, are skipped.
func (s *Server) AddUsers(ctx context.Context, counts ...api.UserCount) error {
	return s.do(ctx, func(ctx context.Context) error {
		for _, c := range counts {
			if _, ok := s.tree.Find(c.Server); !ok {
				usersSkipped.Inc()
				log.Info(ctx, "skipped user count for unknown server",
					j.MKV{"server": c.Server, "delta": c.Delta})
				continue
			}
			if err := s.tree.AddUsers(c.Server, c.Delta); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetRTT records the measured round trip time of a linked server.
func (s *Server) SetRTT(ctx context.Context, name string, rtt time.Duration) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.tree.SetRTT(name, rtt)
	})
}

// Snapshot exports the current tree.
func (s *Server) Snapshot(ctx context.Context) (api.GetTreeResponse, error) {
	var resp api.GetTreeResponse
	err := s.do(ctx, func(ctx context.Context) error {
		resp = api.GetTreeResponse{
			Servers: s.tree.Len(),
			Users:   s.tree.GlobalUserCount(),
			Root:    exportNode(s.tree.Root()),
		}
		return nil
	})
	return resp, err
}

func exportNode(n *topology.Node) api.TreeNode {
	ret := api.TreeNode{
		Name:     n.Name,
		ID:       n.ID,
		Users:    n.Users,
		Hidden:   n.Hidden,
		ULine:    n.ULine,
		LagMs:    n.RTT.Milliseconds(),
		LinkedAt: n.Age.Unix(),
	}
	for _, c := range n.Children() {
		ret.Children = append(ret.Children, exportNode(c))
	}
	return ret
}
