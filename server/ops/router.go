package ops

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/ops/topology"
)

// MaxHops is the TTL a relayed message starts with.
const MaxHops = 32

// handleTopologyQuery answers a query locally or passes it one hop toward
// the server named by mask. Must run on the loop.
func (s *Server) handleTopologyQuery(ctx context.Context, req api.Requester, mask string) error {
	if mask != "" {
		n, ok := s.tree.FindByMask(mask)
		if !ok {
			queryCount.WithLabelValues(resultNoSuchServer).Inc()
			return s.deliver(ctx, req, []string{noSuchServer(s.Name(), req.Nick, mask)})
		}
		if !n.IsRoot() {
			queryCount.WithLabelValues(resultForwarded).Inc()
			return s.forward(ctx, api.Message{
				Kind:      api.KindQuery,
				Source:    s.Name(),
				Dest:      n.Name,
				Requester: req,
				Target:    n.Name,
				TTL:       MaxHops,
			})
		}
	}

	v := topology.Viewer{Local: s.isLocal(req.Server), Privileged: req.Oper}
	res := s.renderer.Render(s.tree, v)

	queryCount.WithLabelValues(resultLocal).Inc()
	renderRows.Observe(float64(len(res.Rows)))
	if res.Truncated {
		renderTruncated.Inc()
		log.Info(ctx, "topology render truncated", j.MKV{
			"rows":    len(res.Rows),
			"servers": s.tree.Len(),
		})
	}

	lines := make([]string, 0, len(res.Rows)+2)
	for _, row := range res.Rows {
		lines = append(lines, numeric(s.Name(), RplMap, req.Nick, row))
	}
	lines = append(lines,
		numeric(s.Name(), RplMapUsers, req.Nick, res.Summary()),
		numeric(s.Name(), RplEndMap, req.Nick, "End of /MAP"),
	)
	return s.deliver(ctx, req, lines)
}

// deliver sends reply lines to req, writing them directly for local users
// and relaying them in order toward the requester's server otherwise.
func (s *Server) deliver(ctx context.Context, req api.Requester, lines []string) error {
	if s.isLocal(req.Server) {
		for _, l := range lines {
			if err := s.sink.WriteLine(ctx, req.UID, l); err != nil {
				return err
			}
		}
		return nil
	}
	for _, l := range lines {
		err := s.forward(ctx, api.Message{
			Kind:      api.KindPush,
			Source:    s.Name(),
			Dest:      req.Server,
			Requester: req,
			Line:      l,
			TTL:       MaxHops,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// forward sends m to the linked server on the path toward m.Dest, spending
// one hop of its TTL.
func (s *Server) forward(ctx context.Context, m api.Message) error {
	hop, err := s.tree.NextHop(m.Dest)
	if errors.Is(err, topology.ErrUnknownServer) {
		relayCount.WithLabelValues(string(m.Kind), relayDropped).Inc()
		return errors.Wrap(ErrNoRoute, "", j.MKV{"dest": m.Dest, "kind": m.Kind})
	} else if err != nil {
		return err
	}
	if hop.IsRoot() {
		return errors.Wrap(ErrNoRoute, "destination is local", j.KV("dest", m.Dest))
	}
	if m.TTL <= 0 {
		relayCount.WithLabelValues(string(m.Kind), relayDropped).Inc()
		return errors.Wrap(ErrHopLimit, "", j.MKV{"dest": m.Dest, "source": m.Source})
	}
	m.TTL--
	return s.relay.Send(ctx, hop.Name, m)
}

// handleMessage acts on a relayed message: pass it on, answer a query, or
// hand a reply line to a local user. Must run on the loop.
func (s *Server) handleMessage(ctx context.Context, m api.Message) error {
	if !s.isLocal(m.Dest) {
		return s.forward(ctx, m)
	}
	switch m.Kind {
	case api.KindQuery:
		return s.handleTopologyQuery(ctx, m.Requester, m.Target)
	case api.KindPush:
		err := s.sink.WriteLine(ctx, m.Requester.UID, m.Line)
		if errors.Is(err, ErrNoSession) {
			relayCount.WithLabelValues(string(m.Kind), relayDropped).Inc()
			log.Info(ctx, "dropped reply for departed user", j.KV("uid", m.Requester.UID))
			return nil
		} else if err != nil {
			return err
		}
		relayCount.WithLabelValues(string(m.Kind), relayDelivered).Inc()
		return nil
	default:
		return errors.New("unknown message kind", j.KV("kind", m.Kind))
	}
}
