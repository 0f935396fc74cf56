package link

import (
	"context"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/ops"
	"github.com/luno/spantree/server/ops/config"
)

// Client holds a connection to each directly linked peer.
type Client struct {
	conns map[string]*grpc.ClientConn
}

// Dial prepares connections to peers. Connections are made lazily by grpc.
func Dial(peers []config.Peer, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(clientReporter),
	}, opts...)

	c := &Client{conns: make(map[string]*grpc.ClientConn)}
	for _, p := range peers {
		cc, err := grpc.NewClient(p.Address, opts...)
		if err != nil {
			_ = c.Close()
			return nil, errors.Wrap(err, "dial peer", j.MKV{"peer": p.Name, "address": p.Address})
		}
		c.conns[strings.ToLower(p.Name)] = cc
	}
	return c, nil
}

// Send relays m to the peer named hop and waits for it to be accepted.
func (c *Client) Send(ctx context.Context, hop string, m api.Message) error {
	cc, ok := c.conns[strings.ToLower(hop)]
	if !ok {
		return errors.Wrap(ops.ErrNoRoute, "peer not configured", j.KV("hop", hop))
	}
	err := cc.Invoke(ctx, relayMethod, &m, &api.Ack{}, grpc.ForceCodec(codec{}))
	return errors.Wrap(err, "relay", j.KV("hop", hop))
}

func (c *Client) Close() error {
	var first error
	for _, cc := range c.conns {
		if err := cc.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
