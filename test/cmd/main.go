package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree"
	"github.com/luno/spantree/api"
)

var (
	baseURL = flag.String("url", "http://localhost/spantree", "spantree server to drive")
	root    = flag.String("root", "irc.local", "name of the server behind url")
	servers = flag.Int("servers", 12, "servers to keep linked")
)

func deliverForever(ctx context.Context, c *spantree.Client) {
	for {
		err := c.Deliver(ctx)
		if errors.IsAny(err, context.Canceled) {
			return
		} else if err != nil {
			log.Error(ctx, err)
		}
		time.Sleep(time.Second)
	}
}

func main() {
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c := spantree.NewClient(
		spantree.WithBaseURL(*baseURL),
		spantree.WithFlushPeriod(time.Second),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deliverForever(ctx, c)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := simulateNetwork(ctx, c, time.Now().UnixNano())
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, err)
		}
	}()
	wg.Wait()
}

type action int

const (
	actLink action = iota
	actSplit
	actUsers
	actLag
	actMap
)

var actions = map[action]int{
	actLink:  4,
	actSplit: 1,
	actUsers: 20,
	actLag:   3,
	actMap:   2,
}

var userChange = map[int]int{
	1:  10,
	-1: 8,
	5:  2,
	-5: 1,
}

// network mirrors what the simulator has linked so far.
type network struct {
	parents map[string]string
	seq     int
}

func (n *network) randomServer(r *rand.Rand) string {
	w := map[string]int{*root: 1}
	for s := range n.parents {
		w[s] = 1
	}
	return ChooseWeighted(r, w)
}

// drop forgets name and every server linked behind it.
func (n *network) drop(name string) {
	delete(n.parents, name)
	for s, p := range n.parents {
		if p == name {
			n.drop(s)
		}
	}
}

func step(ctx context.Context, c *spantree.Client, r *rand.Rand, n *network) error {
	act := ChooseWeighted(r, actions)
	if len(n.parents) < *servers/2 {
		act = actLink
	}
	switch act {
	case actLink:
		if len(n.parents) >= *servers {
			return nil
		}
		n.seq++
		parent := n.randomServer(r)
		name := fmt.Sprintf("sim%d.net", n.seq)
		err := c.Link(ctx, api.LinkRequest{
			Parent: parent,
			Name:   name,
			ID:     fmt.Sprintf("%03X", n.seq%4096),
			Hidden: r.Intn(10) == 0,
			Users:  r.Intn(20),
			LagMs:  int64(r.Intn(200)),
		})
		if errors.Is(err, spantree.ErrConflict) {
			return nil
		} else if err != nil {
			return err
		}
		n.parents[name] = parent
	case actSplit:
		if len(n.parents) == 0 {
			return nil
		}
		name := n.randomServer(r)
		if name == *root {
			return nil
		}
		lost, err := c.Unlink(ctx, name)
		if err != nil && !errors.Is(err, spantree.ErrNotFound) {
			return err
		}
		n.drop(name)
		log.Info(ctx, "netsplit", j.MKV{"server": name, "lost": lost})
	case actUsers:
		c.Record(n.randomServer(r), ChooseWeighted(r, userChange))
	case actLag:
		name := n.randomServer(r)
		if name == *root {
			return nil
		}
		err := c.SetLag(ctx, name, time.Duration(r.Intn(300))*time.Millisecond)
		if err != nil && !errors.Is(err, spantree.ErrNotFound) {
			return err
		}
	case actMap:
		lines, err := c.Map(ctx, "sim", r.Intn(2) == 0, "")
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
	}
	return nil
}

func simulateNetwork(ctx context.Context, c *spantree.Client, seed int64) error {
	ti := time.NewTicker(100 * time.Millisecond)
	defer ti.Stop()

	r := rand.New(rand.NewSource(seed))
	n := &network{parents: make(map[string]string)}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ti.C:
			if err := step(ctx, c, r, n); err != nil {
				return err
			}
		}
	}
}
