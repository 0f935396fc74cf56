package topology

import (
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/spantree/server/ops/config"
)

var (
	ErrServerExists  = errors.New("server already linked", j.C("ERR_5d0c41f7a2b39e18"))
	ErrDuplicateID   = errors.New("server id already in use", j.C("ERR_c1a8e03d5f7b2946"))
	ErrInvalidID     = errors.New("server id must be 1 to 3 characters", j.C("ERR_8e27b6d4f0c1a593"))
	ErrUnknownServer = errors.New("unknown server", j.C("ERR_f3b90a61c8d2e74b"))
	ErrUnknownParent = errors.New("unknown parent server", j.C("ERR_2a6d7c93e1f05b8d"))
	ErrRootDetach    = errors.New("cannot unlink the local server", j.C("ERR_9b4e15a2d73c08f6"))
)

// NodeInfo describes a server being linked into the tree.
type NodeInfo struct {
	Name   string
	ID     string
	Users  int
	Hidden bool
	ULine  bool
	Age    time.Time
}

type Node struct {
	Name   string
	ID     string
	Users  int
	RTT    time.Duration
	Hidden bool
	ULine  bool
	Age    time.Time

	parent   *Node
	children []*Node
}

// Parent returns the server this one is linked through, nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the directly linked servers in link order.
func (n *Node) Children() []*Node {
	return n.children
}

func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Tree is the local view of the server network, rooted at the local server.
// It is not safe for concurrent use; callers serialise access through the
// daemon loop.
type Tree struct {
	root    *Node
	byName  map[string]*Node
	byID    map[string]*Node
	clients int
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

func validID(id string) bool {
	return len(id) >= 1 && len(id) <= 3
}

func NewTree(local NodeInfo) (*Tree, error) {
	if !validID(local.ID) {
		return nil, errors.Wrap(ErrInvalidID, "", j.KV("id", local.ID))
	}
	root := newNode(local)
	t := &Tree{
		root:    root,
		byName:  map[string]*Node{nameKey(root.Name): root},
		byID:    map[string]*Node{root.ID: root},
		clients: root.Users,
	}
	return t, nil
}

func newNode(info NodeInfo) *Node {
	return &Node{
		Name:   info.Name,
		ID:     info.ID,
		Users:  max(info.Users, 0),
		Hidden: info.Hidden,
		ULine:  info.ULine,
		Age:    info.Age,
	}
}

func (t *Tree) Root() *Node {
	return t.root
}

func (t *Tree) Children(n *Node) []*Node {
	return n.children
}

// GlobalUserCount is the number of clients known across the whole network.
func (t *Tree) GlobalUserCount() int {
	return t.clients
}

// Len returns the number of live servers including the local one.
func (t *Tree) Len() int {
	return len(t.byName)
}

func (t *Tree) Find(name string) (*Node, bool) {
	n, ok := t.byName[nameKey(name)]
	return n, ok
}

// FindByMask returns the first server, in link order, whose name matches
// the glob mask.
func (t *Tree) FindByMask(mask string) (*Node, bool) {
	if n, ok := t.Find(mask); ok {
		return n, true
	}
	var found *Node
	t.Walk(func(n *Node, _ int) bool {
		if config.MatchMask(mask, n.Name) {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// Walk visits every server in pre-order, children in link order. Returning
// false from fn stops the walk.
func (t *Tree) Walk(fn func(n *Node, level int) bool) {
	walk(t.root, 0, fn)
}

func walk(n *Node, level int, fn func(*Node, int) bool) bool {
	if !fn(n, level) {
		return false
	}
	for _, c := range n.children {
		if !walk(c, level+1, fn) {
			return false
		}
	}
	return true
}

// NextHop returns the directly linked server through which name is reached.
// The local server is its own next hop.
func (t *Tree) NextHop(name string) (*Node, error) {
	n, ok := t.Find(name)
	if !ok {
		return nil, errors.Wrap(ErrUnknownServer, "", j.KV("server", name))
	}
	if n.IsRoot() {
		return n, nil
	}
	for !n.parent.IsRoot() {
		n = n.parent
	}
	return n, nil
}

// Attach links a new server below parent.
func (t *Tree) Attach(parent string, info NodeInfo) (*Node, error) {
	p, ok := t.Find(parent)
	if !ok {
		return nil, errors.Wrap(ErrUnknownParent, "", j.KV("parent", parent))
	}
	if _, exists := t.Find(info.Name); exists {
		return nil, errors.Wrap(ErrServerExists, "", j.KV("server", info.Name))
	}
	if !validID(info.ID) {
		return nil, errors.Wrap(ErrInvalidID, "", j.KV("id", info.ID))
	}
	if _, exists := t.byID[info.ID]; exists {
		return nil, errors.Wrap(ErrDuplicateID, "", j.KV("id", info.ID))
	}
	n := newNode(info)
	n.parent = p
	p.children = append(p.children, n)
	t.byName[nameKey(n.Name)] = n
	t.byID[n.ID] = n
	t.clients += n.Users
	return n, nil
}

// Detach removes a server and everything linked behind it, returning the
// number of servers lost.
func (t *Tree) Detach(name string) (int, error) {
	n, ok := t.Find(name)
	if !ok {
		return 0, errors.Wrap(ErrUnknownServer, "", j.KV("server", name))
	}
	if n.IsRoot() {
		return 0, ErrRootDetach
	}
	p := n.parent
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i:i], p.children[i+1:]...)
			break
		}
	}
	var lost int
	walk(n, 0, func(d *Node, _ int) bool {
		delete(t.byName, nameKey(d.Name))
		delete(t.byID, d.ID)
		t.clients -= d.Users
		lost++
		return true
	})
	n.parent = nil
	n.children = nil
	return lost, nil
}

// SetUsers replaces the client count of a server.
func (t *Tree) SetUsers(name string, users int) error {
	n, ok := t.Find(name)
	if !ok {
		return errors.Wrap(ErrUnknownServer, "", j.KV("server", name))
	}
	users = max(users, 0)
	t.clients += users - n.Users
	n.Users = users
	return nil
}

// AddUsers applies a client count delta to a server, clamping at zero.
func (t *Tree) AddUsers(name string, delta int) error {
	n, ok := t.Find(name)
	if !ok {
		return errors.Wrap(ErrUnknownServer, "", j.KV("server", name))
	}
	return t.SetUsers(name, n.Users+delta)
}

func (t *Tree) SetRTT(name string, rtt time.Duration) error {
	n, ok := t.Find(name)
	if !ok {
		return errors.Wrap(ErrUnknownServer, "", j.KV("server", name))
	}
	n.RTT = rtt
	return nil
}
