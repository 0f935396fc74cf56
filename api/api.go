package api

// Requester identifies the user a topology query runs for. Server is the
// server the user is attached to and is where replies are routed back to.
type Requester struct {
	UID    string `json:"uid"`
	Nick   string `json:"nick"`
	Server string `json:"server"`
	Oper   bool   `json:"oper"`
}

type MessageKind string

const (
	KindQuery MessageKind = "QUERY"
	KindPush  MessageKind = "PUSH"
)

// Message is relayed between linked servers one hop at a time until it
// reaches Dest.
type Message struct {
	Kind      MessageKind `json:"kind"`
	Source    string      `json:"source"`
	Dest      string      `json:"dest"`
	Requester Requester   `json:"requester"`

	// TTL is the number of further hops the message may take.
	TTL int `json:"ttl"`

	// Target is the server a QUERY asks to render.
	Target string `json:"target,omitempty"`
	// Line is the reply text a PUSH carries to the requester.
	Line string `json:"line,omitempty"`
}

type Ack struct{}

type MapRequest struct {
	Nick   string `json:"nick"`
	Oper   bool   `json:"oper"`
	Target string `json:"target"`
}

type MapResponse struct {
	Lines []string `json:"lines"`
}

type LinkRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
	ID     string `json:"id"`
	Hidden bool   `json:"hidden"`
	Users  int    `json:"users"`
	LagMs  int64  `json:"lag_ms"`
}

type UnlinkRequest struct {
	Name string `json:"name"`
}

type UnlinkResponse struct {
	Lost int `json:"lost"`
}

// LagRequest records a fresh round trip measurement for a linked server.
type LagRequest struct {
	Name  string `json:"name"`
	LagMs int64  `json:"lag_ms"`
}

type UserCount struct {
	Server string `json:"server"`
	Delta  int    `json:"delta"`
}

type SubmitUsers struct {
	Counts []UserCount `json:"counts"`
}

type TreeNode struct {
	Name     string     `json:"name"`
	ID       string     `json:"id"`
	Users    int        `json:"users"`
	Hidden   bool       `json:"hidden"`
	ULine    bool       `json:"uline"`
	LagMs    int64      `json:"lag_ms"`
	LinkedAt int64      `json:"linked_at"`
	Children []TreeNode `json:"children,omitempty"`
}

type GetTreeResponse struct {
	Servers int      `json:"servers"`
	Users   int      `json:"users"`
	Root    TreeNode `json:"root"`
}
