package topology

import (
	"fmt"
	"strconv"
	"time"
)

const labelWidth = 80

type Renderer struct {
	Rows   int
	Width  int
	Policy Policy
	Now    func() time.Time
}

// Result is one finished render. Rows are ready to send, one per line.
type Result struct {
	Rows      []string
	Users     int
	Servers   int
	Truncated bool
}

// Average is the mean number of users per rendered server, zero when nothing
// was rendered.
func (r Result) Average() float64 {
	if r.Servers == 0 {
		return 0
	}
	return float64(r.Users) / float64(r.Servers)
}

// Summary is the text of the closing statistics line.
func (r Result) Summary() string {
	return fmt.Sprintf("%d %s and %d %s, average %.2f users per server",
		r.Servers, plural(r.Servers, "server"),
		r.Users, plural(r.Users, "user"),
		r.Average())
}

func plural(n int, word string) string {
	if n > 1 {
		return word + "s"
	}
	return word
}

type render struct {
	tree   *Tree
	viewer Viewer
	policy Policy
	now    time.Time
	canvas *canvas
	res    Result
}

// Render draws the tree as seen by v. All state lives in the call, so
// renders never share a canvas.
func (r Renderer) Render(t *Tree, v Viewer) Result {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	st := &render{
		tree:   t,
		viewer: v,
		policy: r.Policy,
		now:    now(),
		canvas: newCanvas(r.Rows, r.Width),
	}
	st.subtree(t.Root(), 0)
	st.canvas.connect()
	st.res.Rows = st.canvas.rows()
	return st.res
}

func (st *render) subtree(n *Node, depth int) {
	if st.canvas.full() {
		st.res.Truncated = true
		return
	}
	st.canvas.write(depth, st.label(n, depth))
	st.res.Users += n.Users
	st.res.Servers++

	for _, c := range st.tree.Children(n) {
		if st.policy.Suppressed(c, st.viewer) {
			continue
		}
		st.subtree(c, st.policy.ChildDepth(depth, st.viewer))
	}
}

func (st *render) label(n *Node, depth int) string {
	pad := labelWidth - len(n.Name) - depth
	if pad <= 1 {
		pad = 5
	}
	var percent float64
	if total := st.tree.GlobalUserCount(); total > 0 {
		percent = float64(n.Users) / float64(total) * 100
	}
	var extra string
	if st.viewer.Privileged {
		extra = operInfo(n, st.now)
	}
	return fmt.Sprintf("%s (%s)%s%5d [%5.2f%%]%s",
		n.Name, n.ID, string(spaces(pad)), n.Users, percent, extra)
}

func operInfo(n *Node, now time.Time) string {
	lag := "<1"
	if ms := n.RTT.Milliseconds(); ms > 0 {
		lag = strconv.FormatInt(ms, 10)
	}
	return " [Up: " + Uptime(now.Sub(n.Age)) + " Lag: " + lag + "ms]"
}

// Uptime formats d as days, hours, minutes and seconds. Zero units other than
// seconds are left out.
func Uptime(d time.Duration) string {
	secs := int64(max(d, 0) / time.Second)
	mins := secs / 60
	hours := mins / 60
	days := hours / 24
	secs, mins, hours = secs%60, mins%60, hours%24

	var s string
	if days > 0 {
		s += strconv.FormatInt(days, 10) + "d"
	}
	if hours > 0 {
		s += strconv.FormatInt(hours, 10) + "h"
	}
	if mins > 0 {
		s += strconv.FormatInt(mins, 10) + "m"
	}
	return s + strconv.FormatInt(secs, 10) + "s"
}
