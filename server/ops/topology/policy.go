package topology

// Viewer is who a topology render is produced for.
type Viewer struct {
	Local      bool
	Privileged bool
}

// Policy decides what an unprivileged viewer is allowed to see.
type Policy struct {
	HideULines bool
	FlatLinks  bool
}

// Suppressed reports whether n and everything behind it is left out of a
// render for v.
func (p Policy) Suppressed(n *Node, v Viewer) bool {
	if v.Privileged {
		return false
	}
	return n.Hidden || (n.ULine && p.HideULines)
}

// ChildDepth is the column children of a server at depth are drawn at.
func (p Policy) ChildDepth(depth int, v Viewer) int {
	if p.FlatLinks && !v.Privileged {
		return depth
	}
	return depth + 2
}
