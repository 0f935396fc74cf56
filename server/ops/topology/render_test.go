package topology

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var renderTime = linkTime.Add(90 * time.Second)

func testRenderer(p Policy) Renderer {
	return Renderer{
		Rows:   250,
		Width:  250,
		Policy: p,
		Now:    func() time.Time { return renderTime },
	}
}

func pad(n int) string {
	return strings.Repeat(" ", n)
}

func TestRenderPrivileged(t *testing.T) {
	tr := scenarioTree(t)
	jtest.RequireNil(t, tr.SetRTT("a.net", 12*time.Millisecond))

	res := testRenderer(Policy{}).Render(tr, Viewer{Local: true, Privileged: true})

	exp := []string{
		"r.net (0RR)" + pad(75) + "    5 [45.45%] [Up: 1m30s Lag: <1ms]",
		"|-a.net (0AA)" + pad(73) + "    3 [27.27%] [Up: 1m30s Lag: 12ms]",
		"| `-c.net (0CC)" + pad(71) + "    2 [18.18%] [Up: 1m30s Lag: <1ms]",
		"`-b.net (0BB)" + pad(73) + "    1 [ 9.09%] [Up: 1m30s Lag: <1ms]",
	}
	assert.Equal(t, exp, res.Rows)
	assert.Equal(t, 4, res.Servers)
	assert.Equal(t, 11, res.Users)
	assert.InDelta(t, 2.75, res.Average(), 1e-9)
	assert.False(t, res.Truncated)
	assert.Equal(t, "4 servers and 11 users, average 2.75 users per server", res.Summary())
}

func TestRenderFlatLinks(t *testing.T) {
	tr := scenarioTree(t)

	res := testRenderer(Policy{FlatLinks: true}).Render(tr, Viewer{Local: true})

	require.Len(t, res.Rows, 4)
	for i, name := range []string{"r.net", "a.net", "c.net", "b.net"} {
		assert.True(t, strings.HasPrefix(res.Rows[i], name+" ("), res.Rows[i])
		assert.NotContains(t, res.Rows[i], "[Up:")
		assert.NotContains(t, res.Rows[i], "Lag:")
	}
	assert.Equal(t, "a.net (0AA)"+pad(75)+"    3 [27.27%]", res.Rows[1])
	assert.Equal(t, 11, res.Users)
	assert.Equal(t, 4, res.Servers)
}

func TestRenderFlatLinksIgnoredForPrivileged(t *testing.T) {
	tr := scenarioTree(t)

	res := testRenderer(Policy{FlatLinks: true}).Render(tr, Viewer{Privileged: true})

	require.Len(t, res.Rows, 4)
	assert.True(t, strings.HasPrefix(res.Rows[2], "| `-c.net"), res.Rows[2])
}

func TestRenderVisibility(t *testing.T) {
	testCases := []struct {
		name       string
		policy     Policy
		hidden     string
		uline      string
		privileged bool
		expShown   []string
		expUsers   int
	}{
		{
			name:     "hidden subtree dropped",
			hidden:   "a.net",
			expShown: []string{"r.net", "b.net"},
			expUsers: 6,
		},
		{
			name:       "hidden shown to privileged",
			hidden:     "a.net",
			privileged: true,
			expShown:   []string{"r.net", "a.net", "c.net", "b.net"},
			expUsers:   11,
		},
		{
			name:     "uline visible without hide option",
			uline:    "b.net",
			expShown: []string{"r.net", "a.net", "c.net", "b.net"},
			expUsers: 11,
		},
		{
			name:     "uline hidden with hide option",
			policy:   Policy{HideULines: true},
			uline:    "c.net",
			expShown: []string{"r.net", "a.net", "b.net"},
			expUsers: 9,
		},
		{
			name:       "uline shown to privileged",
			policy:     Policy{HideULines: true},
			uline:      "c.net",
			privileged: true,
			expShown:   []string{"r.net", "a.net", "c.net", "b.net"},
			expUsers:   11,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := scenarioTree(t)
			if tc.hidden != "" {
				n, _ := tr.Find(tc.hidden)
				n.Hidden = true
			}
			if tc.uline != "" {
				n, _ := tr.Find(tc.uline)
				n.ULine = true
			}

			res := testRenderer(tc.policy).Render(tr, Viewer{Privileged: tc.privileged})

			var shown []string
			for _, row := range res.Rows {
				for _, name := range []string{"r.net", "a.net", "b.net", "c.net"} {
					if strings.Contains(row, name+" (") {
						shown = append(shown, name)
					}
				}
			}
			assert.Equal(t, tc.expShown, shown)
			assert.Equal(t, len(tc.expShown), res.Servers)
			assert.Equal(t, tc.expUsers, res.Users)
		})
	}
}

func TestRenderPercentUsesNetworkTotal(t *testing.T) {
	tr := scenarioTree(t)
	a, _ := tr.Find("a.net")
	a.Hidden = true

	res := testRenderer(Policy{}).Render(tr, Viewer{})

	// b.net holds 1 of the 11 known users even though only 6 are shown.
	require.Len(t, res.Rows, 2)
	assert.True(t, strings.HasSuffix(res.Rows[1], "    1 [ 9.09%]"), res.Rows[1])
}

func TestRenderNoUsers(t *testing.T) {
	tr, err := NewTree(NodeInfo{Name: "r.net", ID: "0RR"})
	jtest.RequireNil(t, err)

	res := testRenderer(Policy{}).Render(tr, Viewer{})

	require.Len(t, res.Rows, 1)
	assert.True(t, strings.HasSuffix(res.Rows[0], "    0 [ 0.00%]"), res.Rows[0])
	assert.Equal(t, "1 server and 0 user, average 0.00 users per server", res.Summary())
}

func TestRenderRowCap(t *testing.T) {
	tr, err := NewTree(NodeInfo{Name: "hub.net", ID: "0HB", Users: 1})
	jtest.RequireNil(t, err)
	for i := 0; i < 10; i++ {
		_, err := tr.Attach("hub.net", NodeInfo{
			Name:  fmt.Sprintf("leaf%d.net", i),
			ID:    fmt.Sprintf("L%d", i),
			Users: i + 1,
		})
		jtest.RequireNil(t, err)
	}

	r := testRenderer(Policy{})
	r.Rows = 4
	res := r.Render(tr, Viewer{})

	assert.Len(t, res.Rows, 4)
	assert.True(t, res.Truncated)
	assert.Equal(t, 4, res.Servers)
	// hub plus leaf0..leaf2
	assert.Equal(t, 1+1+2+3, res.Users)

	r.Rows = 11
	res = r.Render(tr, Viewer{})
	assert.Len(t, res.Rows, 11)
	assert.False(t, res.Truncated)
}

func TestRenderZeroServers(t *testing.T) {
	tr := scenarioTree(t)

	r := testRenderer(Policy{})
	r.Rows = 0
	res := r.Render(tr, Viewer{})

	assert.Empty(t, res.Rows)
	assert.Equal(t, 0, res.Servers)
	assert.Equal(t, float64(0), res.Average())
	assert.Equal(t, "0 server and 0 user, average 0.00 users per server", res.Summary())
}

func TestRenderClipsToWidth(t *testing.T) {
	tr := scenarioTree(t)

	r := testRenderer(Policy{})
	r.Width = 20
	res := r.Render(tr, Viewer{Privileged: true})

	require.Len(t, res.Rows, 4)
	for _, row := range res.Rows {
		assert.LessOrEqual(t, len(row), 19)
	}
	assert.Equal(t, "r.net (0RR)"+pad(8), res.Rows[0])
	assert.Equal(t, "|-a.net (0AA)"+pad(6), res.Rows[1])
}

func TestRenderRootHasNoConnector(t *testing.T) {
	tr := scenarioTree(t)
	res := testRenderer(Policy{}).Render(tr, Viewer{})
	require.NotEmpty(t, res.Rows)
	assert.True(t, strings.HasPrefix(res.Rows[0], "r.net (0RR)"))
}

func TestRenderBranches(t *testing.T) {
	// hub
	// |-a
	// | |-a1
	// | `-a2
	// `-b
	//   `-b1
	tr, err := NewTree(NodeInfo{Name: "hub", ID: "0HB"})
	jtest.RequireNil(t, err)
	links := [][3]string{
		{"hub", "a", "0A"}, {"a", "a1", "1A"}, {"a", "a2", "2A"},
		{"hub", "b", "0B"}, {"b", "b1", "1B"},
	}
	for _, l := range links {
		_, err := tr.Attach(l[0], NodeInfo{Name: l[1], ID: l[2]})
		jtest.RequireNil(t, err)
	}

	res := testRenderer(Policy{}).Render(tr, Viewer{})

	var heads []string
	for _, row := range res.Rows {
		heads = append(heads, row[:strings.Index(row, " (")])
	}
	assert.Equal(t, []string{
		"hub",
		"|-a",
		"| |-a1",
		"| `-a2",
		"`-b",
		"  `-b1",
	}, heads)
}

func TestRenderIsolated(t *testing.T) {
	tr := scenarioTree(t)
	r := testRenderer(Policy{})

	first := r.Render(tr, Viewer{Privileged: true})
	second := r.Render(tr, Viewer{})

	assert.Len(t, first.Rows, 4)
	assert.Len(t, second.Rows, 4)
	assert.Contains(t, first.Rows[0], "[Up:")
	assert.NotContains(t, second.Rows[0], "[Up:")
	assert.Equal(t, first.Users, second.Users)
}

func TestUptime(t *testing.T) {
	testCases := []struct {
		d   time.Duration
		exp string
	}{
		{d: 0, exp: "0s"},
		{d: -time.Minute, exp: "0s"},
		{d: 59 * time.Second, exp: "59s"},
		{d: 90 * time.Second, exp: "1m30s"},
		{d: time.Hour, exp: "1h0s"},
		{d: 26*time.Hour + 5*time.Second, exp: "1d2h5s"},
		{d: 49*time.Hour + 3*time.Minute + 4*time.Second, exp: "2d1h3m4s"},
	}
	for _, tc := range testCases {
		t.Run(tc.exp, func(t *testing.T) {
			assert.Equal(t, tc.exp, Uptime(tc.d))
		})
	}
}
