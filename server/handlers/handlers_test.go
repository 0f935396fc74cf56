package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/ops"
	"github.com/luno/spantree/server/ops/config"
)

type deps struct {
	srv      *ops.Server
	sessions *ops.Sessions
}

func (d deps) Server() *ops.Server { return d.srv }
func (d deps) Sessions() *ops.Sessions { return d.sessions }

type noRelay struct{}

func (noRelay) Send(context.Context, string, api.Message) error {
	return ops.ErrNoRoute
}

func newTestServer(t *testing.T) *httptest.Server {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.Server = config.Server{Name: "hub.net", ID: "0HB"}
	sessions := ops.NewSessions("0HB", 300)
	srv, err := ops.NewServer(cfg, noRelay{}, sessions)
	jtest.RequireNil(t, err)
	go func() { _ = srv.Run(ctx) }()

	ts := httptest.NewServer(CreateRouter(deps{srv: srv, sessions: sessions}))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, req, resp any) int {
	b, err := json.Marshal(req)
	jtest.RequireNil(t, err)
	r, err := http.Post(ts.URL+"/spantree"+path, "application/json", bytes.NewReader(b))
	jtest.RequireNil(t, err)
	defer r.Body.Close()
	if r.StatusCode == http.StatusOK && resp != nil {
		jtest.RequireNil(t, json.NewDecoder(r.Body).Decode(resp))
	}
	return r.StatusCode
}

func TestMapHandler(t *testing.T) {
	ts := newTestServer(t)

	code := post(t, ts, "/api/link", api.LinkRequest{Name: "a.net", ID: "0AA", Users: 3}, nil)
	require.Equal(t, http.StatusOK, code)
	code = post(t, ts, "/api/users", api.SubmitUsers{Counts: []api.UserCount{{Server: "hub.net", Delta: 1}}}, nil)
	require.Equal(t, http.StatusOK, code)

	var resp api.MapResponse
	code = post(t, ts, "/api/map", api.MapRequest{Nick: "joe"}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Lines, 4)
	assert.True(t, strings.HasPrefix(resp.Lines[0], ":hub.net 006 joe :hub.net (0HB)"), resp.Lines[0])
	assert.True(t, strings.HasPrefix(resp.Lines[1], ":hub.net 006 joe :`-a.net (0AA)"), resp.Lines[1])
	assert.Equal(t, ":hub.net 270 joe :2 servers and 4 users, average 2.00 users per server", resp.Lines[2])
	assert.Equal(t, ":hub.net 007 joe :End of /MAP", resp.Lines[3])

	code = post(t, ts, "/api/map", api.MapRequest{Target: "nope*"}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{":hub.net 402 * nope* :No such server"}, resp.Lines)
}

func TestLinkErrors(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name    string
		req     api.LinkRequest
		expCode int
	}{
		{name: "ok", req: api.LinkRequest{Name: "a.net", ID: "0AA"}, expCode: http.StatusOK},
		{name: "exists", req: api.LinkRequest{Name: "A.NET", ID: "0AB"}, expCode: http.StatusConflict},
		{name: "unknown parent", req: api.LinkRequest{Parent: "x.net", Name: "b.net", ID: "0BB"}, expCode: http.StatusNotFound},
		{name: "no name", req: api.LinkRequest{ID: "0CC"}, expCode: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expCode, post(t, ts, "/api/link", tc.req, nil))
		})
	}
}

func TestUnlinkAndTree(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, post(t, ts, "/api/link", api.LinkRequest{Name: "a.net", ID: "0AA", Users: 2}, nil))
	require.Equal(t, http.StatusOK, post(t, ts, "/api/link", api.LinkRequest{Parent: "a.net", Name: "b.net", ID: "0BB", Users: 5, LagMs: 20}, nil))

	r, err := http.Get(ts.URL + "/spantree/api/tree")
	jtest.RequireNil(t, err)
	defer r.Body.Close()
	var tree api.GetTreeResponse
	jtest.RequireNil(t, json.NewDecoder(r.Body).Decode(&tree))
	assert.Equal(t, 3, tree.Servers)
	assert.Equal(t, 7, tree.Users)
	require.Len(t, tree.Root.Children, 1)
	require.Len(t, tree.Root.Children[0].Children, 1)
	assert.Equal(t, int64(20), tree.Root.Children[0].Children[0].LagMs)

	var unlinked api.UnlinkResponse
	require.Equal(t, http.StatusOK, post(t, ts, "/api/unlink", api.UnlinkRequest{Name: "a.net"}, &unlinked))
	assert.Equal(t, 2, unlinked.Lost)

	assert.Equal(t, http.StatusNotFound, post(t, ts, "/api/unlink", api.UnlinkRequest{Name: "a.net"}, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, ts, "/api/unlink", api.UnlinkRequest{Name: "hub.net"}, nil))
}

func TestBadContentType(t *testing.T) {
	ts := newTestServer(t)
	r, err := http.Post(ts.URL+"/spantree/api/map", "text/plain", strings.NewReader("{}"))
	jtest.RequireNil(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestSetLag(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, post(t, ts, "/api/link", api.LinkRequest{Name: "a.net", ID: "0AA", LagMs: 5}, nil))

	require.Equal(t, http.StatusOK, post(t, ts, "/api/lag", api.LagRequest{Name: "a.net", LagMs: 42}, nil))
	assert.Equal(t, http.StatusNotFound, post(t, ts, "/api/lag", api.LagRequest{Name: "x.net", LagMs: 1}, nil))
	assert.Equal(t, http.StatusBadRequest, post(t, ts, "/api/lag", api.LagRequest{Name: "a.net", LagMs: -1}, nil))

	var resp api.MapResponse
	require.Equal(t, http.StatusOK, post(t, ts, "/api/map", api.MapRequest{Nick: "ann", Oper: true}, &resp))
	require.Len(t, resp.Lines, 4)
	assert.Contains(t, resp.Lines[1], "Lag: 42ms]")
}

func TestSubmitUsersUnknownServer(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, post(t, ts, "/api/link", api.LinkRequest{Name: "a.net", ID: "0AA"}, nil))

	code := post(t, ts, "/api/users", api.SubmitUsers{Counts: []api.UserCount{
		{Server: "a.net", Delta: 5},
		{Server: "gone.net", Delta: 1},
		{Server: "hub.net", Delta: 7},
	}}, nil)
	require.Equal(t, http.StatusOK, code)

	r, err := http.Get(ts.URL + "/spantree/api/tree")
	jtest.RequireNil(t, err)
	defer r.Body.Close()
	var tree api.GetTreeResponse
	jtest.RequireNil(t, json.NewDecoder(r.Body).Decode(&tree))
	assert.Equal(t, 12, tree.Users)
	assert.Equal(t, 7, tree.Root.Users)
}
